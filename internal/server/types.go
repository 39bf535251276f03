// Package server defines shared types and utility helpers that are reused
// across client and hub logic.
package server

import (
	"strings"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// inboundFrame is one frame read from a client, on its way to the hub.
// A non-nil refusal means the frame is answered with that error instead of
// being routed.
type inboundFrame struct {
	client  *Client
	data    []byte
	refusal *protocol.Error
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
