// Package server implements the WebSocket transport and HTTP surface of the
// room chat service.
//
// A single Hub goroutine owns the router and therefore all session state.
// Each connection runs a read pump that feeds frames to the hub and a write
// pump that drains the connection's bounded outbound queue. A connection
// whose queue is full is disconnected rather than allowed to stall the hub.
package server
