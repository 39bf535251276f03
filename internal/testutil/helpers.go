// Package testutil provides helpers shared by the server's WebSocket and
// HTTP tests.
//
// It wraps dialing, frame encoding and deadline-bounded reads so that each
// test reads as a sequence of protocol steps rather than socket plumbing.
package testutil

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:20200"

// ReadTimeout bounds every ReadFrame call.
const ReadTimeout = 2 * time.Second

// Frame is a decoded outbound envelope.
type Frame struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v and fails the test on error.
func (f Frame) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Payload, v); err != nil {
		t.Fatalf("Failed to decode %s payload %s: %v", f.Action, f.Payload, err)
	}
}

// WebSocketURL rewrites an httptest server URL to its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with the test Origin header.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)
	return DialWithHeaders(url, headers)
}

// DialWithHeaders dials url with the given handshake headers.
func DialWithHeaders(url string, headers http.Header) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials url and registers the connection for cleanup.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendAction writes an {action, payload} envelope as a text frame.
func SendAction(t *testing.T, conn *websocket.Conn, action string, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"action": action, "payload": payload})
	if err != nil {
		t.Fatalf("Failed to marshal %s: %v", action, err)
	}
	SendRaw(t, conn, websocket.TextMessage, data)
}

// SendRaw writes data as a frame of the given type.
func SendRaw(t *testing.T, conn *websocket.Conn, messageType int, data []byte) {
	t.Helper()
	if err := conn.WriteMessage(messageType, data); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

// ReadFrame reads and decodes the next frame, failing after ReadTimeout.
func ReadFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("Failed to decode frame %s: %v", data, err)
	}
	return f
}

// ExpectFrame reads the next frame and checks its action.
func ExpectFrame(t *testing.T, conn *websocket.Conn, action string) Frame {
	t.Helper()
	f := ReadFrame(t, conn)
	if f.Action != action {
		t.Fatalf("Expected %s frame, got %s %s", action, f.Action, f.Payload)
	}
	return f
}

// ExpectError reads the next frame and checks it is an error with reason.
func ExpectError(t *testing.T, conn *websocket.Conn, reason string) {
	t.Helper()
	f := ExpectFrame(t, conn, "error")
	var p struct {
		Reason string `json:"reason"`
	}
	f.Decode(t, &p)
	if p.Reason != reason {
		t.Fatalf("Expected error reason %q, got %q", reason, p.Reason)
	}
}

// ExpectNoFrame fails if any frame arrives within wait. The connection
// cannot be read again after a timed-out read, so call it last.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no frame, got %s", data)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Expected read timeout, got %v", err)
	}
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	if got := resp.Header.Get("Content-Type"); got != expected {
		t.Errorf("Expected content type %s, got %s", expected, got)
	}
}

// MakeRequest creates and executes an HTTP request with a 5-second timeout.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}
