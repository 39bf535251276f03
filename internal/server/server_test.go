package server_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/testutil"
)

type testServer struct {
	srv   *server.Server
	http  *httptest.Server
	wsURL string
}

func newTestServer(t *testing.T, mutate func(*server.Config)) *testServer {
	t.Helper()
	cfg := server.NewConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	srv := server.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.StartHub()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Hub().Shutdown(2 * time.Second) })

	return &testServer{srv: srv, http: ts, wsURL: testutil.WebSocketURL(ts.URL)}
}

// identified connects and identifies as name, consuming the roomsList reply.
func (ts *testServer) identified(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	conn := testutil.MustConnect(t, ts.wsURL)
	testutil.SendAction(t, conn, "identify", map[string]string{"username": name})
	testutil.ExpectFrame(t, conn, "roomsList")
	return conn
}

type roomsPayload struct {
	Rooms map[string]int `json:"rooms"`
}

type messagePayload struct {
	From    string `json:"from"`
	Room    string `json:"room"`
	Message string `json:"message"`
}

func expectRoomCount(t *testing.T, conn *websocket.Conn, room string, want int) {
	t.Helper()
	var p roomsPayload
	testutil.ExpectFrame(t, conn, "roomsList").Decode(t, &p)
	if got, ok := p.Rooms[room]; !ok || got != want {
		t.Fatalf("Expected %s to have %d members, got %v", room, want, p.Rooms)
	}
}

func expectMessage(t *testing.T, conn *websocket.Conn, want messagePayload) {
	t.Helper()
	var p messagePayload
	testutil.ExpectFrame(t, conn, "message").Decode(t, &p)
	if p != want {
		t.Fatalf("Expected message %+v, got %+v", want, p)
	}
}

// TestRoomConversation tests the full create, join, message and leave flow
// between two clients.
func TestRoomConversation(t *testing.T) {
	ts := newTestServer(t, nil)

	alice := ts.identified(t, "alice")
	testutil.SendAction(t, alice, "createRoom", map[string]string{"room": "general"})
	expectRoomCount(t, alice, "general", 1)

	bob := ts.identified(t, "bob")
	testutil.SendAction(t, bob, "joinRoom", map[string]string{"room": "general"})
	testutil.ExpectFrame(t, bob, "joined")
	expectRoomCount(t, bob, "general", 2)
	expectRoomCount(t, alice, "general", 2)

	testutil.SendAction(t, alice, "sendMessage", map[string]string{"room": "general", "message": "hi"})
	hi := messagePayload{From: "alice", Room: "general", Message: "hi"}
	expectMessage(t, alice, hi)
	expectMessage(t, bob, hi)

	testutil.SendAction(t, bob, "leaveRoom", map[string]string{"room": "general"})
	testutil.ExpectFrame(t, bob, "left")
	expectRoomCount(t, bob, "general", 1)
	expectRoomCount(t, alice, "general", 1)

	testutil.SendAction(t, alice, "sendMessage", map[string]string{"room": "general", "message": "still here?"})
	expectMessage(t, alice, messagePayload{From: "alice", Room: "general", Message: "still here?"})
	testutil.ExpectNoFrame(t, bob, 200*time.Millisecond)
}

// TestConcurrentSenders tests that messages sent concurrently by many
// members reach every member, each sender's messages in order.
func TestConcurrentSenders(t *testing.T) {
	const (
		numClients = 5
		perClient  = 3
	)
	ts := newTestServer(t, nil)

	conns := make([]*websocket.Conn, numClients)
	for i := range conns {
		conns[i] = ts.identified(t, fmt.Sprintf("user%d", i))
		if i == 0 {
			testutil.SendAction(t, conns[i], "createRoom", map[string]string{"room": "general"})
			testutil.ExpectFrame(t, conns[i], "roomsList")
			continue
		}
		testutil.SendAction(t, conns[i], "joinRoom", map[string]string{"room": "general"})
		testutil.ExpectFrame(t, conns[i], "joined")
	}

	var wg sync.WaitGroup
	errs := make(chan error, numClients)
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			for n := 0; n < perClient; n++ {
				frame := map[string]any{
					"action":  "sendMessage",
					"payload": map[string]string{"room": "general", "message": fmt.Sprintf("%d", n)},
				}
				if err := conn.WriteJSON(frame); err != nil {
					errs <- fmt.Errorf("client %d: %w", i, err)
					return
				}
			}
		}(i, conn)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	for i, conn := range conns {
		next := make(map[string]int)
		for received := 0; received < numClients*perClient; {
			f := testutil.ReadFrame(t, conn)
			if f.Action != "message" {
				continue
			}
			var p messagePayload
			f.Decode(t, &p)
			if want := fmt.Sprintf("%d", next[p.From]); p.Message != want {
				t.Fatalf("Client %d got message %q from %s, want %q", i, p.Message, p.From, want)
			}
			next[p.From]++
			received++
		}
		if len(next) != numClients {
			t.Errorf("Client %d heard from %d senders, want %d", i, len(next), numClients)
		}
	}
}

// TestDisconnectUpdatesRooms tests that a dropped connection leaves its
// rooms and the survivors see the new counts.
func TestDisconnectUpdatesRooms(t *testing.T) {
	ts := newTestServer(t, nil)

	alice := ts.identified(t, "alice")
	testutil.SendAction(t, alice, "createRoom", map[string]string{"room": "general"})
	expectRoomCount(t, alice, "general", 1)

	bob := ts.identified(t, "bob")
	testutil.SendAction(t, bob, "joinRoom", map[string]string{"room": "general"})
	testutil.ExpectFrame(t, bob, "joined")
	expectRoomCount(t, bob, "general", 2)
	expectRoomCount(t, alice, "general", 2)

	if err := bob.Close(); err != nil {
		t.Fatalf("Failed to close bob: %v", err)
	}
	expectRoomCount(t, alice, "general", 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conns, err := ts.srv.Hub().Connections(ctx)
	if err != nil {
		t.Fatalf("Connections() error = %v", err)
	}
	if len(conns) != 1 || conns[0].Username != "alice" {
		t.Errorf("Expected only alice to remain, got %+v", conns)
	}
}

// TestProtocolErrors tests the error frames for malformed and premature
// input over a real socket.
func TestProtocolErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := testutil.MustConnect(t, ts.wsURL)

	testutil.SendAction(t, conn, "createRoom", map[string]string{"room": "general"})
	testutil.ExpectError(t, conn, "notIdentified")

	testutil.SendRaw(t, conn, websocket.TextMessage, []byte("{not json"))
	testutil.ExpectError(t, conn, "malformedJson")

	testutil.SendRaw(t, conn, websocket.BinaryMessage, []byte(`{"action":"identify"}`))
	testutil.ExpectError(t, conn, "malformedJson")

	testutil.SendRaw(t, conn, websocket.TextMessage, []byte(`{"action":"dance","payload":{}}`))
	testutil.ExpectError(t, conn, "unknownAction")

	testutil.SendAction(t, conn, "identify", map[string]string{"username": "  "})
	testutil.ExpectError(t, conn, "invalidPayload")

	testutil.SendAction(t, conn, "identify", map[string]string{"username": "carol"})
	testutil.ExpectFrame(t, conn, "roomsList")

	testutil.SendAction(t, conn, "deleteRoom", map[string]string{"room": "default"})
	testutil.ExpectError(t, conn, "protectedRoom")
}

// TestRateLimitedClient tests that frames beyond the burst are answered
// with rateLimited and the connection stays open.
func TestRateLimitedClient(t *testing.T) {
	ts := newTestServer(t, func(c *server.Config) {
		c.RateLimit = server.RateLimitConfig{Burst: 2, RefillInterval: time.Minute}
	})
	conn := testutil.MustConnect(t, ts.wsURL)

	testutil.SendAction(t, conn, "identify", map[string]string{"username": "dave"})
	testutil.ExpectFrame(t, conn, "roomsList")
	testutil.SendAction(t, conn, "roomsList", map[string]string{})
	testutil.ExpectFrame(t, conn, "roomsList")

	testutil.SendAction(t, conn, "roomsList", map[string]string{})
	testutil.ExpectError(t, conn, "rateLimited")
}

// TestOversizedFrameClosesConnection tests that a frame above the read
// limit ends the connection.
func TestOversizedFrameClosesConnection(t *testing.T) {
	ts := newTestServer(t, func(c *server.Config) { c.MaxMessageSize = 64 })
	conn := testutil.MustConnect(t, ts.wsURL)

	testutil.SendAction(t, conn, "identify", map[string]string{"username": strings.Repeat("x", 200)})

	if err := conn.SetReadDeadline(time.Now().Add(testutil.ReadTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("Expected the connection to be closed")
	}
}

// TestOriginCheck tests that disallowed browser origins are refused while
// non-browser clients without an Origin header connect.
func TestOriginCheck(t *testing.T) {
	ts := newTestServer(t, nil)

	headers := http.Header{}
	headers.Set("Origin", "http://evil.example")
	if conn, err := testutil.DialWithHeaders(ts.wsURL, headers); err == nil {
		_ = conn.Close()
		t.Fatal("Expected handshake from disallowed origin to fail")
	} else if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("Expected bad handshake, got %v", err)
	}

	conn, err := testutil.DialWithHeaders(ts.wsURL, http.Header{})
	if err != nil {
		t.Fatalf("Expected connection without Origin to succeed: %v", err)
	}
	_ = conn.Close()
}

// TestHTTPRoutes tests the plain HTTP endpoints.
func TestHTTPRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("health", func(t *testing.T) {
		resp := testutil.MakeRequest(t, http.MethodGet, ts.http.URL+"/")
		defer resp.Body.Close()
		testutil.AssertStatusCode(t, resp, http.StatusOK)
		testutil.AssertContentType(t, resp, "text/plain")
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "Room chat server is running!" {
			t.Errorf("Unexpected body %q", body)
		}
	})

	t.Run("test page", func(t *testing.T) {
		resp := testutil.MakeRequest(t, http.MethodGet, ts.http.URL+"/test")
		defer resp.Body.Close()
		testutil.AssertStatusCode(t, resp, http.StatusOK)
		testutil.AssertContentType(t, resp, "text/html")
	})

	t.Run("websocket rejects POST", func(t *testing.T) {
		resp := testutil.MakeRequest(t, http.MethodPost, ts.http.URL+"/ws")
		defer resp.Body.Close()
		testutil.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
	})

	t.Run("plain GET on websocket endpoint", func(t *testing.T) {
		resp := testutil.MakeRequest(t, http.MethodGet, ts.http.URL+"/ws")
		defer resp.Body.Close()
		testutil.AssertStatusCode(t, resp, http.StatusBadRequest)
	})
}

func callAdmin(t *testing.T, url, method string, args, reply any) error {
	t.Helper()
	body, err := json2.EncodeClientRequest(method, args)
	if err != nil {
		t.Fatalf("Failed to encode %s: %v", method, err)
	}
	resp, err := http.Post(url+"/admin/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to call %s: %v", method, err)
	}
	defer resp.Body.Close()
	return json2.DecodeClientResponse(resp.Body, reply)
}

// TestAdminRPC tests the read-only JSON-RPC endpoint.
func TestAdminRPC(t *testing.T) {
	ts := newTestServer(t, nil)

	alice := ts.identified(t, "alice")
	testutil.SendAction(t, alice, "createRoom", map[string]string{"room": "general"})
	expectRoomCount(t, alice, "general", 1)

	var rooms server.RoomsReply
	if err := callAdmin(t, ts.http.URL, "Admin.Rooms", &server.RoomsArgs{}, &rooms); err != nil {
		t.Fatalf("Admin.Rooms error = %v", err)
	}
	if rooms.Rooms["general"] != 1 || rooms.Rooms["default"] != 0 || len(rooms.Rooms) != 2 {
		t.Errorf("Unexpected rooms %v", rooms.Rooms)
	}

	var conns server.ConnectionsReply
	if err := callAdmin(t, ts.http.URL, "Admin.Connections", &server.ConnectionsArgs{}, &conns); err != nil {
		t.Fatalf("Admin.Connections error = %v", err)
	}
	if len(conns.Connections) != 1 || conns.Connections[0].Username != "alice" {
		t.Errorf("Unexpected connections %+v", conns.Connections)
	}

	var members server.MembersReply
	if err := callAdmin(t, ts.http.URL, "Admin.Members", &server.MembersArgs{Room: "general"}, &members); err != nil {
		t.Fatalf("Admin.Members error = %v", err)
	}
	if len(members.Members) != 1 || members.Members[0].Username != "alice" {
		t.Errorf("Unexpected members %+v", members.Members)
	}

	err := callAdmin(t, ts.http.URL, "Admin.Members", &server.MembersArgs{Room: "missing"}, &members)
	var rpcErr *json2.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != json2.E_BAD_PARAMS {
		t.Errorf("Expected bad params error, got %v", err)
	}
}

// TestAdminRPCDisabled tests that the endpoint is not routed when disabled.
func TestAdminRPCDisabled(t *testing.T) {
	ts := newTestServer(t, func(c *server.Config) { c.AdminRPC = false })

	resp, err := http.Post(ts.http.URL+"/admin/rpc", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("Failed to post: %v", err)
	}
	defer resp.Body.Close()
	testutil.AssertStatusCode(t, resp, http.StatusNotFound)
}

// TestConcurrentShutdown tests that Shutdown may be called from several
// goroutines at once.
func TestConcurrentShutdown(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.identified(t, "frank")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ts.srv.Hub().Shutdown(2 * time.Second)
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := ts.srv.Hub().RoomCounts(ctx); !errors.Is(err, server.ErrHubStopped) {
		t.Errorf("Expected ErrHubStopped after shutdown, got %v", err)
	}
}

// TestShutdownClosesClients tests that a server shutdown sends a normal
// close frame to connected clients.
func TestShutdownClosesClients(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.identified(t, "erin")

	if err := ts.srv.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(testutil.ReadTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("Expected normal closure, got %v", err)
	}
}
