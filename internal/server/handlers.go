// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"
)

// WebSocketHandler upgrades the request to a WebSocket, creates a Client and
// registers it with the hub, which starts the client's read/write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr)
	if !s.hub.Register(client) {
		s.logger.Info("rejecting connection during shutdown", "addr", r.RemoteAddr)
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Room chat server is running!")
}

// TestPageHandler serves an HTML page for exercising the room protocol from
// a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.logger.Warn("error writing test page", "error", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Room Chat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        #rooms { margin: 10px 0; color: #555; }
        input[type="text"] { width: 160px; padding: 5px; margin-right: 6px; }
        button { padding: 5px 12px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
    </style>
</head>
<body>
    <h1>Room Chat Test</h1>
    <div>
        <input type="text" id="username" placeholder="username">
        <button onclick="connect()">Connect</button>
    </div>
    <div id="rooms">No rooms yet</div>
    <div>
        <input type="text" id="room" placeholder="room">
        <button onclick="send('createRoom', {room: val('room')})">Create</button>
        <button onclick="send('joinRoom', {room: val('room')})">Join</button>
        <button onclick="send('leaveRoom', {room: val('room')})">Leave</button>
        <button onclick="send('deleteRoom', {room: val('room')})">Delete</button>
    </div>
    <div>
        <input type="text" id="message" placeholder="message">
        <button onclick="send('sendMessage', {room: val('room'), message: val('message')})">Send</button>
    </div>
    <div id="log"></div>

    <script>
        let ws = null;
        const log = document.getElementById('log');

        function val(id) { return document.getElementById(id).value.trim(); }

        function append(text) {
            const line = document.createElement('div');
            line.textContent = text;
            log.appendChild(line);
            log.scrollTop = log.scrollHeight;
        }

        function send(action, payload) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({action: action, payload: payload}));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                append('connected');
                send('identify', {username: val('username')});
            };
            ws.onmessage = function(event) {
                const env = JSON.parse(event.data);
                const p = env.payload;
                switch (env.action) {
                case 'roomsList':
                    document.getElementById('rooms').textContent = Object.entries(p.rooms).map(([n, c]) => n + ' (' + c + ')').join(', ');
                    break;
                case 'message':
                    append('[' + p.room + '] ' + p.from + ': ' + p.message);
                    break;
                case 'joined':
                case 'left':
                    append(env.action + ' ' + p.room);
                    break;
                case 'error':
                    append('error: ' + p.reason + (p.detail ? ' (' + p.detail + ')' : ''));
                    break;
                }
            };
            ws.onclose = function() { append('connection closed'); ws = null; };
        }
    </script>
</body>
</html>`
