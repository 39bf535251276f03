// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/session"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Client represents a WebSocket client connection in the chat system.
// It owns the connection's bounded outbound queue; the hub is the only
// writer to that queue and the only one that closes it.
type Client struct {
	id          session.ConnID
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	addr        string
	rateLimiter *rate.Limiter
	rateLimit   RateLimitConfig
	logger      *slog.Logger
}

// NewClient creates a new Client for conn using the hub's limits. The
// client's send channel is buffered to the configured queue size.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Client{
		conn:        conn,
		send:        make(chan []byte, cfg.SendQueueSize),
		hub:         hub,
		addr:        addr,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		rateLimit:   cfg.RateLimit,
		logger:      hub.logger.With("addr", addr),
	}
}

// newRateLimiter refills a full burst once per refill interval.
func newRateLimiter(cfg RateLimitConfig) *rate.Limiter {
	perSecond := float64(cfg.Burst) / cfg.RefillInterval.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), cfg.Burst)
}

// ID returns the connection id assigned at registration.
func (c *Client) ID() session.ConnID {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError logs a read failure at a level that matches how expected it is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded maximum size", "conn", c.id, "limit", c.hub.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", "conn", c.id, "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", "conn", c.id, "error", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", "conn", c.id, "error", err)
	default:
		c.logger.Warn("websocket read error", "conn", c.id, "error", err)
	}
}

// frameFor turns a raw read into the frame handed to the hub. Frames over
// the rate limit and binary frames are refused rather than routed.
func (c *Client) frameFor(messageType int, data []byte) inboundFrame {
	f := inboundFrame{client: c, data: data}
	switch {
	case !c.rateLimiter.Allow():
		c.logger.Debug("rate limit exceeded", "conn", c.id, "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		f.refusal = protocol.NewError(protocol.ReasonRateLimited, "too many messages; slow down")
	case messageType != websocket.TextMessage:
		f.refusal = protocol.NewError(protocol.ReasonMalformedJSON, "binary frames are not supported")
	}
	return f
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in readPump", "conn", c.id, "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.hub.submit(c.frameFor(messageType, data)) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error closing connection in writePump", "conn", c.id, "error", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", "conn", c.id, "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", "conn", c.id, "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error writing close message", "conn", c.id, "error", err)
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", "conn", c.id, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("error writing ping message", "conn", c.id, "error", err)
		return false
	}
	return true
}
