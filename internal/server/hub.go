// Package server coordinates client registration, frame routing, broadcast
// delivery, and connection cleanup via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/router"
	"github.com/Tyrowin/roomchat/internal/session"
)

// ErrHubStopped is returned by queries made after the hub has shut down.
var ErrHubStopped = errors.New("hub stopped")

// Hub is the single serialization point of the server. Its Run loop is the
// only goroutine that touches the router or the clients map, so every state
// change and the broadcast it causes happen in one total order.
type Hub struct {
	cfg        Config
	logger     *slog.Logger
	router     *router.Router
	clients    map[session.ConnID]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	queries    chan func(*router.Router)
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and a router seeded with the default room.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = sanitizeConfig(cfg)

	var policy session.DeletePolicy
	if len(cfg.Admins) > 0 {
		policy = session.CreatorOrAdmin(cfg.Admins...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		logger:     logger,
		router:     router.New(policy, logger.With("component", "router")),
		clients:    make(map[session.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame),
		queries:    make(chan func(*router.Router)),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a new client to the hub. It reports false once the hub
// is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) submit(f inboundFrame) bool {
	select {
	case h.inbound <- f:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, inbound frames and admin queries. This method should be
// called in a separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.attach(client)

		case client := <-h.unregister:
			h.detach(client, "connection closed")

		case f := <-h.inbound:
			h.route(f)

		case query := <-h.queries:
			query(h.router)
		}
	}
}

func (h *Hub) attach(client *Client) {
	client.id = h.router.Connect()
	h.clients[client.id] = client
	h.logger.Info("client registered", "conn", client.id, "addr", client.addr, "clients", len(h.clients))

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// detach removes a client exactly once: closing its queue stops the write
// pump, and the router's cleanup pass produces the broadcast for survivors.
func (h *Hub) detach(client *Client, why string) {
	current, ok := h.clients[client.id]
	if !ok || current != client {
		return
	}
	delete(h.clients, client.id)
	close(client.send)
	h.logger.Info("client unregistered", "conn", client.id, "addr", client.addr, "reason", why, "clients", len(h.clients))
	h.deliver(h.router.Disconnect(client.id))
}

func (h *Hub) route(f inboundFrame) {
	current, ok := h.clients[f.client.id]
	if !ok || current != f.client {
		return
	}
	if f.refusal != nil {
		h.deliver(h.router.Refuse(f.client.id, f.refusal))
		return
	}
	h.logger.Debug("frame received", "conn", f.client.id, "bytes", len(f.data))
	h.deliver(h.router.Handle(f.client.id, f.data))
}

// deliver enqueues each frame for its recipients without blocking. A
// recipient whose queue is full is disconnected, and the deliveries caused
// by that disconnect are processed in the same pass.
func (h *Hub) deliver(deliveries []router.Delivery) {
	pending := deliveries
	for len(pending) > 0 {
		d := pending[0]
		pending = pending[1:]

		var overflowed []*Client
		for _, id := range d.To {
			client, ok := h.clients[id]
			if !ok {
				continue
			}
			select {
			case client.send <- d.Frame:
			default:
				overflowed = append(overflowed, client)
			}
		}

		for _, client := range overflowed {
			if _, ok := h.clients[client.id]; !ok {
				continue
			}
			delete(h.clients, client.id)
			close(client.send)
			h.logger.Warn("client removed due to full send queue", "conn", client.id, "addr", client.addr, "clients", len(h.clients))
			pending = append(pending, h.router.Disconnect(client.id)...)
		}
	}
}

// shutdownClients closes every client's queue so its write pump sends a
// close frame and tears down the connection.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	count := len(h.clients)
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.send)
		h.router.Disconnect(id)
	}

	h.logger.Info("closed client connections", "count", count)
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()

	deadline := time.After(timeout)
	select {
	case <-h.done:
	case <-deadline:
		h.logger.Warn("hub shutdown timeout reached before event loop exited")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed successfully")
		return nil
	case <-deadline:
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// query runs fn on the hub goroutine and waits for it to finish. Once the
// hub has accepted fn it runs to completion without blocking.
func (h *Hub) query(ctx context.Context, fn func(*router.Router)) error {
	finished := make(chan struct{})
	task := func(r *router.Router) {
		defer close(finished)
		fn(r)
	}

	select {
	case h.queries <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubStopped
	}

	<-finished
	return nil
}

// RoomCounts maps every room to its member count.
func (h *Hub) RoomCounts(ctx context.Context) (map[string]int, error) {
	var counts map[string]int
	err := h.query(ctx, func(r *router.Router) { counts = r.RoomCounts() })
	return counts, err
}

// Connections lists every live connection.
func (h *Hub) Connections(ctx context.Context) ([]session.ConnectionInfo, error) {
	var conns []session.ConnectionInfo
	err := h.query(ctx, func(r *router.Router) { conns = r.Connections() })
	return conns, err
}

// Members lists the connections in room.
func (h *Hub) Members(ctx context.Context, room string) ([]session.ConnectionInfo, error) {
	var (
		members []session.ConnectionInfo
		qerr    error
	)
	if err := h.query(ctx, func(r *router.Router) { members, qerr = r.Members(room) }); err != nil {
		return nil, err
	}
	return members, qerr
}
