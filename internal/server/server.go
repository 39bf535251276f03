// Package server constructs and starts the chat HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Server bundles the hub, the HTTP listener and the WebSocket upgrader.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	hub      *Hub
	upgrader websocket.Upgrader
	http     *http.Server
}

// New builds a Server from cfg. The hub is not started until Run or
// StartHub is called.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = sanitizeConfig(cfg)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		hub:    NewHub(cfg, logger.With("component", "hub")),
	}
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	s.http = CreateServer(cfg.Addr, SetupRoutes(s))
	return s
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with every route installed.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// StartHub runs the hub event loop in a separate goroutine.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Info("hub started and ready to manage websocket connections")
}

// Run starts the hub and serves HTTP until ctx is cancelled or the listener
// fails, then shuts both down.
func (s *Server) Run(ctx context.Context) error {
	s.StartHub()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown(s.cfg.ShutdownTimeout)
	})
	return g.Wait()
}

// Shutdown stops accepting connections, then closes every client and waits
// for their pumps, bounded by timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	httpErr := s.http.Shutdown(ctx)
	if httpErr != nil {
		s.logger.Error("http server shutdown error", "error", httpErr)
	}

	remaining := timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining = time.Until(deadline)
	}
	hubErr := s.hub.Shutdown(remaining)

	return errors.Join(httpErr, hubErr)
}
