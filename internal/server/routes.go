// Package server wires HTTP handlers into a gorilla/mux router via routing
// helpers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures and returns a router with all application routes:
// health check, WebSocket endpoint, test page and, when enabled, the admin
// JSON-RPC endpoint.
func SetupRoutes(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler)
	r.HandleFunc("/ws", s.WebSocketHandler).Methods(http.MethodGet)
	r.HandleFunc("/test", s.TestPageHandler).Methods(http.MethodGet)
	if s.cfg.AdminRPC {
		r.Handle("/admin/rpc", newAdminHandler(s.hub, s.logger)).Methods(http.MethodPost)
	}
	return r
}
