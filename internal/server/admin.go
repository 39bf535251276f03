package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/Tyrowin/roomchat/internal/session"
)

// AdminService exposes read-only hub state over JSON-RPC 2.0.
type AdminService struct {
	hub *Hub
}

// RoomsArgs is the (empty) argument of Admin.Rooms.
type RoomsArgs struct{}

// RoomsReply maps room names to member counts.
type RoomsReply struct {
	Rooms map[string]int `json:"rooms"`
}

// ConnectionsArgs is the (empty) argument of Admin.Connections.
type ConnectionsArgs struct{}

// ConnectionsReply lists live connections.
type ConnectionsReply struct {
	Connections []session.ConnectionInfo `json:"connections"`
}

// MembersArgs names the room for Admin.Members.
type MembersArgs struct {
	Room string `json:"room"`
}

// MembersReply lists the members of one room.
type MembersReply struct {
	Members []session.ConnectionInfo `json:"members"`
}

// Rooms returns every room with its member count.
func (a *AdminService) Rooms(r *http.Request, _ *RoomsArgs, reply *RoomsReply) error {
	counts, err := a.hub.RoomCounts(r.Context())
	if err != nil {
		return err
	}
	reply.Rooms = counts
	return nil
}

// Connections returns every live connection.
func (a *AdminService) Connections(r *http.Request, _ *ConnectionsArgs, reply *ConnectionsReply) error {
	conns, err := a.hub.Connections(r.Context())
	if err != nil {
		return err
	}
	reply.Connections = conns
	return nil
}

// Members returns the members of args.Room.
func (a *AdminService) Members(r *http.Request, args *MembersArgs, reply *MembersReply) error {
	members, err := a.hub.Members(r.Context(), args.Room)
	if err != nil {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: err.Error()}
	}
	reply.Members = members
	return nil
}

func newAdminHandler(hub *Hub, logger *slog.Logger) http.Handler {
	s := rpc.NewServer()
	s.RegisterCodec(json2.NewCodec(), "application/json")
	if err := s.RegisterService(&AdminService{hub: hub}, "Admin"); err != nil {
		// Registration only fails for a service without exported methods.
		logger.Error("failed to register admin service", "error", err)
	}
	return s
}
