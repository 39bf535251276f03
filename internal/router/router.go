// Package router turns inbound frames into validated state transitions on
// the session registry and room directory, and decides which outbound
// frames go to which connections.
//
// A Router is not safe for concurrent use. The hub calls it from a single
// goroutine, which gives every state change a strict total order.
package router

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/session"
)

// Router is the protocol state machine and the only writer of session state.
type Router struct {
	conns  *session.Registry
	rooms  *session.Directory
	logger *slog.Logger
}

// New creates a Router over a fresh registry and a directory holding the
// default room. A nil policy means creator-only deletion.
func New(policy session.DeletePolicy, logger *slog.Logger) *Router {
	return NewWithRegistry(session.NewRegistry(), policy, logger)
}

// NewWithRegistry creates a Router over the given registry.
func NewWithRegistry(conns *session.Registry, policy session.DeletePolicy, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		conns:  conns,
		rooms:  session.NewDirectory(conns, policy),
		logger: logger,
	}
}

// Connect registers a new, unidentified connection.
func (r *Router) Connect() session.ConnID {
	id := r.conns.Register()
	r.logger.Debug("connection registered", "conn", id, "connections", r.conns.Len())
	return id
}

// Disconnect removes id from every room and from the registry. It is safe
// to call more than once; later calls produce nothing.
func (r *Router) Disconnect(id session.ConnID) []Delivery {
	if _, ok := r.conns.Lookup(id); !ok {
		return nil
	}
	rooms := r.rooms.Disconnect(id)
	r.logger.Debug("connection removed", "conn", id, "rooms", rooms, "connections", r.conns.Len())
	if len(rooms) == 0 {
		return nil
	}
	return r.roomsList()
}

// Refuse answers a frame that was rejected before decoding, for example by
// the rate limiter.
func (r *Router) Refuse(id session.ConnID, perr *protocol.Error) []Delivery {
	if _, ok := r.conns.Lookup(id); !ok {
		return nil
	}
	return r.fail(id, perr)
}

// Handle decodes and applies one inbound frame from id. A frame from a live
// connection either changes state or is answered with an error frame;
// validation always completes before the first mutation.
func (r *Router) Handle(id session.ConnID, frame []byte) []Delivery {
	conn, ok := r.conns.Lookup(id)
	if !ok {
		r.logger.Warn("frame from unknown connection", "conn", id)
		return nil
	}

	cmd, perr := protocol.Decode(frame)
	if perr != nil {
		r.logger.Debug("rejected frame", "conn", id, "reason", perr.Reason, "detail", perr.Detail)
		return r.fail(id, perr)
	}

	if _, isIdentify := cmd.(protocol.Identify); !isIdentify && !conn.Identified() {
		return r.fail(id, protocol.NewError(protocol.ReasonNotIdentified,
			fmt.Sprintf("identify before %s", cmd.Action())))
	}

	switch c := cmd.(type) {
	case protocol.Identify:
		return r.identify(conn, c)
	case protocol.Rename:
		return r.rename(conn, c.NewUsername)
	case protocol.CreateRoom:
		return r.createRoom(conn, c)
	case protocol.JoinRoom:
		return r.joinRoom(conn, c)
	case protocol.LeaveRoom:
		return r.leaveRoom(conn, c)
	case protocol.SendMessage:
		return r.sendMessage(conn, c)
	case protocol.DeleteRoom:
		return r.deleteRoom(conn, c)
	case protocol.RoomsList:
		frame, err := protocol.EncodeRoomsList(r.rooms.AllCounts())
		return r.reply(id, frame, err)
	}
	return r.fail(id, protocol.NewError(protocol.ReasonUnknownAction, string(cmd.Action())))
}

func (r *Router) identify(conn *session.Connection, c protocol.Identify) []Delivery {
	if conn.Identified() {
		return r.rename(conn, c.Username)
	}
	if err := r.conns.SetUsername(conn.ID, c.Username); err != nil {
		return r.domainError(conn.ID, err)
	}
	r.logger.Info("connection identified", "conn", conn.ID, "username", c.Username)
	frame, err := protocol.EncodeRoomsList(r.rooms.AllCounts())
	return r.reply(conn.ID, frame, err)
}

func (r *Router) rename(conn *session.Connection, name string) []Delivery {
	old := conn.Username
	if err := r.conns.SetUsername(conn.ID, name); err != nil {
		return r.domainError(conn.ID, err)
	}
	r.logger.Info("connection renamed", "conn", conn.ID, "from", old, "to", name)
	return nil
}

func (r *Router) createRoom(conn *session.Connection, c protocol.CreateRoom) []Delivery {
	if err := r.rooms.Create(c.Room, conn.ID); err != nil {
		return r.domainError(conn.ID, err)
	}
	if _, err := r.rooms.Join(c.Room, conn.ID); err != nil {
		// Create just succeeded for a live connection, so Join cannot fail.
		r.logger.Error("creator could not join new room", "room", c.Room, "conn", conn.ID, "error", err)
	}
	r.logger.Info("room created", "room", c.Room, "creator", conn.Username)
	return r.roomsList()
}

func (r *Router) joinRoom(conn *session.Connection, c protocol.JoinRoom) []Delivery {
	added, err := r.rooms.Join(c.Room, conn.ID)
	if err != nil {
		return r.domainError(conn.ID, err)
	}
	frame, err := protocol.EncodeJoined(c.Room)
	out := r.reply(conn.ID, frame, err)
	if !added {
		return out
	}
	r.logger.Debug("room joined", "room", c.Room, "conn", conn.ID)
	return append(out, r.roomsList()...)
}

func (r *Router) leaveRoom(conn *session.Connection, c protocol.LeaveRoom) []Delivery {
	if err := r.rooms.Leave(c.Room, conn.ID); err != nil {
		return r.domainError(conn.ID, err)
	}
	r.logger.Debug("room left", "room", c.Room, "conn", conn.ID)
	frame, err := protocol.EncodeLeft(c.Room)
	return append(r.reply(conn.ID, frame, err), r.roomsList()...)
}

func (r *Router) sendMessage(conn *session.Connection, c protocol.SendMessage) []Delivery {
	if _, ok := r.rooms.Lookup(c.Room); !ok {
		return r.domainError(conn.ID, fmt.Errorf("%w: %q", session.ErrRoomNotFound, c.Room))
	}
	if !conn.InRoom(c.Room) {
		return r.domainError(conn.ID, fmt.Errorf("%w: %q", session.ErrNotInRoom, c.Room))
	}
	frame, err := protocol.EncodeMessage(conn.Username, c.Room, c.Message)
	if err != nil {
		r.logger.Error("failed to encode message", "room", c.Room, "error", err)
		return r.fail(conn.ID, protocol.NewError(protocol.ReasonInternal, "message could not be encoded"))
	}
	return []Delivery{r.roomcast(c.Room, frame)}
}

func (r *Router) deleteRoom(conn *session.Connection, c protocol.DeleteRoom) []Delivery {
	departed, err := r.rooms.Delete(c.Room, conn.ID)
	if err != nil {
		return r.domainError(conn.ID, err)
	}
	r.logger.Info("room deleted", "room", c.Room, "by", conn.Username, "displaced", len(departed))

	var out []Delivery
	if len(departed) > 0 {
		frame, err := protocol.EncodeLeft(c.Room)
		if err != nil {
			r.logger.Error("failed to encode left", "room", c.Room, "error", err)
		} else {
			out = append(out, Delivery{To: departed, Frame: frame})
		}
	}
	return append(out, r.roomsList()...)
}

// domainError maps a session error onto its protocol reason and answers
// the sender.
func (r *Router) domainError(id session.ConnID, err error) []Delivery {
	reason := protocol.ReasonInternal
	switch {
	case errors.Is(err, session.ErrRoomExists):
		reason = protocol.ReasonRoomExists
	case errors.Is(err, session.ErrRoomNotFound):
		reason = protocol.ReasonRoomNotFound
	case errors.Is(err, session.ErrNotInRoom):
		reason = protocol.ReasonNotInRoom
	case errors.Is(err, session.ErrNotAuthorized):
		reason = protocol.ReasonNotAuthorized
	case errors.Is(err, session.ErrProtectedRoom):
		reason = protocol.ReasonProtectedRoom
	case errors.Is(err, session.ErrEmptyName):
		reason = protocol.ReasonInvalidPayload
	default:
		r.logger.Error("unexpected state error", "conn", id, "error", err)
	}
	return r.fail(id, protocol.NewError(reason, err.Error()))
}

// RoomCounts maps every room to its member count.
func (r *Router) RoomCounts() map[string]int {
	return r.rooms.AllCounts()
}

// Members copies the records of room's members in registration order.
func (r *Router) Members(room string) ([]session.ConnectionInfo, error) {
	ids, err := r.rooms.Members(room)
	if err != nil {
		return nil, err
	}
	out := make([]session.ConnectionInfo, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.conns.Lookup(id); ok {
			out = append(out, session.ConnectionInfo{ID: c.ID, Username: c.Username, Rooms: c.Rooms()})
		}
	}
	return out, nil
}

// Connections copies every live connection record.
func (r *Router) Connections() []session.ConnectionInfo {
	return r.conns.Snapshot()
}

// CheckConsistency verifies the bidirectional membership invariant.
func (r *Router) CheckConsistency() error {
	return r.rooms.CheckConsistency()
}
