package router

import (
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/session"
)

// Delivery is one outbound frame and the connections that must receive it.
// The recipient list is resolved from state at the moment the delivery is
// built, right after the mutation that caused it.
type Delivery struct {
	To    []session.ConnID
	Frame []byte
}

// unicast addresses the originating connection only.
func unicast(id session.ConnID, frame []byte) Delivery {
	return Delivery{To: []session.ConnID{id}, Frame: frame}
}

// roomcast addresses every current member of room.
func (r *Router) roomcast(room string, frame []byte) Delivery {
	members, err := r.rooms.Members(room)
	if err != nil {
		r.logger.Warn("roomcast to missing room", "room", room, "error", err)
	}
	return Delivery{To: members, Frame: frame}
}

// globalcast addresses every connection, identified or not.
func (r *Router) globalcast(frame []byte) Delivery {
	return Delivery{To: r.conns.IDs(), Frame: frame}
}

// roomsList builds the global roomsList broadcast for the current counts.
func (r *Router) roomsList() []Delivery {
	frame, err := protocol.EncodeRoomsList(r.rooms.AllCounts())
	if err != nil {
		r.logger.Error("failed to encode rooms list", "error", err)
		return nil
	}
	return []Delivery{r.globalcast(frame)}
}

func (r *Router) reply(id session.ConnID, frame []byte, err error) []Delivery {
	if err != nil {
		r.logger.Error("failed to encode reply", "conn", id, "error", err)
		return nil
	}
	return []Delivery{unicast(id, frame)}
}

func (r *Router) fail(id session.ConnID, perr *protocol.Error) []Delivery {
	frame, err := protocol.EncodeError(perr)
	return r.reply(id, frame, err)
}
