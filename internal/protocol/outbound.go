package protocol

import "encoding/json"

// Envelope is the outbound wire shape.
type Envelope struct {
	Action  Action `json:"action"`
	Payload any    `json:"payload"`
}

// RoomsListPayload carries every room with its member count.
type RoomsListPayload struct {
	Rooms map[string]int `json:"rooms"`
}

// RoomPayload is the payload of joined and left.
type RoomPayload struct {
	Room string `json:"room"`
}

// MessagePayload is a chat message as delivered to room members.
type MessagePayload struct {
	From    string `json:"from"`
	Room    string `json:"room"`
	Message string `json:"message"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Encode marshals an outbound envelope into one text frame.
func Encode(action Action, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Action: action, Payload: payload})
}

// EncodeRoomsList builds a roomsList frame.
func EncodeRoomsList(counts map[string]int) ([]byte, error) {
	if counts == nil {
		counts = map[string]int{}
	}
	return Encode(ActionRoomsList, RoomsListPayload{Rooms: counts})
}

// EncodeJoined builds a joined frame.
func EncodeJoined(room string) ([]byte, error) {
	return Encode(ActionJoined, RoomPayload{Room: room})
}

// EncodeLeft builds a left frame.
func EncodeLeft(room string) ([]byte, error) {
	return Encode(ActionLeft, RoomPayload{Room: room})
}

// EncodeMessage builds a message frame.
func EncodeMessage(from, room, message string) ([]byte, error) {
	return Encode(ActionMessage, MessagePayload{From: from, Room: room, Message: message})
}

// EncodeError builds an error frame from a protocol error.
func EncodeError(e *Error) ([]byte, error) {
	return Encode(ActionError, ErrorPayload{Reason: e.Reason, Detail: e.Detail})
}
