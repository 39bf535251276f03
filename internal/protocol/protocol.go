// Package protocol encodes and decodes the {action, payload} JSON envelope
// exchanged with chat clients.
//
// Inbound frames decode into a closed set of command types, one per action,
// each with its own required-field check. Anything that does not match a
// known command is rejected with an *Error before it reaches the router.
package protocol

// Action names the kind of an envelope.
type Action string

// Client to server actions.
const (
	ActionIdentify    Action = "identify"
	ActionCreateRoom  Action = "createRoom"
	ActionJoinRoom    Action = "joinRoom"
	ActionLeaveRoom   Action = "leaveRoom"
	ActionSendMessage Action = "sendMessage"
	ActionDeleteRoom  Action = "deleteRoom"
	ActionRename      Action = "rename"
	ActionRoomsList   Action = "roomsList"
)

// Server to client actions. roomsList is shared with the inbound request.
const (
	ActionJoined  Action = "joined"
	ActionLeft    Action = "left"
	ActionMessage Action = "message"
	ActionError   Action = "error"
)

// MaxNameLength bounds usernames and room names, in characters.
const MaxNameLength = 64

// Reason is the machine-readable code carried by an error frame.
type Reason string

// Protocol level reasons.
const (
	ReasonMalformedJSON     Reason = "malformedJson"
	ReasonMalformedEnvelope Reason = "malformedEnvelope"
	ReasonUnknownAction     Reason = "unknownAction"
	ReasonInvalidPayload    Reason = "invalidPayload"
	ReasonRateLimited       Reason = "rateLimited"
)

// Domain level reasons.
const (
	ReasonNotIdentified Reason = "notIdentified"
	ReasonRoomExists    Reason = "roomExists"
	ReasonRoomNotFound  Reason = "roomNotFound"
	ReasonNotInRoom     Reason = "notInRoom"
	ReasonNotAuthorized Reason = "notAuthorized"
	ReasonProtectedRoom Reason = "protectedRoom"
	ReasonInternal      Reason = "internalError"
)

// Error is a failure reported to a client in an error frame.
type Error struct {
	Reason Reason
	Detail string
}

// NewError returns an Error with the given reason and detail.
func NewError(reason Reason, detail string) *Error {
	return &Error{Reason: reason, Detail: detail}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Detail
}
