package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Command is a decoded, validated client request.
type Command interface {
	Action() Action
	validate() *Error
}

// Identify binds a username to the connection.
type Identify struct {
	Username string `json:"username"`
}

// CreateRoom creates a room and joins its creator to it.
type CreateRoom struct {
	Room string `json:"room"`
}

// JoinRoom joins an existing room.
type JoinRoom struct {
	Room string `json:"room"`
}

// LeaveRoom leaves a joined room.
type LeaveRoom struct {
	Room string `json:"room"`
}

// SendMessage posts a text message to a joined room.
type SendMessage struct {
	Message string `json:"message"`
	Room    string `json:"room"`
}

// DeleteRoom removes a room and displaces its members.
type DeleteRoom struct {
	Room string `json:"room"`
}

// Rename changes the connection's username.
type Rename struct {
	NewUsername string `json:"newUsername"`
}

// RoomsList asks for the current room counts.
type RoomsList struct{}

func (Identify) Action() Action    { return ActionIdentify }
func (CreateRoom) Action() Action  { return ActionCreateRoom }
func (JoinRoom) Action() Action    { return ActionJoinRoom }
func (LeaveRoom) Action() Action   { return ActionLeaveRoom }
func (SendMessage) Action() Action { return ActionSendMessage }
func (DeleteRoom) Action() Action  { return ActionDeleteRoom }
func (Rename) Action() Action      { return ActionRename }
func (RoomsList) Action() Action   { return ActionRoomsList }

func (c Identify) validate() *Error   { return checkName("username", c.Username) }
func (c CreateRoom) validate() *Error { return checkName("room", c.Room) }
func (c JoinRoom) validate() *Error   { return checkName("room", c.Room) }
func (c LeaveRoom) validate() *Error  { return checkName("room", c.Room) }
func (c DeleteRoom) validate() *Error { return checkName("room", c.Room) }
func (c Rename) validate() *Error     { return checkName("newUsername", c.NewUsername) }
func (RoomsList) validate() *Error    { return nil }

func (c SendMessage) validate() *Error {
	if c.Message == "" {
		return NewError(ReasonInvalidPayload, "message is required")
	}
	return checkName("room", c.Room)
}

func checkName(field, value string) *Error {
	if strings.TrimSpace(value) == "" {
		return NewError(ReasonInvalidPayload, field+" is required")
	}
	if utf8.RuneCountInString(value) > MaxNameLength {
		return NewError(ReasonInvalidPayload, fmt.Sprintf("%s exceeds %d characters", field, MaxNameLength))
	}
	return nil
}

// schema is an inbound action's payload constructor and its field names.
type schema struct {
	new    func() Command
	fields []string
}

// decoders maps each inbound action to its payload schema.
var decoders = map[Action]schema{
	ActionIdentify:    {func() Command { return &Identify{} }, []string{"username"}},
	ActionCreateRoom:  {func() Command { return &CreateRoom{} }, []string{"room"}},
	ActionJoinRoom:    {func() Command { return &JoinRoom{} }, []string{"room"}},
	ActionLeaveRoom:   {func() Command { return &LeaveRoom{} }, []string{"room"}},
	ActionSendMessage: {func() Command { return &SendMessage{} }, []string{"message", "room"}},
	ActionDeleteRoom:  {func() Command { return &DeleteRoom{} }, []string{"room"}},
	ActionRename:      {func() Command { return &Rename{} }, []string{"newUsername"}},
	ActionRoomsList:   {func() Command { return &RoomsList{} }, nil},
}

var envelopeFields = []string{"action", "payload"}

// miscased returns the first key of obj that matches one of fields only
// when case is ignored. encoding/json would accept such a key.
func miscased(obj map[string]json.RawMessage, fields []string) (string, bool) {
	for key := range obj {
		for _, f := range fields {
			if key != f && strings.EqualFold(key, f) {
				return key, true
			}
		}
	}
	return "", false
}

// Decode parses one inbound frame into a Command. The returned command is a
// value type (Identify, CreateRoom, ...) and has passed its field checks.
func Decode(frame []byte) (Command, *Error) {
	if !utf8.Valid(frame) {
		return nil, NewError(ReasonMalformedJSON, "frame is not valid UTF-8")
	}

	env, ok := decodeObject(frame)
	if !ok {
		return nil, NewError(ReasonMalformedJSON, "frame is not a JSON object")
	}
	if key, bad := miscased(env, envelopeFields); bad {
		return nil, NewError(ReasonMalformedEnvelope, fmt.Sprintf("unknown envelope key %q", key))
	}

	var action string
	if err := json.Unmarshal(env["action"], &action); err != nil || action == "" {
		return nil, NewError(ReasonMalformedEnvelope, "action must be a non-empty string")
	}

	sc, ok := decoders[Action(action)]
	if !ok {
		return nil, NewError(ReasonUnknownAction, fmt.Sprintf("unknown action %q", action))
	}

	fields, ok := decodeObject(env["payload"])
	if !ok {
		return nil, NewError(ReasonMalformedEnvelope, "payload must be a JSON object")
	}
	if key, bad := miscased(fields, sc.fields); bad {
		return nil, NewError(ReasonInvalidPayload, fmt.Sprintf("unknown payload field %q", key))
	}

	cmd := sc.new()
	if err := json.Unmarshal(env["payload"], cmd); err != nil {
		return nil, NewError(ReasonInvalidPayload, describeFieldError(err))
	}
	if perr := cmd.validate(); perr != nil {
		return nil, perr
	}
	return deref(cmd), nil
}

// decodeObject parses data as a JSON object. null, arrays and scalars are
// rejected even though they unmarshal into a map without error.
func decodeObject(data []byte) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func describeFieldError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type)
	}
	return "payload fields have the wrong type"
}

func deref(cmd Command) Command {
	switch c := cmd.(type) {
	case *Identify:
		return *c
	case *CreateRoom:
		return *c
	case *JoinRoom:
		return *c
	case *LeaveRoom:
		return *c
	case *SendMessage:
		return *c
	case *DeleteRoom:
		return *c
	case *Rename:
		return *c
	case *RoomsList:
		return *c
	}
	return cmd
}
