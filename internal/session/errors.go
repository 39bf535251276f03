package session

import "errors"

// Errors returned by Registry and Directory operations.
var (
	ErrRoomExists         = errors.New("room already exists")
	ErrRoomNotFound       = errors.New("room not found")
	ErrNotInRoom          = errors.New("not a member of room")
	ErrNotAuthorized      = errors.New("not authorized to delete room")
	ErrProtectedRoom      = errors.New("room is protected")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrEmptyName          = errors.New("name must not be empty")
)
