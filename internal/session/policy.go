package session

// SystemCreator owns rooms that exist from process start.
const SystemCreator ConnID = "system"

// DefaultRoom is the standing room created at startup. It cannot be deleted.
const DefaultRoom = "default"

// DeletePolicy decides whether requester may delete room.
type DeletePolicy interface {
	CanDelete(room *Room, requester *Connection) bool
}

// DeletePolicyFunc adapts a function to DeletePolicy.
type DeletePolicyFunc func(room *Room, requester *Connection) bool

// CanDelete calls f.
func (f DeletePolicyFunc) CanDelete(room *Room, requester *Connection) bool {
	return f(room, requester)
}

// CreatorOnly lets only the connection that created a room delete it.
var CreatorOnly DeletePolicy = DeletePolicyFunc(func(room *Room, requester *Connection) bool {
	return requester != nil && room.Creator == requester.ID
})

// CreatorOrAdmin extends CreatorOnly with a set of administrator usernames.
// Usernames are self-declared, so this only suits trusted deployments.
func CreatorOrAdmin(admins ...string) DeletePolicy {
	set := make(map[string]struct{}, len(admins))
	for _, name := range admins {
		if name != "" {
			set[name] = struct{}{}
		}
	}
	return DeletePolicyFunc(func(room *Room, requester *Connection) bool {
		if CreatorOnly.CanDelete(room, requester) {
			return true
		}
		if requester == nil || !requester.Identified() {
			return false
		}
		_, ok := set[requester.Username]
		return ok
	})
}
