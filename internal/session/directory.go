package session

import "fmt"

// Room is a directory record.
type Room struct {
	Name    string
	Creator ConnID
	members map[ConnID]struct{}
}

// Has reports whether id is a member.
func (r *Room) Has(id ConnID) bool {
	_, ok := r.members[id]
	return ok
}

// Len returns the member count.
func (r *Room) Len() int {
	return len(r.members)
}

// Directory records every room and its members. Each membership change is
// mirrored into the Registry so both sides of the relation stay equal.
type Directory struct {
	rooms     map[string]*Room
	registry  *Registry
	policy    DeletePolicy
	protected map[string]struct{}
}

// NewDirectory returns a directory holding only the protected default room.
// A nil policy means CreatorOnly.
func NewDirectory(registry *Registry, policy DeletePolicy) *Directory {
	if policy == nil {
		policy = CreatorOnly
	}
	d := &Directory{
		rooms:     make(map[string]*Room),
		registry:  registry,
		policy:    policy,
		protected: map[string]struct{}{DefaultRoom: {}},
	}
	d.rooms[DefaultRoom] = newRoom(DefaultRoom, SystemCreator)
	return d
}

func newRoom(name string, creator ConnID) *Room {
	return &Room{Name: name, Creator: creator, members: make(map[ConnID]struct{})}
}

// Create adds an empty room owned by creator.
func (d *Directory) Create(name string, creator ConnID) error {
	if name == "" {
		return ErrEmptyName
	}
	if _, ok := d.rooms[name]; ok {
		return fmt.Errorf("%w: %q", ErrRoomExists, name)
	}
	d.rooms[name] = newRoom(name, creator)
	return nil
}

// Delete removes a room and returns the ids of its former members, whose
// memberships are removed on both sides.
func (d *Directory) Delete(name string, requester ConnID) ([]ConnID, error) {
	room, ok := d.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRoomNotFound, name)
	}
	if d.Protected(name) {
		return nil, fmt.Errorf("%w: %q", ErrProtectedRoom, name)
	}
	conn, _ := d.registry.Lookup(requester)
	if !d.policy.CanDelete(room, conn) {
		return nil, fmt.Errorf("%w: %q", ErrNotAuthorized, name)
	}

	departed := d.membersOf(room)
	for _, id := range departed {
		d.registry.removeMembership(id, name)
	}
	delete(d.rooms, name)
	return departed, nil
}

// Join adds id to the room. It reports false when id was already a member.
func (d *Directory) Join(name string, id ConnID) (bool, error) {
	room, ok := d.rooms[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrRoomNotFound, name)
	}
	if _, ok := d.registry.Lookup(id); !ok {
		return false, ErrConnectionNotFound
	}
	if room.Has(id) {
		return false, nil
	}
	room.members[id] = struct{}{}
	d.registry.addMembership(id, name)
	return true, nil
}

// Leave removes id from the room.
func (d *Directory) Leave(name string, id ConnID) error {
	room, ok := d.rooms[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRoomNotFound, name)
	}
	if !room.Has(id) {
		return fmt.Errorf("%w: %q", ErrNotInRoom, name)
	}
	delete(room.members, id)
	d.registry.removeMembership(id, name)
	return nil
}

// Disconnect unregisters id and drops it from every room it had joined.
// It returns those rooms. Calling it again for the same id returns nil.
func (d *Directory) Disconnect(id ConnID) []string {
	rooms := d.registry.Unregister(id)
	for _, name := range rooms {
		if room, ok := d.rooms[name]; ok {
			delete(room.members, id)
		}
	}
	return rooms
}

// Lookup returns the room record for name.
func (d *Directory) Lookup(name string) (*Room, bool) {
	r, ok := d.rooms[name]
	return r, ok
}

// Protected reports whether name can never be deleted.
func (d *Directory) Protected(name string) bool {
	_, ok := d.protected[name]
	return ok
}

// Members returns the room's member ids in registration order.
func (d *Directory) Members(name string) ([]ConnID, error) {
	room, ok := d.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRoomNotFound, name)
	}
	return d.membersOf(room), nil
}

func (d *Directory) membersOf(room *Room) []ConnID {
	ids := make([]ConnID, 0, len(room.members))
	for id := range room.members {
		ids = append(ids, id)
	}
	d.registry.sortByRegistration(ids)
	return ids
}

// MemberCount returns the number of members of name.
func (d *Directory) MemberCount(name string) (int, error) {
	room, ok := d.rooms[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrRoomNotFound, name)
	}
	return room.Len(), nil
}

// AllCounts maps every room name to its member count.
func (d *Directory) AllCounts() map[string]int {
	counts := make(map[string]int, len(d.rooms))
	for name, room := range d.rooms {
		counts[name] = room.Len()
	}
	return counts
}

// Names returns every room name in sorted order.
func (d *Directory) Names() []string {
	return sortedKeys(d.rooms)
}

// CheckConsistency verifies that the room member sets and the registry's
// per-connection room sets describe the same relation.
func (d *Directory) CheckConsistency() error {
	for name, room := range d.rooms {
		for id := range room.members {
			conn, ok := d.registry.Lookup(id)
			if !ok {
				return fmt.Errorf("room %q lists unknown connection %s", name, id)
			}
			if !conn.InRoom(name) {
				return fmt.Errorf("room %q lists %s but the connection does not list the room", name, id)
			}
		}
	}
	for id, conn := range d.registry.conns {
		for room := range conn.rooms {
			r, ok := d.rooms[room]
			if !ok {
				return fmt.Errorf("connection %s lists missing room %q", id, room)
			}
			if !r.Has(id) {
				return fmt.Errorf("connection %s lists room %q but is not a member", id, room)
			}
		}
	}
	return nil
}
