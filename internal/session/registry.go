// Package session holds the authoritative chat state: the Connection
// Registry, the Room Directory, and the membership relation between them.
//
// Nothing in this package is safe for concurrent use. A single owner (the
// router, driven by the hub goroutine) performs every call.
package session

import (
	"sort"

	"github.com/google/uuid"
)

// ConnID identifies a connection for the lifetime of the process.
type ConnID string

// Connection is a registry record.
type Connection struct {
	ID       ConnID
	Username string
	rooms    map[string]struct{}
	seq      uint64
}

// Identified reports whether the connection has completed identify.
func (c *Connection) Identified() bool {
	return c.Username != ""
}

// InRoom reports whether the connection is a member of room.
func (c *Connection) InRoom(room string) bool {
	_, ok := c.rooms[room]
	return ok
}

// Rooms returns the joined room names in sorted order.
func (c *Connection) Rooms() []string {
	return sortedKeys(c.rooms)
}

// ConnectionInfo is a read-only copy of a registry record.
type ConnectionInfo struct {
	ID       ConnID   `json:"id"`
	Username string   `json:"username"`
	Rooms    []string `json:"rooms"`
}

// Registry records each live connection's identity and memberships.
type Registry struct {
	conns map[ConnID]*Connection
	next  uint64
	newID func() ConnID
}

// NewRegistry returns an empty registry that allocates random UUIDs.
func NewRegistry() *Registry {
	return NewRegistryWithIDs(func() ConnID { return ConnID(uuid.NewString()) })
}

// NewRegistryWithIDs returns an empty registry using newID to allocate ids.
// The generator must not repeat itself for the lifetime of the registry;
// ids colliding with a live connection are skipped.
func NewRegistryWithIDs(newID func() ConnID) *Registry {
	return &Registry{
		conns: make(map[ConnID]*Connection),
		newID: newID,
	}
}

// Register allocates a connection with no username and no rooms.
func (r *Registry) Register() ConnID {
	id := r.newID()
	for {
		if _, taken := r.conns[id]; !taken {
			break
		}
		id = r.newID()
	}
	r.next++
	r.conns[id] = &Connection{ID: id, rooms: make(map[string]struct{}), seq: r.next}
	return id
}

// Lookup returns the live record for id.
func (r *Registry) Lookup(id ConnID) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// SetUsername sets or overwrites the username. Usernames need not be unique.
func (r *Registry) SetUsername(id ConnID, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	c, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	c.Username = name
	return nil
}

// Unregister deletes the record and returns the rooms it had joined.
// Unregistering an unknown id returns nil.
func (r *Registry) Unregister(id ConnID) []string {
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)
	return sortedKeys(c.rooms)
}

// IDs returns every live connection id in registration order.
func (r *Registry) IDs() []ConnID {
	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.sortByRegistration(ids)
	return ids
}

// sortByRegistration orders live ids by the time they registered.
func (r *Registry) sortByRegistration(ids []ConnID) {
	sort.Slice(ids, func(i, j int) bool {
		return r.seqOf(ids[i]) < r.seqOf(ids[j])
	})
}

func (r *Registry) seqOf(id ConnID) uint64 {
	if c, ok := r.conns[id]; ok {
		return c.seq
	}
	return 0
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// Snapshot copies every live record in registration order.
func (r *Registry) Snapshot() []ConnectionInfo {
	out := make([]ConnectionInfo, 0, len(r.conns))
	for _, id := range r.IDs() {
		c := r.conns[id]
		out = append(out, ConnectionInfo{ID: c.ID, Username: c.Username, Rooms: c.Rooms()})
	}
	return out
}

// addMembership and removeMembership are only called by Directory, which
// applies the matching change to the room's member set.
func (r *Registry) addMembership(id ConnID, room string) {
	if c, ok := r.conns[id]; ok {
		c.rooms[room] = struct{}{}
	}
}

func (r *Registry) removeMembership(id ConnID, room string) {
	if c, ok := r.conns[id]; ok {
		delete(c.rooms, room)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
