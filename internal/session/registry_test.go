package session

import (
	"errors"
	"fmt"
	"testing"
)

func sequentialIDs() func() ConnID {
	n := 0
	return func() ConnID {
		n++
		return ConnID(fmt.Sprintf("c%d", n))
	}
}

func TestRegisterAllocatesDistinctIDs(t *testing.T) {
	reg := NewRegistry()
	seen := make(map[ConnID]bool)
	for i := 0; i < 100; i++ {
		id := reg.Register()
		if id == "" {
			t.Fatal("Register returned empty id")
		}
		if seen[id] {
			t.Fatalf("Register returned duplicate id %s", id)
		}
		seen[id] = true
	}
	if reg.Len() != 100 {
		t.Errorf("Len() = %d, want 100", reg.Len())
	}
}

func TestRegisterSkipsLiveCollisions(t *testing.T) {
	ids := []ConnID{"a", "a", "b"}
	reg := NewRegistryWithIDs(func() ConnID {
		id := ids[0]
		ids = ids[1:]
		return id
	})

	if got := reg.Register(); got != "a" {
		t.Fatalf("first Register() = %s, want a", got)
	}
	if got := reg.Register(); got != "b" {
		t.Fatalf("second Register() = %s, want b", got)
	}
}

func TestNewConnectionIsUnidentified(t *testing.T) {
	reg := NewRegistryWithIDs(sequentialIDs())
	id := reg.Register()

	conn, ok := reg.Lookup(id)
	if !ok {
		t.Fatal("Lookup failed for registered id")
	}
	if conn.Identified() {
		t.Error("new connection reports Identified")
	}
	if len(conn.Rooms()) != 0 {
		t.Errorf("new connection has rooms %v", conn.Rooms())
	}
}

func TestSetUsername(t *testing.T) {
	reg := NewRegistryWithIDs(sequentialIDs())
	a := reg.Register()
	b := reg.Register()

	if err := reg.SetUsername(a, "alice"); err != nil {
		t.Fatalf("SetUsername: %v", err)
	}
	if err := reg.SetUsername(b, "alice"); err != nil {
		t.Fatalf("duplicate usernames must be allowed: %v", err)
	}
	if err := reg.SetUsername(a, "alicia"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	conn, _ := reg.Lookup(a)
	if conn.Username != "alicia" || !conn.Identified() {
		t.Errorf("connection = %+v", conn)
	}

	if err := reg.SetUsername(a, ""); !errors.Is(err, ErrEmptyName) {
		t.Errorf("empty name error = %v, want ErrEmptyName", err)
	}
	if err := reg.SetUsername("missing", "x"); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("unknown id error = %v, want ErrConnectionNotFound", err)
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	reg := NewRegistryWithIDs(sequentialIDs())
	dir := NewDirectory(reg, nil)
	id := reg.Register()
	if _, err := dir.Join(DefaultRoom, id); err != nil {
		t.Fatal(err)
	}

	rooms := reg.Unregister(id)
	if len(rooms) != 1 || rooms[0] != DefaultRoom {
		t.Errorf("Unregister() = %v, want [default]", rooms)
	}
	if again := reg.Unregister(id); again != nil {
		t.Errorf("second Unregister() = %v, want nil", again)
	}
	if _, ok := reg.Lookup(id); ok {
		t.Error("record still present after Unregister")
	}
	if len(reg.IDs()) != 0 {
		t.Errorf("IDs() = %v after Unregister", reg.IDs())
	}
}

func TestSnapshotKeepsRegistrationOrder(t *testing.T) {
	reg := NewRegistryWithIDs(sequentialIDs())
	a := reg.Register()
	b := reg.Register()
	c := reg.Register()
	reg.Unregister(b)
	if err := reg.SetUsername(c, "carol"); err != nil {
		t.Fatal(err)
	}

	snap := reg.Snapshot()
	if len(snap) != 2 || snap[0].ID != a || snap[1].ID != c {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	if snap[1].Username != "carol" {
		t.Errorf("Snapshot username = %q", snap[1].Username)
	}
}
