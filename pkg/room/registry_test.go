package room

import (
	"testing"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-signaling/pkg/auth"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	conn := NewConn(auth.User{ID: 1, Username: "alice"}, 0)

	if displaced := r.Register(conn); displaced != nil {
		t.Fatalf("unexpected displaced connection: %v", displaced.ID)
	}

	got, ok := r.Get(1)
	if !ok {
		t.Fatal("connection not found after register")
	}
	if got.ID != conn.ID {
		t.Errorf("Get returned wrong connection: %v", got.ID)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryDisplacesPreviousConnection(t *testing.T) {
	r := NewRegistry()
	first := NewConn(auth.User{ID: 1, Username: "alice"}, 0)
	second := NewConn(auth.User{ID: 1, Username: "alice"}, 0)

	r.Register(first)
	displaced := r.Register(second)

	if displaced == nil || displaced.ID != first.ID {
		t.Fatalf("expected first connection displaced, got %v", displaced)
	}
	got, _ := r.Get(1)
	if got.ID != second.ID {
		t.Errorf("registry holds stale connection")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryRegisterSameConnectionTwice(t *testing.T) {
	r := NewRegistry()
	conn := NewConn(auth.User{ID: 1, Username: "alice"}, 0)

	r.Register(conn)
	if displaced := r.Register(conn); displaced != nil {
		t.Errorf("re-registering the same connection displaced %v", displaced.ID)
	}
}

func TestRegistryUnregisterGuardsConnectionID(t *testing.T) {
	r := NewRegistry()
	first := NewConn(auth.User{ID: 1, Username: "alice"}, 0)
	second := NewConn(auth.User{ID: 1, Username: "alice"}, 0)

	r.Register(first)
	r.Register(second)

	// A stale close from the displaced connection must not evict the new one
	if r.Unregister(1, first.ID) {
		t.Error("stale unregister succeeded")
	}
	if _, ok := r.Get(1); !ok {
		t.Fatal("new connection was evicted by stale close")
	}

	if !r.Unregister(1, second.ID) {
		t.Error("matching unregister failed")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}

	if r.Unregister(1, uuid.New()) {
		t.Error("unregister of absent user succeeded")
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	for i := uint32(1); i <= 3; i++ {
		r.Register(NewConn(auth.User{ID: i, Username: "user"}, 0))
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot has %d connections, want 3", len(snap))
	}

	// Snapshot is a copy: mutating the registry does not affect it
	for _, c := range snap {
		if c.UserID == 1 {
			r.Unregister(1, c.ID)
		}
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	if len(snap) != 3 {
		t.Error("snapshot changed after unregister")
	}
}
