package room

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the per-process table of attached connections keyed by user id.
// At most one connection per user: registering a user again displaces the
// previous connection.
//
// Concurrent Safety:
// 1. All public methods use RWMutex for thread-safe access
// 2. Read operations use RLock for concurrent reads
// 3. Snapshot copies the map so callers never iterate under the lock
type Registry struct {
	mu    sync.RWMutex
	conns map[uint32]*Conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint32]*Conn)}
}

// Register attaches a connection, returning the displaced connection for the
// same user if one existed. The caller is responsible for closing it.
func (r *Registry) Register(conn *Conn) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[conn.UserID]
	if prev != nil && prev.ID == conn.ID {
		return nil
	}
	r.conns[conn.UserID] = conn
	return prev
}

// Unregister removes the user's connection only when the connection id still
// matches. A stale close arriving after the user reconnected must not evict
// the new connection.
func (r *Registry) Unregister(userID uint32, connID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[userID]
	if !ok || conn.ID != connID {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Get returns the user's live connection on this process.
func (r *Registry) Get(userID uint32) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// Snapshot returns all currently attached connections.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Len returns the number of attached connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
