package cluster

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It backs single-binary
// deployments that want cluster semantics without Redis, and the test suite,
// where one MemoryStore shared by several coordinators stands in for the
// shared substrate. The clock is injectable so liveness expiry is testable.
type MemoryStore struct {
	mu         sync.RWMutex
	rooms      map[string]map[uint32]string           // room -> user -> node
	conns      map[string]map[uint32]ConnectionRecord // node -> user -> record
	heartbeats map[string]time.Time                   // node -> expiry
	nodes      map[string]struct{}

	subMu   sync.Mutex
	subs    map[chan []byte]struct{}
	closed  bool
	failing bool

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory coordination store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:      make(map[string]map[uint32]string),
		conns:      make(map[string]map[uint32]ConnectionRecord),
		heartbeats: make(map[string]time.Time),
		nodes:      make(map[string]struct{}),
		subs:       make(map[chan []byte]struct{}),
		now:        time.Now,
	}
}

// SetClock replaces the liveness clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetFailing makes every operation return ErrStoreUnavailable, simulating a
// store outage. Test hook.
func (s *MemoryStore) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

func (s *MemoryStore) check() error {
	if s.failing {
		return ErrStoreUnavailable
	}
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// AddParticipant implements Store.
func (s *MemoryStore) AddParticipant(_ context.Context, roomID string, userID uint32, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if s.rooms[roomID] == nil {
		s.rooms[roomID] = make(map[uint32]string)
	}
	s.rooms[roomID][userID] = nodeID
	return nil
}

// RemoveParticipant implements Store.
func (s *MemoryStore) RemoveParticipant(_ context.Context, roomID string, userID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if members, ok := s.rooms[roomID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(s.rooms, roomID)
		}
	}
	return nil
}

// Participants implements Store.
func (s *MemoryStore) Participants(_ context.Context, roomID string) (map[uint32]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make(map[uint32]string, len(s.rooms[roomID]))
	for userID, nodeID := range s.rooms[roomID] {
		out[userID] = nodeID
	}
	return out, nil
}

// OwnerNode implements Store.
func (s *MemoryStore) OwnerNode(_ context.Context, roomID string, userID uint32) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return "", err
	}
	nodeID, ok := s.rooms[roomID][userID]
	if !ok {
		return "", ErrNotFound
	}
	return nodeID, nil
}

// SaveConnection implements Store.
func (s *MemoryStore) SaveConnection(_ context.Context, nodeID string, rec ConnectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if s.conns[nodeID] == nil {
		s.conns[nodeID] = make(map[uint32]ConnectionRecord)
	}
	s.conns[nodeID][rec.UserID] = rec
	return nil
}

// DeleteConnection implements Store.
func (s *MemoryStore) DeleteConnection(_ context.Context, nodeID string, userID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if conns, ok := s.conns[nodeID]; ok {
		delete(conns, userID)
		if len(conns) == 0 {
			delete(s.conns, nodeID)
		}
	}
	return nil
}

// Connection implements Store.
func (s *MemoryStore) Connection(_ context.Context, nodeID string, userID uint32) (ConnectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var zero ConnectionRecord
	if err := s.check(); err != nil {
		return zero, err
	}
	rec, ok := s.conns[nodeID][userID]
	if !ok {
		return zero, ErrNotFound
	}
	return rec, nil
}

// Connections implements Store.
func (s *MemoryStore) Connections(_ context.Context, nodeID string) ([]ConnectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]ConnectionRecord, 0, len(s.conns[nodeID]))
	for _, rec := range s.conns[nodeID] {
		out = append(out, rec)
	}
	return out, nil
}

// RegisterNode implements Store.
func (s *MemoryStore) RegisterNode(_ context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.nodes[nodeID] = struct{}{}
	return nil
}

// UnregisterNode implements Store.
func (s *MemoryStore) UnregisterNode(_ context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.nodes, nodeID)
	delete(s.heartbeats, nodeID)
	return nil
}

// Nodes implements Store.
func (s *MemoryStore) Nodes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(s.nodes))
	for nodeID := range s.nodes {
		out = append(out, nodeID)
	}
	return out, nil
}

// RefreshHeartbeat implements Store.
func (s *MemoryStore) RefreshHeartbeat(_ context.Context, nodeID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.heartbeats[nodeID] = s.now().Add(ttl)
	return nil
}

// NodeAlive implements Store.
func (s *MemoryStore) NodeAlive(_ context.Context, nodeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return false, err
	}
	expiry, ok := s.heartbeats[nodeID]
	return ok && s.now().Before(expiry), nil
}

// Publish implements Store. Delivery is non-blocking: a subscriber that
// cannot keep up loses messages rather than stalling the publisher.
func (s *MemoryStore) Publish(_ context.Context, msg *Message) error {
	s.mu.RLock()
	err := s.check()
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	data, err := msg.Encode()
	if err != nil {
		return err
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(ctx context.Context) (<-chan []byte, error) {
	s.mu.RLock()
	err := s.check()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, 128)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}()

	return ch, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.subMu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.subMu.Unlock()
	return nil
}
