package room

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-signaling/pkg/logging"
	"github.com/dd0wney/cluso-signaling/pkg/messages"
	"github.com/dd0wney/cluso-signaling/pkg/metrics"
)

// LocalCoordinator keeps all room state in process memory. It is the whole
// story for single-node deployments and the same-node fast path the cluster
// coordinator falls back to when the coordination store degrades.
type LocalCoordinator struct {
	mu       sync.RWMutex
	rooms    map[string]map[uint32]*Conn
	registry *Registry
	policy   Policy
	log      logging.Logger
	metrics  *metrics.Registry
}

// NewLocalCoordinator creates a coordinator over the given connection
// registry. policy may be nil (all rooms open), metrics may be nil.
func NewLocalCoordinator(registry *Registry, policy Policy, log logging.Logger, m *metrics.Registry) *LocalCoordinator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &LocalCoordinator{
		rooms:    make(map[string]map[uint32]*Conn),
		registry: registry,
		policy:   policy,
		log:      log.With(logging.Component("room")),
		metrics:  m,
	}
}

// Join implements Coordinator.
func (l *LocalCoordinator) Join(_ context.Context, roomName string, conn *Conn, password string) ([]messages.Participant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	members := l.rooms[roomName]
	if existing, ok := members[conn.UserID]; ok && existing.ID == conn.ID {
		// Idempotent re-join: current peers, no duplicate state, no re-notify
		return l.peersLocked(roomName, conn.UserID), nil
	}

	if l.policy != nil {
		if err := l.policy.Admit(roomName, password, len(members)); err != nil {
			return nil, err
		}
	}

	// A user occupies at most one room: joining a new room moves them
	l.removeLocked(conn.UserID, conn.ID, roomName)

	peers := l.peersLocked(roomName, conn.UserID)

	if members == nil {
		members = make(map[uint32]*Conn)
		l.rooms[roomName] = members
	}
	members[conn.UserID] = conn
	conn.setRoom(roomName)
	if displaced := l.registry.Register(conn); displaced != nil {
		displaced.Close()
	}

	l.notifyLocked(roomName, conn.UserID, messages.UserJoined(roomName, conn.Participant()))
	l.updateGauges()

	l.log.Info("user joined room",
		logging.UserID(conn.UserID),
		logging.Room(roomName),
		logging.ConnID(conn.ID.String()))

	return peers, nil
}

// Leave implements Coordinator. Absent users are a no-op.
func (l *LocalCoordinator) Leave(_ context.Context, roomName string, userID uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	members, ok := l.rooms[roomName]
	if !ok {
		return nil
	}
	conn, ok := members[userID]
	if !ok {
		return nil
	}

	delete(members, userID)
	conn.setRoom("")
	l.registry.Unregister(userID, conn.ID)
	if len(members) == 0 {
		delete(l.rooms, roomName)
	}

	l.notifyLocked(roomName, userID, messages.UserLeft(roomName, userID))
	l.updateGauges()

	l.log.Info("user left room", logging.UserID(userID), logging.Room(roomName))
	return nil
}

// SendToUser implements Coordinator. Local-only: an unknown target means the
// participant is gone (or on another node that this mode cannot see).
func (l *LocalCoordinator) SendToUser(_ context.Context, roomName string, targetUserID uint32, msg *messages.ServerMessage) error {
	l.mu.RLock()
	conn, ok := l.rooms[roomName][targetUserID]
	l.mu.RUnlock()

	if !ok {
		return ErrParticipantNotFound
	}
	if err := conn.Send(msg); err != nil {
		if l.metrics != nil {
			l.metrics.DeliveryFailuresTotal.WithLabelValues("queue_full").Inc()
		}
		return err
	}
	if l.metrics != nil {
		l.metrics.SignalsRoutedTotal.WithLabelValues("local").Inc()
	}
	return nil
}

// Broadcast implements Coordinator.
func (l *LocalCoordinator) Broadcast(_ context.Context, roomName string, senderID uint32, msg *messages.ServerMessage) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.notifyLocked(roomName, senderID, msg)
	return nil
}

// UserInRoom implements Coordinator.
func (l *LocalCoordinator) UserInRoom(_ context.Context, roomName string, userID uint32) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.rooms[roomName][userID]
	return ok
}

// Participants implements Coordinator.
func (l *LocalCoordinator) Participants(_ context.Context, roomName string) []messages.Participant {
	l.mu.RLock()
	defer l.mu.RUnlock()

	members := l.rooms[roomName]
	out := make([]messages.Participant, 0, len(members))
	for _, c := range members {
		out = append(out, c.Participant())
	}
	return out
}

// RemoveFromAllRooms implements Coordinator.
func (l *LocalCoordinator) RemoveFromAllRooms(_ context.Context, userID uint32, connID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.removeLocked(userID, connID, "")
	l.registry.Unregister(userID, connID)
	l.updateGauges()
}

// Healthy implements Coordinator. Local state has no external dependency.
func (l *LocalCoordinator) Healthy(context.Context) bool { return true }

// Close implements Coordinator.
func (l *LocalCoordinator) Close() error { return nil }

// peersLocked returns the room's members excluding exceptUserID.
func (l *LocalCoordinator) peersLocked(roomName string, exceptUserID uint32) []messages.Participant {
	members := l.rooms[roomName]
	out := make([]messages.Participant, 0, len(members))
	for userID, c := range members {
		if userID == exceptUserID {
			continue
		}
		out = append(out, c.Participant())
	}
	return out
}

// removeLocked evicts the user from every room except skipRoom, notifying the
// remaining members. Only removes connections matching connID.
func (l *LocalCoordinator) removeLocked(userID uint32, connID uuid.UUID, skipRoom string) {
	for name, members := range l.rooms {
		if name == skipRoom {
			continue
		}
		conn, ok := members[userID]
		if !ok || conn.ID != connID {
			continue
		}
		delete(members, userID)
		conn.setRoom("")
		if len(members) == 0 {
			delete(l.rooms, name)
		}
		l.notifyLocked(name, userID, messages.UserLeft(name, userID))
		l.log.Info("user removed from room", logging.UserID(userID), logging.Room(name))
	}
}

// notifyLocked delivers a message to every room member except exceptUserID.
// Callers hold at least a read lock. Full queues are logged and skipped;
// membership events are also visible through the snapshot on rejoin.
func (l *LocalCoordinator) notifyLocked(roomName string, exceptUserID uint32, msg *messages.ServerMessage) {
	for userID, conn := range l.rooms[roomName] {
		if userID == exceptUserID {
			continue
		}
		if err := conn.Send(msg); err != nil {
			l.log.Warn("failed to notify room member",
				logging.UserID(userID),
				logging.Room(roomName),
				logging.Error(err))
		}
	}
}

func (l *LocalCoordinator) updateGauges() {
	if l.metrics == nil {
		return
	}
	l.metrics.RoomsActive.Set(float64(len(l.rooms)))
	l.metrics.ConnectionsActive.Set(float64(l.registry.Len()))
}
