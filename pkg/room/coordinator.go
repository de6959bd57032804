package room

import (
	"context"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-signaling/pkg/messages"
)

// Coordinator presents join/leave/route uniformly regardless of operating
// mode. The mode is chosen once at startup: LocalCoordinator for a single
// process, the cluster coordinator when a coordination store is configured.
type Coordinator interface {
	// Join adds the connection to the room and returns the pre-existing
	// peers. Re-joining a room the user is already in is idempotent and
	// returns the current snapshot. Joining a different room moves the user.
	Join(ctx context.Context, roomName string, conn *Conn, password string) ([]messages.Participant, error)

	// Leave removes the user from the room. Leaving a room the user is not
	// in is a no-op, not an error.
	Leave(ctx context.Context, roomName string, userID uint32) error

	// SendToUser routes a signal to one participant of the room, wherever
	// their connection lives. Returns ErrParticipantNotFound when the target
	// is unknown and ErrDeliveryFailed when the local queue is full.
	SendToUser(ctx context.Context, roomName string, targetUserID uint32, msg *messages.ServerMessage) error

	// Broadcast delivers a message to every room member except the sender.
	Broadcast(ctx context.Context, roomName string, senderID uint32, msg *messages.ServerMessage) error

	// UserInRoom reports whether the user is currently a member of the room.
	UserInRoom(ctx context.Context, roomName string, userID uint32) bool

	// Participants returns the current membership snapshot of the room.
	Participants(ctx context.Context, roomName string) []messages.Participant

	// RemoveFromAllRooms cleans up after a closed socket. Guarded by
	// connection id so a stale close cannot evict a reconnected user.
	RemoveFromAllRooms(ctx context.Context, userID uint32, connID uuid.UUID)

	// Healthy reports whether the coordinator can currently serve joins.
	Healthy(ctx context.Context) bool

	// Close stops background work owned by the coordinator.
	Close() error
}
