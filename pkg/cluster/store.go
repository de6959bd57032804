package cluster

import (
	"context"
	"time"
)

// ConnectionRecord is the shared-store view of one live connection, keyed
// under its owning node. Peer nodes read these records for usernames and for
// crash recovery; the live socket itself never leaves the owning process.
type ConnectionRecord struct {
	UserID       uint32    `json:"userId"`
	Username     string    `json:"username"`
	RoomID       string    `json:"roomId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	ConnectionID string    `json:"connectionId"`
}

// Store is the access layer over the shared coordination substrate. All
// operations are single-key or single-hash-field so concurrent writers on
// different nodes never need a multi-key transaction. Membership reads are
// eventually consistent; the bus events are the authoritative real-time
// signal.
type Store interface {
	// Room membership mapping: room -> (user -> owning node)
	AddParticipant(ctx context.Context, roomID string, userID uint32, nodeID string) error
	RemoveParticipant(ctx context.Context, roomID string, userID uint32) error
	Participants(ctx context.Context, roomID string) (map[uint32]string, error)
	// OwnerNode returns ErrNotFound when the user is not in the room.
	OwnerNode(ctx context.Context, roomID string, userID uint32) (string, error)

	// Per-node connection records, for crash recovery bookkeeping
	SaveConnection(ctx context.Context, nodeID string, rec ConnectionRecord) error
	DeleteConnection(ctx context.Context, nodeID string, userID uint32) error
	Connection(ctx context.Context, nodeID string, userID uint32) (ConnectionRecord, error)
	Connections(ctx context.Context, nodeID string) ([]ConnectionRecord, error)

	// Node registry and TTL-based liveness
	RegisterNode(ctx context.Context, nodeID string) error
	UnregisterNode(ctx context.Context, nodeID string) error
	Nodes(ctx context.Context) ([]string, error)
	RefreshHeartbeat(ctx context.Context, nodeID string, ttl time.Duration) error
	NodeAlive(ctx context.Context, nodeID string) (bool, error)

	// Cluster bus. Publish is fire-and-forget; Subscribe delivers raw
	// payloads until ctx is cancelled.
	Publish(ctx context.Context, msg *Message) error
	Subscribe(ctx context.Context) (<-chan []byte, error)

	// Ping probes connectivity.
	Ping(ctx context.Context) error

	Close() error
}
