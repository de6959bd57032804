package cluster

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config defines clustering behavior for one node.
type Config struct {
	// NodeID uniquely identifies this process across the cluster.
	// Generated when empty.
	NodeID string

	// HeartbeatInterval is how often this node refreshes its liveness key.
	HeartbeatInterval time.Duration
	// HeartbeatTTL is the liveness key expiry. Must exceed the interval or
	// peers would declare this node dead between two refreshes.
	HeartbeatTTL time.Duration
	// SweepInterval is how often this node scans for dead peers.
	SweepInterval time.Duration

	// StoreTimeout bounds every coordination store call.
	StoreTimeout time.Duration

	// FailureThreshold is the number of consecutive store failures before
	// the node degrades to local-only operation.
	FailureThreshold int
	// ProbeBackoffMin/Max bound the reconnect probe backoff while degraded.
	ProbeBackoffMin time.Duration
	ProbeBackoffMax time.Duration

	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int
}

// DefaultConfig returns a safe default configuration
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTTL:      30 * time.Second,
		SweepInterval:     15 * time.Second,
		StoreTimeout:      2 * time.Second,
		FailureThreshold:  3,
		ProbeBackoffMin:   time.Second,
		ProbeBackoffMax:   30 * time.Second,
		SendBuffer:        64,
	}
}

// GenerateNodeID produces a stable-for-the-process node identity.
func GenerateNodeID() string {
	return fmt.Sprintf("signaling-%s", uuid.New().String()[:8])
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrInvalidNodeID
	}
	if c.HeartbeatInterval <= 0 || c.SweepInterval <= 0 || c.StoreTimeout <= 0 {
		return ErrInvalidInterval
	}
	if c.HeartbeatTTL <= c.HeartbeatInterval {
		return ErrTTLTooSmall
	}
	if c.FailureThreshold < 1 {
		return ErrInvalidThreshold
	}
	if c.ProbeBackoffMax < c.ProbeBackoffMin {
		return ErrInvalidBackoff
	}
	return nil
}
