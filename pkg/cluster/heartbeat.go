package cluster

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-signaling/pkg/logging"
	"github.com/dd0wney/cluso-signaling/pkg/metrics"
)

// HeartbeatMonitor publishes this node's liveness and sweeps sessions
// owned by nodes whose heartbeat key has expired.
type HeartbeatMonitor struct {
	nodeID   string
	store    Store
	failover *FailoverSupervisor
	cfg      Config

	// connectionCount reports the node's live connection total for the
	// heartbeat payload.
	connectionCount func() int

	// onSwept fires for every session this node removes during a sweep.
	// The bus copy carries our origin and is filtered by our own
	// subscriber, so local rooms are notified through this hook instead.
	onSwept func(ctx context.Context, roomID string, userID uint32)

	log     logging.Logger
	metrics *metrics.Registry
}

// NewHeartbeatMonitor creates a monitor for the given node.
func NewHeartbeatMonitor(nodeID string, store Store, failover *FailoverSupervisor, cfg Config, connCount func() int, log logging.Logger, m *metrics.Registry) *HeartbeatMonitor {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if connCount == nil {
		connCount = func() int { return 0 }
	}
	return &HeartbeatMonitor{
		nodeID:          nodeID,
		store:           store,
		failover:        failover,
		cfg:             cfg,
		connectionCount: connCount,
		log:             log.With(logging.Component("heartbeat")),
		metrics:         m,
	}
}

// SetSweptFunc registers the per-session sweep callback. Must be called
// before Run.
func (h *HeartbeatMonitor) SetSweptFunc(fn func(ctx context.Context, roomID string, userID uint32)) {
	h.onSwept = fn
}

// Run refreshes the heartbeat key every interval and sweeps for dead
// nodes on a slower cadence. Blocks until ctx is cancelled.
func (h *HeartbeatMonitor) Run(ctx context.Context) {
	// Publish immediately so the TTL key exists before the first tick
	h.publishOnce(ctx)

	beat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer beat.Stop()
	sweep := time.NewTicker(h.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-beat.C:
			h.publishOnce(ctx)
		case <-sweep.C:
			if err := h.SweepOnce(ctx); err != nil {
				h.log.Warn("dead node sweep failed", logging.Error(err))
			}
		}
	}
}

func (h *HeartbeatMonitor) publishOnce(ctx context.Context) {
	err := h.failover.Do(ctx, "heartbeat", func(ctx context.Context) error {
		if err := h.store.RefreshHeartbeat(ctx, h.nodeID, h.cfg.HeartbeatTTL); err != nil {
			return err
		}
		return h.store.RegisterNode(ctx, h.nodeID)
	})
	if err != nil {
		h.log.Warn("heartbeat refresh failed", logging.Node(h.nodeID), logging.Error(err))
		return
	}

	msg := NewHeartbeat(h.nodeID, h.connectionCount())
	if err := h.failover.Do(ctx, "publish", func(ctx context.Context) error {
		return h.store.Publish(ctx, msg)
	}); err != nil {
		h.log.Warn("heartbeat publish failed", logging.Error(err))
		return
	}
	if h.metrics != nil {
		h.metrics.HeartbeatsPublishedTotal.Inc()
	}
}

// SweepOnce scans the registered node set and tears down sessions owned
// by any node whose heartbeat has expired. Safe to run concurrently from
// multiple nodes: every removal is delete-if-present.
func (h *HeartbeatMonitor) SweepOnce(ctx context.Context) error {
	var nodes []string
	err := h.failover.Do(ctx, "nodes", func(ctx context.Context) error {
		var err error
		nodes, err = h.store.Nodes(ctx)
		return err
	})
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if node == h.nodeID {
			continue
		}

		var alive bool
		err := h.failover.Do(ctx, "node_alive", func(ctx context.Context) error {
			var err error
			alive, err = h.store.NodeAlive(ctx, node)
			return err
		})
		if err != nil {
			return err
		}
		if alive {
			continue
		}

		if err := h.sweepNode(ctx, node); err != nil {
			h.log.Warn("failed to sweep dead node", logging.Node(node), logging.Error(err))
			continue
		}
		if h.metrics != nil {
			h.metrics.DeadNodesSweptTotal.Inc()
		}
	}
	return nil
}

// sweepNode removes every session the dead node owned and announces the
// departures so surviving nodes can notify their rooms.
func (h *HeartbeatMonitor) sweepNode(ctx context.Context, node string) error {
	var records []ConnectionRecord
	err := h.failover.Do(ctx, "connections", func(ctx context.Context) error {
		var err error
		records, err = h.store.Connections(ctx, node)
		return err
	})
	if err != nil {
		return err
	}

	h.log.Info("sweeping dead node",
		logging.Node(node),
		logging.Count(len(records)))

	for _, rec := range records {
		err := h.failover.Do(ctx, "remove_participant", func(ctx context.Context) error {
			if err := h.store.RemoveParticipant(ctx, rec.RoomID, rec.UserID); err != nil {
				return err
			}
			return h.store.DeleteConnection(ctx, node, rec.UserID)
		})
		if err != nil {
			return err
		}

		left := &Message{
			Type:     MsgUserLeft,
			Origin:   h.nodeID,
			RoomID:   rec.RoomID,
			UserID:   rec.UserID,
			Username: rec.Username,
		}
		if err := h.failover.Do(ctx, "publish", func(ctx context.Context) error {
			return h.store.Publish(ctx, left)
		}); err != nil {
			return err
		}
		if h.metrics != nil {
			h.metrics.SweptConnectionsTotal.Inc()
		}
		if h.onSwept != nil {
			h.onSwept(ctx, rec.RoomID, rec.UserID)
		}
	}

	return h.failover.Do(ctx, "unregister_node", func(ctx context.Context) error {
		return h.store.UnregisterNode(ctx, node)
	})
}
