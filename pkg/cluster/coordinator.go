// Package cluster implements the shared-store room coordinator. Each node
// keeps its own sockets in pkg/room's registry and mirrors membership into
// the coordination store; cross-node traffic travels over the store's
// pub/sub bus as Message payloads.
package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-signaling/pkg/logging"
	"github.com/dd0wney/cluso-signaling/pkg/messages"
	"github.com/dd0wney/cluso-signaling/pkg/metrics"
	"github.com/dd0wney/cluso-signaling/pkg/room"
)

// Coordinator extends room coordination across nodes. Local participants are
// served from process memory; remote ones are tracked in a peer cache fed by
// bus events and reconciled against the store on join.
type Coordinator struct {
	nodeID   string
	cfg      Config
	store    Store
	failover *FailoverSupervisor
	monitor  *HeartbeatMonitor
	local    *room.LocalCoordinator
	registry *room.Registry

	// remote membership cache: room -> user -> username
	mu          sync.RWMutex
	remotePeers map[string]map[uint32]string

	log     logging.Logger
	metrics *metrics.Registry

	cancel context.CancelFunc
	done   chan struct{}
}

var _ room.Coordinator = (*Coordinator)(nil)

// NewCoordinator builds a clustered coordinator over the given store. The
// registry is shared with the server layer so signal routing and heartbeat
// counts see the same connections.
func NewCoordinator(cfg Config, store Store, registry *room.Registry, policy room.Policy, log logging.Logger, m *metrics.Registry) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewNopLogger()
	}

	c := &Coordinator{
		nodeID:      cfg.NodeID,
		cfg:         cfg,
		store:       store,
		local:       room.NewLocalCoordinator(registry, policy, log, m),
		registry:    registry,
		remotePeers: make(map[string]map[uint32]string),
		log:         log.With(logging.Component("cluster"), logging.Node(cfg.NodeID)),
		metrics:     m,
		done:        make(chan struct{}),
	}

	c.failover = NewFailoverSupervisor(store, cfg, log, m)
	c.failover.SetRecoverFunc(c.reregister)
	c.monitor = NewHeartbeatMonitor(cfg.NodeID, store, c.failover, cfg, registry.Len, log, m)
	c.monitor.SetSweptFunc(c.userSwept)
	return c, nil
}

// Start registers the node, subscribes to the bus, and launches the
// heartbeat and failover loops.
func (c *Coordinator) Start(ctx context.Context) error {
	err := c.failover.Do(ctx, "register_node", func(ctx context.Context) error {
		if err := c.store.RegisterNode(ctx, c.nodeID); err != nil {
			return err
		}
		return c.store.RefreshHeartbeat(ctx, c.nodeID, c.cfg.HeartbeatTTL)
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go c.failover.Run(runCtx)
	go c.monitor.Run(runCtx)
	go func() {
		defer close(c.done)
		c.runSubscriber(runCtx)
	}()

	c.log.Info("cluster coordinator started")
	return nil
}

// Join implements room.Coordinator. Local state is authoritative for this
// node's sockets; the store write and bus announcement are best effort and
// their failure degrades the node to local-only rather than failing the join.
func (c *Coordinator) Join(ctx context.Context, roomName string, conn *room.Conn, password string) ([]messages.Participant, error) {
	prevRoom := conn.Room()

	peers, err := c.local.Join(ctx, roomName, conn, password)
	if err != nil {
		return nil, err
	}

	storeErr := c.failover.Do(ctx, "add_participant", func(ctx context.Context) error {
		if prevRoom != "" && prevRoom != roomName {
			if err := c.store.RemoveParticipant(ctx, prevRoom, conn.UserID); err != nil {
				return err
			}
		}
		if err := c.store.AddParticipant(ctx, roomName, conn.UserID, c.nodeID); err != nil {
			return err
		}
		return c.store.SaveConnection(ctx, c.nodeID, ConnectionRecord{
			UserID:       conn.UserID,
			Username:     conn.Username,
			RoomID:       roomName,
			ConnectedAt:  conn.ConnectedAt,
			ConnectionID: conn.ID.String(),
		})
	})
	if storeErr != nil {
		c.log.Warn("join not propagated to cluster",
			logging.UserID(conn.UserID),
			logging.Room(roomName),
			logging.Error(storeErr))
		return peers, nil
	}

	if prevRoom != "" && prevRoom != roomName {
		c.publish(ctx, &Message{
			Type:   MsgUserLeft,
			Origin: c.nodeID,
			RoomID: prevRoom,
			UserID: conn.UserID,
		})
	}
	// Re-joins refresh the store record but are never re-announced
	if prevRoom != roomName {
		c.publish(ctx, &Message{
			Type:     MsgUserJoined,
			Origin:   c.nodeID,
			RoomID:   roomName,
			UserID:   conn.UserID,
			Username: conn.Username,
		})
	}

	return c.mergeRemotePeers(ctx, roomName, conn.UserID, peers), nil
}

// Leave implements room.Coordinator.
func (c *Coordinator) Leave(ctx context.Context, roomName string, userID uint32) error {
	if err := c.local.Leave(ctx, roomName, userID); err != nil {
		return err
	}

	err := c.failover.Do(ctx, "remove_participant", func(ctx context.Context) error {
		if err := c.store.RemoveParticipant(ctx, roomName, userID); err != nil {
			return err
		}
		return c.store.DeleteConnection(ctx, c.nodeID, userID)
	})
	if err != nil {
		c.log.Warn("leave not propagated to cluster",
			logging.UserID(userID), logging.Room(roomName), logging.Error(err))
		return nil
	}

	c.publish(ctx, &Message{
		Type:   MsgUserLeft,
		Origin: c.nodeID,
		RoomID: roomName,
		UserID: userID,
	})
	return nil
}

// SendToUser implements room.Coordinator. A target attached to this node is
// delivered directly; otherwise the signal is published toward the owning
// node. While degraded only local targets are reachable.
func (c *Coordinator) SendToUser(ctx context.Context, roomName string, targetUserID uint32, msg *messages.ServerMessage) error {
	err := c.local.SendToUser(ctx, roomName, targetUserID, msg)
	if err == nil || !errors.Is(err, room.ErrParticipantNotFound) {
		return err
	}

	if !c.failover.Healthy() {
		if c.metrics != nil {
			c.metrics.DeliveryFailuresTotal.WithLabelValues("degraded").Inc()
		}
		return room.ErrParticipantNotFound
	}

	var owner string
	lookupErr := c.failover.Do(ctx, "owner_node", func(ctx context.Context) error {
		var err error
		owner, err = c.store.OwnerNode(ctx, roomName, targetUserID)
		return err
	})
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			if c.metrics != nil {
				c.metrics.DeliveryFailuresTotal.WithLabelValues("not_found").Inc()
			}
			return room.ErrParticipantNotFound
		}
		return lookupErr
	}

	bus := signalMessage(c.nodeID, owner, roomName, targetUserID, msg)
	if bus == nil {
		return messages.ErrUnknownType
	}
	c.publish(ctx, bus)
	if c.metrics != nil {
		c.metrics.SignalsRoutedTotal.WithLabelValues("remote").Inc()
	}
	return nil
}

// Broadcast implements room.Coordinator. Local members get direct delivery;
// one bus copy fans out to every other node hosting the room.
func (c *Coordinator) Broadcast(ctx context.Context, roomName string, senderID uint32, msg *messages.ServerMessage) error {
	if err := c.local.Broadcast(ctx, roomName, senderID, msg); err != nil {
		return err
	}
	if !c.failover.Healthy() {
		return nil
	}
	if bus := signalMessage(c.nodeID, "", roomName, 0, msg); bus != nil {
		c.publish(ctx, bus)
	}
	return nil
}

// UserInRoom implements room.Coordinator.
func (c *Coordinator) UserInRoom(ctx context.Context, roomName string, userID uint32) bool {
	if c.local.UserInRoom(ctx, roomName, userID) {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.remotePeers[roomName][userID]
	return ok
}

// Participants implements room.Coordinator: local members plus the cached
// remote view. The cache is bounded-stale; bus events keep it converging.
func (c *Coordinator) Participants(ctx context.Context, roomName string) []messages.Participant {
	out := c.local.Participants(ctx, roomName)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for userID, username := range c.remotePeers[roomName] {
		out = append(out, messages.Participant{UserID: userID, Username: username})
	}
	return out
}

// RemoveFromAllRooms implements room.Coordinator. Called on socket teardown;
// the store cleanup mirrors what a peer's dead-node sweep would do.
func (c *Coordinator) RemoveFromAllRooms(ctx context.Context, userID uint32, connID uuid.UUID) {
	c.local.RemoveFromAllRooms(ctx, userID, connID)

	var rec ConnectionRecord
	err := c.failover.Do(ctx, "connection", func(ctx context.Context) error {
		var err error
		rec, err = c.store.Connection(ctx, c.nodeID, userID)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.log.Warn("disconnect not propagated to cluster",
				logging.UserID(userID), logging.Error(err))
		}
		return
	}
	// A reconnect may already own the record
	if rec.ConnectionID != connID.String() {
		return
	}

	err = c.failover.Do(ctx, "remove_participant", func(ctx context.Context) error {
		if rec.RoomID != "" {
			if err := c.store.RemoveParticipant(ctx, rec.RoomID, userID); err != nil {
				return err
			}
		}
		return c.store.DeleteConnection(ctx, c.nodeID, userID)
	})
	if err != nil {
		c.log.Warn("disconnect not propagated to cluster",
			logging.UserID(userID), logging.Error(err))
		return
	}

	if rec.RoomID != "" {
		c.publish(ctx, &Message{
			Type:   MsgUserLeft,
			Origin: c.nodeID,
			RoomID: rec.RoomID,
			UserID: userID,
		})
	}
}

// Healthy implements room.Coordinator.
func (c *Coordinator) Healthy(context.Context) bool {
	return c.failover.Healthy()
}

// Close implements room.Coordinator. Deregisters the node so peers do not
// wait out the heartbeat TTL on a clean shutdown.
func (c *Coordinator) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()
	if err := c.store.UnregisterNode(ctx, c.nodeID); err != nil {
		c.log.Warn("node deregistration failed", logging.Error(err))
	}
	return c.store.Close()
}

// publish is fire-and-forget: a lost announcement is repaired by the next
// membership reconciliation or sweep, never by blocking the caller.
func (c *Coordinator) publish(ctx context.Context, msg *Message) {
	err := c.failover.Do(ctx, "publish", func(ctx context.Context) error {
		return c.store.Publish(ctx, msg)
	})
	if err != nil {
		c.log.Warn("bus publish failed",
			logging.String("message_type", string(msg.Type)),
			logging.Error(err))
	}
}

// mergeRemotePeers folds the store's membership view for the room into the
// locally known peers and refreshes the remote cache along the way.
func (c *Coordinator) mergeRemotePeers(ctx context.Context, roomName string, selfID uint32, peers []messages.Participant) []messages.Participant {
	var owners map[uint32]string
	err := c.failover.Do(ctx, "participants", func(ctx context.Context) error {
		var err error
		owners, err = c.store.Participants(ctx, roomName)
		return err
	})
	if err != nil {
		return peers
	}

	seen := make(map[uint32]struct{}, len(peers))
	for _, p := range peers {
		seen[p.UserID] = struct{}{}
	}

	for userID, node := range owners {
		if userID == selfID || node == c.nodeID {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		username := c.remoteUsername(ctx, node, userID)
		c.cacheRemotePeer(roomName, userID, username)
		peers = append(peers, messages.Participant{UserID: userID, Username: username})
	}
	return peers
}

func (c *Coordinator) remoteUsername(ctx context.Context, node string, userID uint32) string {
	c.mu.RLock()
	for _, users := range c.remotePeers {
		if name, ok := users[userID]; ok {
			c.mu.RUnlock()
			return name
		}
	}
	c.mu.RUnlock()

	var rec ConnectionRecord
	err := c.failover.Do(ctx, "connection", func(ctx context.Context) error {
		var err error
		rec, err = c.store.Connection(ctx, node, userID)
		return err
	})
	if err != nil {
		return ""
	}
	return rec.Username
}

func (c *Coordinator) cacheRemotePeer(roomName string, userID uint32, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// One room per user holds cluster-wide
	for name, users := range c.remotePeers {
		if name == roomName {
			continue
		}
		delete(users, userID)
		if len(users) == 0 {
			delete(c.remotePeers, name)
		}
	}

	users := c.remotePeers[roomName]
	if users == nil {
		users = make(map[uint32]string)
		c.remotePeers[roomName] = users
	}
	users[userID] = username
}

// dropRemotePeer removes the cache entry and reports whether it was present.
// The presence gate keeps duplicate user-left announcements from reaching
// clients more than once.
func (c *Coordinator) dropRemotePeer(roomName string, userID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	users, ok := c.remotePeers[roomName]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(c.remotePeers, roomName)
	}
	return true
}

// userSwept handles departures this node's own sweep discovered. The cache
// gate keeps the notification exactly-once when another survivor swept the
// same user first and its bus announcement already arrived.
func (c *Coordinator) userSwept(ctx context.Context, roomName string, userID uint32) {
	if roomName == "" {
		return
	}
	if !c.dropRemotePeer(roomName, userID) {
		return
	}
	c.local.Broadcast(ctx, roomName, userID, messages.UserLeft(roomName, userID))
}

// reregister pushes this node's live sessions back into the store after an
// outage. Runs before the failover supervisor flips back to Healthy.
func (c *Coordinator) reregister(ctx context.Context) error {
	if err := c.store.RegisterNode(ctx, c.nodeID); err != nil {
		return err
	}
	if err := c.store.RefreshHeartbeat(ctx, c.nodeID, c.cfg.HeartbeatTTL); err != nil {
		return err
	}

	for _, conn := range c.registry.Snapshot() {
		roomName := conn.Room()
		if roomName != "" {
			if err := c.store.AddParticipant(ctx, roomName, conn.UserID, c.nodeID); err != nil {
				return err
			}
		}
		err := c.store.SaveConnection(ctx, c.nodeID, ConnectionRecord{
			UserID:       conn.UserID,
			Username:     conn.Username,
			RoomID:       roomName,
			ConnectedAt:  conn.ConnectedAt,
			ConnectionID: conn.ID.String(),
		})
		if err != nil {
			return err
		}
	}
	c.log.Info("re-registered local sessions after store outage",
		logging.Count(c.registry.Len()))
	return nil
}

// runSubscriber consumes the bus until ctx is cancelled, resubscribing with
// backoff when the store drops the subscription.
func (c *Coordinator) runSubscriber(ctx context.Context) {
	backoff := c.cfg.ProbeBackoffMin
	for {
		ch, err := c.store.Subscribe(ctx)
		if err != nil {
			c.log.Warn("bus subscription failed", logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.ProbeBackoffMax {
				backoff = c.cfg.ProbeBackoffMax
			}
			continue
		}
		backoff = c.cfg.ProbeBackoffMin

		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-ch:
				if !ok {
					c.log.Warn("bus subscription closed, resubscribing")
					goto resubscribe
				}
				c.handlePayload(ctx, payload)
			}
		}
	resubscribe:
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (c *Coordinator) handlePayload(ctx context.Context, payload []byte) {
	msg, err := DecodeMessage(payload)
	if err != nil {
		if c.metrics != nil {
			c.metrics.BusMessagesDroppedTotal.Inc()
		}
		c.log.Warn("dropping malformed bus message", logging.Error(err))
		return
	}
	if msg.Origin == c.nodeID {
		return
	}
	if msg.TargetServer != "" && msg.TargetServer != c.nodeID {
		return
	}
	if c.metrics != nil {
		c.metrics.BusMessagesTotal.WithLabelValues(string(msg.Type)).Inc()
	}

	switch msg.Type {
	case MsgUserJoined:
		c.handleUserJoined(ctx, msg)
	case MsgUserLeft:
		c.handleUserLeft(ctx, msg)
	case MsgSignal:
		c.handleSignal(ctx, msg)
	case MsgHeartbeat:
		c.log.Debug("peer heartbeat",
			logging.Node(msg.NodeID),
			logging.Int("connections", msg.ConnectionCount))
	}
}

func (c *Coordinator) handleUserJoined(ctx context.Context, msg *Message) {
	// Skip our own users echoed back through another node's sweep recovery
	if _, ok := c.registry.Get(msg.UserID); ok {
		return
	}
	c.cacheRemotePeer(msg.RoomID, msg.UserID, msg.Username)
	c.local.Broadcast(ctx, msg.RoomID, msg.UserID,
		messages.UserJoined(msg.RoomID, messages.Participant{UserID: msg.UserID, Username: msg.Username}))
}

func (c *Coordinator) handleUserLeft(ctx context.Context, msg *Message) {
	if !c.dropRemotePeer(msg.RoomID, msg.UserID) {
		// Not known present here: duplicate or unrelated announcement
		return
	}
	c.local.Broadcast(ctx, msg.RoomID, msg.UserID, messages.UserLeft(msg.RoomID, msg.UserID))
}

func (c *Coordinator) handleSignal(ctx context.Context, msg *Message) {
	out := serverMessage(msg)
	if out == nil {
		if c.metrics != nil {
			c.metrics.BusMessagesDroppedTotal.Inc()
		}
		return
	}

	if msg.ToUser == 0 {
		// Room-wide signal: deliver to this node's members
		c.local.Broadcast(ctx, msg.RoomID, msg.FromUser, out)
		return
	}

	if err := c.local.SendToUser(ctx, msg.RoomID, msg.ToUser, out); err != nil {
		c.log.Warn("cross-node signal delivery failed",
			logging.UserID(msg.ToUser),
			logging.Room(msg.RoomID),
			logging.Error(err))
	}
}

// signalMessage converts an outbound client frame to its bus form. Returns
// nil for frame types that never cross nodes.
func signalMessage(origin, target, roomName string, toUser uint32, msg *messages.ServerMessage) *Message {
	var fromUser uint32
	if msg.FromUserID != nil {
		fromUser = *msg.FromUserID
	}

	bus := &Message{
		Type:         MsgSignal,
		Origin:       origin,
		TargetServer: target,
		RoomID:       roomName,
		FromUser:     fromUser,
		ToUser:       toUser,
		SignalType:   string(msg.Type),
	}

	switch msg.Type {
	case messages.TypeOffer, messages.TypeAnswer:
		bus.SignalData = msg.SDP
	case messages.TypeICECandidate:
		bus.SignalData = msg.Candidate
		bus.SDPMid = msg.SDPMid
		bus.SDPMLineIndex = msg.SDPMLineIndex
	default:
		return nil
	}
	return bus
}

// serverMessage is the inverse of signalMessage on the receiving node.
func serverMessage(msg *Message) *messages.ServerMessage {
	switch messages.Type(msg.SignalType) {
	case messages.TypeOffer:
		return messages.Offer(msg.RoomID, msg.FromUser, msg.SignalData)
	case messages.TypeAnswer:
		return messages.Answer(msg.RoomID, msg.FromUser, msg.SignalData)
	case messages.TypeICECandidate:
		return messages.ICECandidate(msg.RoomID, msg.FromUser, msg.SignalData, msg.SDPMid, msg.SDPMLineIndex)
	default:
		return nil
	}
}
