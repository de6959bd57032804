package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dd0wney/cluso-signaling/pkg/logging"
)

// RedisStore implements Store over Redis hashes, TTL keys, and pub/sub.
// Every call is bounded by the configured timeout so a wedged store can
// never stall a connection task.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
	log     logging.Logger
}

// RedisConfig holds connection parameters for the coordination store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig, log logging.Logger) (*RedisStore, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &RedisStore{
		client:  client,
		timeout: cfg.Timeout,
		log:     log.With(logging.Component("redis-store")),
	}, nil
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// AddParticipant implements Store.
func (s *RedisStore) AddParticipant(ctx context.Context, roomID string, userID uint32, nodeID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.HSet(ctx, roomKey(roomID), userField(userID), nodeID).Err()
}

// RemoveParticipant implements Store. Removing an absent field is a no-op.
func (s *RedisStore) RemoveParticipant(ctx context.Context, roomID string, userID uint32) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.HDel(ctx, roomKey(roomID), userField(userID)).Err()
}

// Participants implements Store.
func (s *RedisStore) Participants(ctx context.Context, roomID string) (map[uint32]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	raw, err := s.client.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[uint32]string, len(raw))
	for field, nodeID := range raw {
		userID, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			s.log.Warn("skipping unparseable participant field",
				logging.Room(roomID), logging.String("field", field))
			continue
		}
		out[uint32(userID)] = nodeID
	}
	return out, nil
}

// OwnerNode implements Store.
func (s *RedisStore) OwnerNode(ctx context.Context, roomID string, userID uint32) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	nodeID, err := s.client.HGet(ctx, roomKey(roomID), userField(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return nodeID, nil
}

// SaveConnection implements Store.
func (s *RedisStore) SaveConnection(ctx context.Context, nodeID string, rec ConnectionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.HSet(ctx, connectionsKey(nodeID), userField(rec.UserID), data).Err()
}

// DeleteConnection implements Store.
func (s *RedisStore) DeleteConnection(ctx context.Context, nodeID string, userID uint32) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.HDel(ctx, connectionsKey(nodeID), userField(userID)).Err()
}

// Connection implements Store.
func (s *RedisStore) Connection(ctx context.Context, nodeID string, userID uint32) (ConnectionRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rec ConnectionRecord
	data, err := s.client.HGet(ctx, connectionsKey(nodeID), userField(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return rec, nil
}

// Connections implements Store. Records that fail to parse are skipped so
// one corrupt entry cannot block dead-node cleanup.
func (s *RedisStore) Connections(ctx context.Context, nodeID string) ([]ConnectionRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	values, err := s.client.HVals(ctx, connectionsKey(nodeID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]ConnectionRecord, 0, len(values))
	for _, v := range values {
		var rec ConnectionRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			s.log.Warn("skipping unparseable connection record", logging.Node(nodeID), logging.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// RegisterNode implements Store.
func (s *RedisStore) RegisterNode(ctx context.Context, nodeID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.SAdd(ctx, nodesKey, nodeID).Err()
}

// UnregisterNode implements Store.
func (s *RedisStore) UnregisterNode(ctx context.Context, nodeID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.SRem(ctx, nodesKey, nodeID).Err()
}

// Nodes implements Store.
func (s *RedisStore) Nodes(ctx context.Context) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.SMembers(ctx, nodesKey).Result()
}

// RefreshHeartbeat implements Store.
func (s *RedisStore) RefreshHeartbeat(ctx context.Context, nodeID string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Set(ctx, heartbeatKey(nodeID), time.Now().Unix(), ttl).Err()
}

// NodeAlive implements Store.
func (s *RedisStore) NodeAlive(ctx context.Context, nodeID string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.client.Exists(ctx, heartbeatKey(nodeID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Publish implements Store.
func (s *RedisStore) Publish(ctx context.Context, msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Publish(ctx, busChannel, data).Err()
}

// Subscribe implements Store. The returned channel closes when ctx is
// cancelled or the underlying subscription drops.
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := s.client.Subscribe(ctx, busChannel)
	// Force the subscription to be established before we report success
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					s.log.Warn("bus subscriber queue full, dropping message")
				}
			}
		}
	}()

	return out, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func userField(userID uint32) string {
	return strconv.FormatUint(uint64(userID), 10)
}
