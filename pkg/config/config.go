// Package config loads the server configuration from a YAML file with
// environment variable overrides. Environment wins over file, file wins
// over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-signaling/pkg/cluster"
	"github.com/dd0wney/cluso-signaling/pkg/room"
)

var validate = validator.New()

// Config is the root configuration for one signaling node.
type Config struct {
	Server  ServerConfig        `yaml:"server"`
	Auth    AuthConfig          `yaml:"auth"`
	Redis   RedisConfig         `yaml:"redis"`
	Cluster ClusterConfig       `yaml:"cluster"`
	Logging LoggingConfig       `yaml:"logging"`
	Rooms   map[string]RoomRule `yaml:"rooms"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`

	// MaxConnections caps concurrent WebSocket sessions. 0 means unlimited.
	MaxConnections int `yaml:"max_connections" validate:"min=0"`
	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int `yaml:"send_buffer" validate:"min=1"`
	// ReadLimit caps inbound frame size in bytes.
	ReadLimit int64 `yaml:"read_limit" validate:"min=512"`

	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	AuthTimeout     time.Duration `yaml:"auth_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists origins accepted during the WebSocket upgrade.
	// Empty means same-origin only; "*" accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig holds token validation settings.
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 session tokens.
	JWTSecret string `yaml:"jwt_secret" validate:"required,min=32"`
}

// RedisConfig holds the coordination store connection. Clustering is off
// when Addr is empty.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"min=0"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ClusterConfig holds the per-node coordination settings.
type ClusterConfig struct {
	NodeID            string        `yaml:"node_id"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `yaml:"heartbeat_ttl"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	FailureThreshold  int           `yaml:"failure_threshold" validate:"min=1"`
	ProbeBackoffMin   time.Duration `yaml:"probe_backoff_min"`
	ProbeBackoffMax   time.Duration `yaml:"probe_backoff_max"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// RoomRule is the static admission rule for one named room.
type RoomRule struct {
	Password        string `yaml:"password"`
	MaxParticipants int    `yaml:"max_participants" validate:"min=0"`
}

// Default returns the baseline configuration.
func Default() *Config {
	clusterDefaults := cluster.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4000,
			SendBuffer:      room.DefaultSendBuffer,
			ReadLimit:       64 * 1024,
			WriteTimeout:    10 * time.Second,
			PongTimeout:     60 * time.Second,
			PingInterval:    30 * time.Second,
			AuthTimeout:     10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Timeout: clusterDefaults.StoreTimeout,
		},
		Cluster: ClusterConfig{
			HeartbeatInterval: clusterDefaults.HeartbeatInterval,
			HeartbeatTTL:      clusterDefaults.HeartbeatTTL,
			SweepInterval:     clusterDefaults.SweepInterval,
			FailureThreshold:  clusterDefaults.FailureThreshold,
			ProbeBackoffMin:   clusterDefaults.ProbeBackoffMin,
			ProbeBackoffMax:   clusterDefaults.ProbeBackoffMax,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration file (optional), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = envString("SIGNALING_HOST", c.Server.Host)
	c.Server.Port = envInt("SIGNALING_PORT", c.Server.Port)
	c.Server.MaxConnections = envInt("SIGNALING_MAX_CONNECTIONS", c.Server.MaxConnections)
	c.Auth.JWTSecret = envString("SIGNALING_JWT_SECRET", c.Auth.JWTSecret)
	c.Redis.Addr = envString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envString("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envInt("REDIS_DB", c.Redis.DB)
	c.Cluster.NodeID = envString("SIGNALING_NODE_ID", c.Cluster.NodeID)
	c.Logging.Level = envString("LOG_LEVEL", c.Logging.Level)
}

// Validate checks struct tags plus the cross-field constraints tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			v := verrs[0]
			return fmt.Errorf("invalid config: field %s fails %q", v.Namespace(), v.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Cluster.HeartbeatTTL <= c.Cluster.HeartbeatInterval {
		return fmt.Errorf("invalid config: heartbeat_ttl (%s) must exceed heartbeat_interval (%s)",
			c.Cluster.HeartbeatTTL, c.Cluster.HeartbeatInterval)
	}
	if c.Cluster.ProbeBackoffMax < c.Cluster.ProbeBackoffMin {
		return fmt.Errorf("invalid config: probe_backoff_max below probe_backoff_min")
	}
	return nil
}

// Clustered reports whether a coordination store is configured.
func (c *Config) Clustered() bool {
	return c.Redis.Addr != ""
}

// ClusterConfig converts to the cluster package's node configuration,
// generating a node id when none is set.
func (c *Config) ClusterConfig() cluster.Config {
	out := cluster.DefaultConfig()
	out.NodeID = c.Cluster.NodeID
	if out.NodeID == "" {
		out.NodeID = cluster.GenerateNodeID()
	}
	out.HeartbeatInterval = c.Cluster.HeartbeatInterval
	out.HeartbeatTTL = c.Cluster.HeartbeatTTL
	out.SweepInterval = c.Cluster.SweepInterval
	out.StoreTimeout = c.Redis.Timeout
	out.FailureThreshold = c.Cluster.FailureThreshold
	out.ProbeBackoffMin = c.Cluster.ProbeBackoffMin
	out.ProbeBackoffMax = c.Cluster.ProbeBackoffMax
	out.SendBuffer = c.Server.SendBuffer
	return out
}

// RedisConfig converts to the cluster package's store configuration.
func (c *Config) RedisConfig() cluster.RedisConfig {
	return cluster.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Timeout:  c.Redis.Timeout,
	}
}

// RoomPolicy converts the configured room rules to an admission policy.
// Returns nil when no rules are configured.
func (c *Config) RoomPolicy() room.Policy {
	if len(c.Rooms) == 0 {
		return nil
	}
	rules := make(map[string]room.Rule, len(c.Rooms))
	for name, r := range c.Rooms {
		rules[name] = room.Rule{Password: r.Password, MaxParticipants: r.MaxParticipants}
	}
	return room.NewStaticPolicy(rules)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
