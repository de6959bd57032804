package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestDefaultsValidateWithSecret(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = testSecret

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("default port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Clustered() {
		t.Error("clustering should be off without a redis address")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signaling.yaml")
	content := `
server:
  port: 9000
  max_connections: 500
auth:
  jwt_secret: "` + testSecret + `"
redis:
  addr: "redis:6379"
cluster:
  node_id: "node-test"
  heartbeat_interval: 5s
  heartbeat_ttl: 20s
rooms:
  standup:
    password: "sesame"
    max_participants: 10
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 || cfg.Server.MaxConnections != 500 {
		t.Errorf("server config not applied: %+v", cfg.Server)
	}
	if !cfg.Clustered() {
		t.Error("redis address should enable clustering")
	}
	if cfg.Cluster.HeartbeatInterval != 5*time.Second {
		t.Errorf("heartbeat_interval = %v", cfg.Cluster.HeartbeatInterval)
	}
	// Unset file fields keep their defaults
	if cfg.Server.SendBuffer == 0 || cfg.Server.ReadLimit == 0 {
		t.Errorf("defaults lost on file load: %+v", cfg.Server)
	}

	policy := cfg.RoomPolicy()
	if policy == nil {
		t.Fatal("expected a room policy")
	}
	if err := policy.Admit("standup", "wrong", 0); err == nil {
		t.Error("policy should reject wrong password")
	}
	if err := policy.Admit("standup", "sesame", 0); err != nil {
		t.Errorf("policy rejected valid join: %v", err)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("SIGNALING_PORT", "7777")
	t.Setenv("SIGNALING_JWT_SECRET", testSecret)
	t.Setenv("SIGNALING_NODE_ID", "node-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want env override 7777", cfg.Server.Port)
	}
	if cfg.Cluster.NodeID != "node-env" {
		t.Errorf("node id = %q, want node-env", cfg.Cluster.NodeID)
	}
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWTSecret"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "too-short" }, "JWTSecret"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "Port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "Level"},
		{"ttl below interval", func(c *Config) {
			c.Cluster.HeartbeatTTL = time.Second
			c.Cluster.HeartbeatInterval = time.Minute
		}, "heartbeat_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = testSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestClusterConfigConversion(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Redis.Addr = "redis:6379"

	out := cfg.ClusterConfig()
	if out.NodeID == "" {
		t.Error("node id should be generated when unset")
	}
	if err := out.Validate(); err != nil {
		t.Errorf("converted cluster config invalid: %v", err)
	}

	cfg.Cluster.NodeID = "node-a"
	if got := cfg.ClusterConfig().NodeID; got != "node-a" {
		t.Errorf("node id = %q, want node-a", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/signaling.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
