package cluster

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "node-1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfigValidationErrors(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.NodeID = "node-1"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"empty node id", func(c *Config) { c.NodeID = "" }, ErrInvalidNodeID},
		{"ttl equal to interval", func(c *Config) { c.HeartbeatTTL = c.HeartbeatInterval }, ErrTTLTooSmall},
		{"ttl below interval", func(c *Config) { c.HeartbeatTTL = time.Second; c.HeartbeatInterval = time.Minute }, ErrTTLTooSmall},
		{"zero heartbeat interval", func(c *Config) { c.HeartbeatInterval = 0 }, ErrInvalidInterval},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }, ErrInvalidInterval},
		{"zero store timeout", func(c *Config) { c.StoreTimeout = 0 }, ErrInvalidInterval},
		{"zero failure threshold", func(c *Config) { c.FailureThreshold = 0 }, ErrInvalidThreshold},
		{"inverted backoff bounds", func(c *Config) { c.ProbeBackoffMin = time.Minute; c.ProbeBackoffMax = time.Second }, ErrInvalidBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerateNodeID(t *testing.T) {
	a := GenerateNodeID()
	b := GenerateNodeID()

	if !strings.HasPrefix(a, "signaling-") {
		t.Errorf("node id %q missing prefix", a)
	}
	if a == b {
		t.Errorf("node ids should be unique, got %q twice", a)
	}
}
