package cluster

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreParticipants(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.AddParticipant(ctx, "lobby", 1, "node-a"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if err := s.AddParticipant(ctx, "lobby", 2, "node-b"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}

	members, err := s.Participants(ctx, "lobby")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(members))
	}
	if members[1] != "node-a" || members[2] != "node-b" {
		t.Errorf("unexpected ownership map: %v", members)
	}

	owner, err := s.OwnerNode(ctx, "lobby", 2)
	if err != nil {
		t.Fatalf("OwnerNode: %v", err)
	}
	if owner != "node-b" {
		t.Errorf("owner = %q, want node-b", owner)
	}

	if _, err := s.OwnerNode(ctx, "lobby", 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("OwnerNode(absent) = %v, want ErrNotFound", err)
	}

	if err := s.RemoveParticipant(ctx, "lobby", 1); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	// Removing an absent participant is a no-op
	if err := s.RemoveParticipant(ctx, "lobby", 1); err != nil {
		t.Fatalf("RemoveParticipant repeat: %v", err)
	}

	members, _ = s.Participants(ctx, "lobby")
	if len(members) != 1 {
		t.Errorf("expected 1 participant after removal, got %d", len(members))
	}
}

func TestMemoryStoreConnectionRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := ConnectionRecord{
		UserID:       7,
		Username:     "alice",
		RoomID:       "lobby",
		ConnectedAt:  time.Now().UTC(),
		ConnectionID: "conn-1",
	}
	if err := s.SaveConnection(ctx, "node-a", rec); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}

	got, err := s.Connection(ctx, "node-a", 7)
	if err != nil {
		t.Fatalf("Connection: %v", err)
	}
	if got.Username != "alice" || got.RoomID != "lobby" || got.ConnectionID != "conn-1" {
		t.Errorf("unexpected record: %+v", got)
	}

	if _, err := s.Connection(ctx, "node-a", 8); !errors.Is(err, ErrNotFound) {
		t.Errorf("Connection(absent) = %v, want ErrNotFound", err)
	}

	all, err := s.Connections(ctx, "node-a")
	if err != nil {
		t.Fatalf("Connections: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}

	if err := s.DeleteConnection(ctx, "node-a", 7); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
	if err := s.DeleteConnection(ctx, "node-a", 7); err != nil {
		t.Fatalf("DeleteConnection repeat: %v", err)
	}
	all, _ = s.Connections(ctx, "node-a")
	if len(all) != 0 {
		t.Errorf("expected no records after delete, got %d", len(all))
	}
}

func TestMemoryStoreNodeLiveness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	if err := s.RegisterNode(ctx, "node-a"); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	if err := s.RefreshHeartbeat(ctx, "node-a", 30*time.Second); err != nil {
		t.Fatalf("RefreshHeartbeat: %v", err)
	}

	alive, err := s.NodeAlive(ctx, "node-a")
	if err != nil {
		t.Fatalf("NodeAlive: %v", err)
	}
	if !alive {
		t.Fatal("node should be alive within TTL")
	}

	// Advance past the TTL without a refresh
	clock = clock.Add(31 * time.Second)
	alive, _ = s.NodeAlive(ctx, "node-a")
	if alive {
		t.Fatal("node should be dead after TTL expiry")
	}

	alive, _ = s.NodeAlive(ctx, "never-seen")
	if alive {
		t.Fatal("unknown node should not be alive")
	}

	nodes, err := s.Nodes(ctx)
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0] != "node-a" {
		t.Errorf("unexpected node set: %v", nodes)
	}

	if err := s.UnregisterNode(ctx, "node-a"); err != nil {
		t.Fatalf("UnregisterNode: %v", err)
	}
	nodes, _ = s.Nodes(ctx)
	if len(nodes) != 0 {
		t.Errorf("expected empty node set, got %v", nodes)
	}
}

func TestMemoryStorePubSub(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	msg := &Message{Type: MsgUserJoined, Origin: "node-a", RoomID: "lobby", UserID: 1, Username: "alice"}
	if err := s.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case payload := <-ch:
		got, err := DecodeMessage(payload)
		if err != nil {
			t.Fatalf("DecodeMessage: %v", err)
		}
		if got.Type != MsgUserJoined || got.UserID != 1 || got.RoomID != "lobby" {
			t.Errorf("unexpected message: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SetFailing(true)
	if err := s.AddParticipant(ctx, "lobby", 1, "node-a"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("AddParticipant while failing = %v, want ErrStoreUnavailable", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Ping while failing = %v, want ErrStoreUnavailable", err)
	}

	s.SetFailing(false)
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping after recovery = %v, want nil", err)
	}
}
