package cluster

import "fmt"

// Shared-store key layout. Kept in one place so the Redis and in-memory
// implementations, and any operator poking at redis-cli, agree.
const (
	busChannel = "cluster:messages"
	nodesKey   = "cluster:nodes"
)

func roomKey(roomID string) string {
	return fmt.Sprintf("rooms:%s:participants", roomID)
}

func connectionsKey(nodeID string) string {
	return fmt.Sprintf("servers:%s:connections", nodeID)
}

func heartbeatKey(nodeID string) string {
	return fmt.Sprintf("servers:%s:heartbeat", nodeID)
}
