package cluster

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags a cluster bus payload
type MessageType string

const (
	// MsgUserJoined is broadcast when a user joins a room anywhere in the cluster
	MsgUserJoined MessageType = "user-joined"
	// MsgUserLeft is broadcast when a user leaves a room (or their node died)
	MsgUserLeft MessageType = "user-left"
	// MsgSignal is a WebRTC negotiation payload directed at one node
	MsgSignal MessageType = "signal"
	// MsgHeartbeat is a periodic liveness announcement
	MsgHeartbeat MessageType = "heartbeat"
)

// Message is the only payload exchanged between nodes over the shared bus.
// Which fields are meaningful depends on Type.
type Message struct {
	Type MessageType `json:"type"`

	// Origin is the publishing node. Nodes ignore their own broadcasts.
	Origin string `json:"origin,omitempty"`
	// TargetServer directs the message at a single node; empty means broadcast.
	TargetServer string `json:"targetServer,omitempty"`

	// Membership events
	RoomID   string `json:"roomId,omitempty"`
	UserID   uint32 `json:"userId"`
	Username string `json:"username,omitempty"`

	// WebRTC signal routing
	FromUser      uint32  `json:"fromUser"`
	ToUser        uint32  `json:"toUser"`
	SignalType    string  `json:"signalType,omitempty"`
	SignalData    string  `json:"signalData,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint32 `json:"sdpMLineIndex,omitempty"`

	// Heartbeat
	NodeID          string `json:"nodeId,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	ConnectionCount int    `json:"connectionCount,omitempty"`
}

// Encode serializes the message for the bus.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a bus payload. A payload that does not parse or
// carries an unknown type is rejected; the subscriber loop drops it.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch msg.Type {
	case MsgUserJoined, MsgUserLeft, MsgSignal, MsgHeartbeat:
		return &msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// NewHeartbeat builds a liveness announcement for the bus.
func NewHeartbeat(nodeID string, connectionCount int) *Message {
	return &Message{
		Type:            MsgHeartbeat,
		Origin:          nodeID,
		NodeID:          nodeID,
		Timestamp:       time.Now().Unix(),
		ConnectionCount: connectionCount,
	}
}
