// Package messages defines the client-facing signaling wire protocol.
//
// Every frame is a JSON object tagged by a "type" field. Inbound frames are
// decoded into ClientMessage and validated per type; outbound frames are
// built through the ServerMessage constructors.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type tags a signaling frame
type Type string

// Inbound message types
const (
	TypeAuth         Type = "auth"
	TypeJoinRoom     Type = "join-room"
	TypeLeaveRoom    Type = "leave-room"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
)

// Outbound message types (offer/answer/ice-candidate are shared)
const (
	TypeAuthenticated Type = "authenticated"
	TypeRoomJoined    Type = "room-joined"
	TypeRoomLeft      Type = "room-left"
	TypeUserJoined    Type = "user-joined"
	TypeUserLeft      Type = "user-left"
	TypeError         Type = "error"
)

// Error codes carried in error frames
const (
	CodeAuthFailed          uint32 = 4001
	CodeRoomFull            uint32 = 4002
	CodeInvalidRoomPassword uint32 = 4003
	CodeNotInRoom           uint32 = 4004
	CodeDeliveryFailed      uint32 = 4005
	CodeParticipantNotFound uint32 = 4006
	CodeBadMessage          uint32 = 4007
)

// Decode errors
var (
	ErrInvalidJSON    = errors.New("invalid JSON frame")
	ErrUnknownType    = errors.New("unknown message type")
	ErrMissingField   = errors.New("missing required field")
	ErrTargetRequired = errors.New("answer requires targetUserId")
)

// Participant is the client-visible view of a room member
type Participant struct {
	UserID   uint32 `json:"userId"`
	Username string `json:"username"`
}

// ClientMessage is an inbound frame. Which fields are meaningful depends on Type.
type ClientMessage struct {
	Type          Type    `json:"type"`
	Token         string  `json:"token,omitempty"`
	RoomName      string  `json:"roomName,omitempty"`
	Password      string  `json:"password,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint32 `json:"sdpMLineIndex,omitempty"`
	TargetUserID  *uint32 `json:"targetUserId,omitempty"`
}

// DecodeClientMessage parses and validates an inbound frame.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	switch msg.Type {
	case TypeAuth:
		if msg.Token == "" {
			return nil, fmt.Errorf("%w: token", ErrMissingField)
		}
	case TypeJoinRoom, TypeLeaveRoom:
		if msg.RoomName == "" {
			return nil, fmt.Errorf("%w: roomName", ErrMissingField)
		}
	case TypeOffer, TypeAnswer:
		if msg.RoomName == "" {
			return nil, fmt.Errorf("%w: roomName", ErrMissingField)
		}
		if msg.SDP == "" {
			return nil, fmt.Errorf("%w: sdp", ErrMissingField)
		}
		// Offers may broadcast; answers always address one peer
		if msg.Type == TypeAnswer && msg.TargetUserID == nil {
			return nil, ErrTargetRequired
		}
	case TypeICECandidate:
		if msg.RoomName == "" {
			return nil, fmt.Errorf("%w: roomName", ErrMissingField)
		}
		if msg.Candidate == "" {
			return nil, fmt.Errorf("%w: candidate", ErrMissingField)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	return &msg, nil
}

// ServerMessage is an outbound frame. Built through the constructors below.
type ServerMessage struct {
	Type          Type          `json:"type"`
	RoomName      string        `json:"roomName,omitempty"`
	UserID        *uint32       `json:"userId,omitempty"`
	Username      string        `json:"username,omitempty"`
	User          *Participant  `json:"user,omitempty"`
	Participants  []Participant `json:"participants,omitempty"`
	FromUserID    *uint32       `json:"fromUserId,omitempty"`
	SDP           string        `json:"sdp,omitempty"`
	Candidate     string        `json:"candidate,omitempty"`
	SDPMid        *string       `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint32       `json:"sdpMLineIndex,omitempty"`
	Message       string        `json:"message,omitempty"`
	Code          *uint32       `json:"code,omitempty"`
}

// Encode serializes the frame to JSON.
func (m *ServerMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func Authenticated(userID uint32, username string) *ServerMessage {
	return &ServerMessage{Type: TypeAuthenticated, UserID: &userID, Username: username}
}

func RoomJoined(room string, userID uint32, participants []Participant) *ServerMessage {
	return &ServerMessage{Type: TypeRoomJoined, RoomName: room, UserID: &userID, Participants: participants}
}

func RoomLeft(room string, userID uint32) *ServerMessage {
	return &ServerMessage{Type: TypeRoomLeft, RoomName: room, UserID: &userID}
}

func UserJoined(room string, user Participant) *ServerMessage {
	return &ServerMessage{Type: TypeUserJoined, RoomName: room, User: &user}
}

func UserLeft(room string, userID uint32) *ServerMessage {
	return &ServerMessage{Type: TypeUserLeft, RoomName: room, UserID: &userID}
}

func Offer(room string, fromUserID uint32, sdp string) *ServerMessage {
	return &ServerMessage{Type: TypeOffer, RoomName: room, FromUserID: &fromUserID, SDP: sdp}
}

func Answer(room string, fromUserID uint32, sdp string) *ServerMessage {
	return &ServerMessage{Type: TypeAnswer, RoomName: room, FromUserID: &fromUserID, SDP: sdp}
}

func ICECandidate(room string, fromUserID uint32, candidate string, sdpMid *string, sdpMLineIndex *uint32) *ServerMessage {
	return &ServerMessage{
		Type:          TypeICECandidate,
		RoomName:      room,
		FromUserID:    &fromUserID,
		Candidate:     candidate,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	}
}

func Error(message string) *ServerMessage {
	return &ServerMessage{Type: TypeError, Message: message}
}

func ErrorWithCode(message string, code uint32) *ServerMessage {
	return &ServerMessage{Type: TypeError, Message: message, Code: &code}
}
