package room

import "errors"

// Join errors
var (
	ErrRoomFull            = errors.New("room is full")
	ErrInvalidRoomPassword = errors.New("invalid room password")
)

// Routing errors
var (
	ErrParticipantNotFound = errors.New("participant not found in room")
	ErrNotInRoom           = errors.New("user is not in this room")
	ErrDeliveryFailed      = errors.New("delivery failed: send buffer full")
	ErrConnClosed          = errors.New("connection closed")
)
