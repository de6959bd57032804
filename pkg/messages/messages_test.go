package messages

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Type
		wantErr error
	}{
		{
			name:  "auth",
			input: `{"type":"auth","token":"abc.def.ghi"}`,
			want:  TypeAuth,
		},
		{
			name:  "join-room with password",
			input: `{"type":"join-room","roomName":"demo","password":"s3cret"}`,
			want:  TypeJoinRoom,
		},
		{
			name:  "leave-room",
			input: `{"type":"leave-room","roomName":"demo"}`,
			want:  TypeLeaveRoom,
		},
		{
			name:  "targeted offer",
			input: `{"type":"offer","roomName":"demo","sdp":"v=0...","targetUserId":7}`,
			want:  TypeOffer,
		},
		{
			name:  "broadcast offer",
			input: `{"type":"offer","roomName":"demo","sdp":"v=0..."}`,
			want:  TypeOffer,
		},
		{
			name:  "answer",
			input: `{"type":"answer","roomName":"demo","sdp":"v=0...","targetUserId":3}`,
			want:  TypeAnswer,
		},
		{
			name:  "ice candidate",
			input: `{"type":"ice-candidate","roomName":"demo","candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`,
			want:  TypeICECandidate,
		},
		{
			name:    "auth without token",
			input:   `{"type":"auth"}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "join without room",
			input:   `{"type":"join-room"}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "answer without target",
			input:   `{"type":"answer","roomName":"demo","sdp":"v=0..."}`,
			wantErr: ErrTargetRequired,
		},
		{
			name:    "offer without sdp",
			input:   `{"type":"offer","roomName":"demo"}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "unknown type",
			input:   `{"type":"bogus"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "not json",
			input:   `{"type":`,
			wantErr: ErrInvalidJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClientMessage([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeClientMessage() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeClientMessage() unexpected error: %v", err)
			}
			if msg.Type != tt.want {
				t.Errorf("Type = %v, want %v", msg.Type, tt.want)
			}
		})
	}
}

func TestDecodePreservesTarget(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"offer","roomName":"r","sdp":"x","targetUserId":0}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TargetUserID == nil || *msg.TargetUserID != 0 {
		t.Error("Expected targetUserId 0 to survive decoding (zero is a valid user id)")
	}
}

func TestRoomJoinedEncoding(t *testing.T) {
	msg := RoomJoined("demo", 1, []Participant{{UserID: 2, Username: "bob"}})
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Round-trip failed: %v", err)
	}

	if out["type"] != "room-joined" {
		t.Errorf("Expected type room-joined, got %v", out["type"])
	}
	if out["roomName"] != "demo" {
		t.Errorf("Expected roomName demo, got %v", out["roomName"])
	}
	if out["userId"] != float64(1) {
		t.Errorf("Expected userId 1, got %v", out["userId"])
	}
	participants, ok := out["participants"].([]any)
	if !ok || len(participants) != 1 {
		t.Fatalf("Expected one participant, got %v", out["participants"])
	}
}

func TestErrorEncoding(t *testing.T) {
	msg := ErrorWithCode("room is full", CodeRoomFull)
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Round-trip failed: %v", err)
	}
	if out["message"] != "room is full" {
		t.Errorf("Expected message, got %v", out["message"])
	}
	if out["code"] != float64(CodeRoomFull) {
		t.Errorf("Expected code %d, got %v", CodeRoomFull, out["code"])
	}

	// Plain errors carry no code field at all
	data, _ = Error("oops").Encode()
	out = map[string]any{}
	_ = json.Unmarshal(data, &out)
	if _, present := out["code"]; present {
		t.Error("Expected no code field on a plain error")
	}
}

func TestOutboundSignalCarriesSender(t *testing.T) {
	mid := "0"
	var line uint32 = 1
	msg := ICECandidate("demo", 9, "candidate:1", &mid, &line)
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Round-trip failed: %v", err)
	}
	if out["fromUserId"] != float64(9) {
		t.Errorf("Expected fromUserId 9, got %v", out["fromUserId"])
	}
	if out["sdpMid"] != "0" || out["sdpMLineIndex"] != float64(1) {
		t.Errorf("Expected sdpMid/sdpMLineIndex to be present, got %v", out)
	}
}
