package server

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dd0wney/cluso-signaling/pkg/auth"
	"github.com/dd0wney/cluso-signaling/pkg/logging"
	"github.com/dd0wney/cluso-signaling/pkg/messages"
	"github.com/dd0wney/cluso-signaling/pkg/room"
)

// session is one WebSocket connection through its lifecycle: the first frame
// must authenticate, everything after is signaling.
type session struct {
	srv  *Server
	ws   *websocket.Conn
	user *auth.User
	conn *room.Conn
	log  logging.Logger
}

func newSession(srv *Server, ws *websocket.Conn, remote string) *session {
	return &session{
		srv: srv,
		ws:  ws,
		log: srv.log.With(logging.String("remote", remote)),
	}
}

func (s *session) run(ctx context.Context) {
	defer s.ws.Close()

	s.ws.SetReadLimit(s.srv.cfg.ReadLimit)

	if !s.authenticate(ctx) {
		return
	}
	s.log = s.log.With(logging.UserID(s.user.ID))
	s.log.Info("session authenticated", logging.String("username", s.user.Username))

	s.conn = room.NewConn(*s.user, s.srv.cfg.SendBuffer)
	defer func() {
		s.srv.coordinator.RemoveFromAllRooms(context.Background(), s.user.ID, s.conn.ID)
		s.conn.Close()
		s.log.Info("session closed")
	}()

	writerDone := make(chan struct{})
	go s.writePump(writerDone)

	s.send(messages.Authenticated(s.user.ID, s.user.Username))

	s.readPump(ctx)
	s.conn.Close()
	<-writerDone
}

// authenticate reads and validates the mandatory first frame.
func (s *session) authenticate(ctx context.Context) bool {
	s.ws.SetReadDeadline(time.Now().Add(s.srv.cfg.AuthTimeout))

	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return false
	}

	msg, err := messages.DecodeClientMessage(data)
	if err != nil || msg.Type != messages.TypeAuth {
		s.reject("authentication required", messages.CodeAuthFailed)
		return false
	}

	user, err := s.srv.validator.ValidateToken(ctx, msg.Token)
	if err != nil {
		if s.srv.metrics != nil {
			s.srv.metrics.AuthFailuresTotal.Inc()
		}
		s.log.Warn("authentication failed", logging.Error(err))
		s.reject("invalid token", messages.CodeAuthFailed)
		return false
	}

	s.user = user
	return true
}

// reject writes one error frame directly; used before the writer starts.
func (s *session) reject(reason string, code uint32) {
	frame := messages.ErrorWithCode(reason, code)
	data, err := frame.Encode()
	if err != nil {
		return
	}
	s.ws.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteTimeout))
	s.ws.WriteMessage(websocket.TextMessage, data)
}

// readPump consumes client frames until the socket closes.
func (s *session) readPump(ctx context.Context) {
	s.ws.SetReadDeadline(time.Now().Add(s.srv.cfg.PongTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.srv.cfg.PongTimeout))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("socket read failed", logging.Error(err))
			}
			return
		}

		msg, err := messages.DecodeClientMessage(data)
		if err != nil {
			s.sendError(err.Error(), messages.CodeBadMessage)
			continue
		}
		s.dispatch(ctx, msg)
	}
}

func (s *session) dispatch(ctx context.Context, msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeAuth:
		s.sendError("already authenticated", messages.CodeBadMessage)
	case messages.TypeJoinRoom:
		s.handleJoin(ctx, msg)
	case messages.TypeLeaveRoom:
		s.handleLeave(ctx, msg)
	case messages.TypeOffer:
		s.handleSignal(ctx, msg, messages.Offer(msg.RoomName, s.user.ID, msg.SDP))
	case messages.TypeAnswer:
		s.handleSignal(ctx, msg, messages.Answer(msg.RoomName, s.user.ID, msg.SDP))
	case messages.TypeICECandidate:
		s.handleSignal(ctx, msg,
			messages.ICECandidate(msg.RoomName, s.user.ID, msg.Candidate, msg.SDPMid, msg.SDPMLineIndex))
	}
}

func (s *session) handleJoin(ctx context.Context, msg *messages.ClientMessage) {
	peers, err := s.srv.coordinator.Join(ctx, msg.RoomName, s.conn, msg.Password)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrRoomFull):
			s.sendError("room is full", messages.CodeRoomFull)
		case errors.Is(err, room.ErrInvalidRoomPassword):
			s.sendError("invalid room password", messages.CodeInvalidRoomPassword)
		default:
			s.log.Error("join failed", logging.Room(msg.RoomName), logging.Error(err))
			s.sendError("failed to join room", messages.CodeBadMessage)
		}
		return
	}
	s.send(messages.RoomJoined(msg.RoomName, s.user.ID, peers))
}

func (s *session) handleLeave(ctx context.Context, msg *messages.ClientMessage) {
	if err := s.srv.coordinator.Leave(ctx, msg.RoomName, s.user.ID); err != nil {
		s.log.Error("leave failed", logging.Room(msg.RoomName), logging.Error(err))
		return
	}
	s.send(messages.RoomLeft(msg.RoomName, s.user.ID))
}

// handleSignal routes an offer, answer, or ICE candidate. The sender must
// currently occupy the room it names.
func (s *session) handleSignal(ctx context.Context, msg *messages.ClientMessage, out *messages.ServerMessage) {
	if s.conn.Room() != msg.RoomName {
		s.sendError("you are not in this room", messages.CodeNotInRoom)
		return
	}

	var err error
	if msg.TargetUserID != nil {
		err = s.srv.coordinator.SendToUser(ctx, msg.RoomName, *msg.TargetUserID, out)
	} else {
		err = s.srv.coordinator.Broadcast(ctx, msg.RoomName, s.user.ID, out)
	}

	switch {
	case err == nil:
	case errors.Is(err, room.ErrParticipantNotFound):
		s.sendError("participant not found", messages.CodeParticipantNotFound)
	case errors.Is(err, room.ErrDeliveryFailed):
		s.sendError("delivery failed", messages.CodeDeliveryFailed)
	default:
		s.log.Error("signal routing failed",
			logging.Signal(string(msg.Type)),
			logging.Room(msg.RoomName),
			logging.Error(err))
		s.sendError("delivery failed", messages.CodeDeliveryFailed)
	}
}

// send queues a frame on the session's own outbound path.
func (s *session) send(msg *messages.ServerMessage) {
	if err := s.conn.Send(msg); err != nil {
		s.log.Warn("dropping frame, send queue full", logging.Error(err))
	}
}

func (s *session) sendError(reason string, code uint32) {
	s.send(messages.ErrorWithCode(reason, code))
}

// writePump serializes all outbound traffic for the socket and keeps the
// connection alive with pings. Exits when the outbound channel closes.
func (s *session) writePump(done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.conn.Outbound():
			if !ok {
				s.ws.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteTimeout))
				s.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := msg.Encode()
			if err != nil {
				s.log.Error("frame encoding failed", logging.Error(err))
				continue
			}
			s.ws.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
