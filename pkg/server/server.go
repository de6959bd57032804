// Package server exposes the WebSocket signaling endpoint and the HTTP
// operational surface (health probes, metrics) of one node.
package server

import (
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/dd0wney/cluso-signaling/pkg/auth"
	"github.com/dd0wney/cluso-signaling/pkg/config"
	"github.com/dd0wney/cluso-signaling/pkg/health"
	"github.com/dd0wney/cluso-signaling/pkg/logging"
	"github.com/dd0wney/cluso-signaling/pkg/metrics"
	"github.com/dd0wney/cluso-signaling/pkg/room"
)

// Server owns the signaling endpoint: it upgrades sockets, authenticates
// them, and hands each session to the coordinator.
type Server struct {
	cfg         config.ServerConfig
	validator   auth.TokenValidator
	coordinator room.Coordinator
	checker     *health.Checker
	metrics     *metrics.Registry
	upgrader    websocket.Upgrader
	log         logging.Logger

	sessions atomic.Int64
}

// New creates a server over the given coordinator.
func New(cfg config.ServerConfig, validator auth.TokenValidator, coordinator room.Coordinator, checker *health.Checker, m *metrics.Registry, log logging.Logger) *Server {
	if log == nil {
		log = logging.NewNopLogger()
	}
	s := &Server{
		cfg:         cfg,
		validator:   validator,
		coordinator: coordinator,
		checker:     checker,
		metrics:     m,
		log:         log.With(logging.Component("server")),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Routes returns the node's HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.checker != nil {
		mux.HandleFunc("/health", s.checker.Handler())
		mux.HandleFunc("/health/live", s.checker.LivenessHandler())
		mux.HandleFunc("/health/ready", s.checker.ReadinessHandler())
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// SessionCount returns the number of live WebSocket sessions.
func (s *Server) SessionCount() int {
	return int(s.sessions.Load())
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		// Same-origin only when nothing is configured
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxConnections > 0 && s.SessionCount() >= s.cfg.MaxConnections {
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed",
			logging.String("remote", r.RemoteAddr),
			logging.Error(err))
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	sess := newSession(s, ws, r.RemoteAddr)
	sess.run(r.Context())
}
