package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-signaling/pkg/logging"
)

// GracefulServer wraps the HTTP listener with signal-driven shutdown.
// In-flight WebSocket sessions are drained by closing the coordinator
// after the listener stops accepting.
type GracefulServer struct {
	server          *http.Server
	shutdownCh      chan struct{}
	shutdownOnce    sync.Once
	shutdownTimeout time.Duration
	log             logging.Logger
}

// NewGracefulServer creates the listener. WriteTimeout stays unset: it
// would sever long-lived WebSocket connections. shutdownTimeout bounds
// the signal-driven drain.
func NewGracefulServer(addr string, handler http.Handler, shutdownTimeout time.Duration, log logging.Logger) *GracefulServer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &GracefulServer{
		server: &http.Server{
			Addr:           addr,
			Handler:        handler,
			ReadTimeout:    0,
			IdleTimeout:    120 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		shutdownCh:      make(chan struct{}),
		shutdownTimeout: shutdownTimeout,
		log:             log.With(logging.Component("http")),
	}
}

// Start serves until shutdown. Blocks.
func (gs *GracefulServer) Start() error {
	go gs.handleSignals()

	gs.log.Info("listening", logging.String("addr", gs.server.Addr))
	if err := gs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits up to timeout for the
// in-flight ones.
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.log.Info("starting graceful shutdown", logging.Duration("timeout", timeout))
		if shutdownErr := gs.server.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
			gs.log.Error("shutdown error", logging.Error(shutdownErr))
		} else {
			gs.log.Info("shutdown complete")
		}
	})
	return err
}

func (gs *GracefulServer) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	gs.log.Info("received signal", logging.String("signal", sig.String()))
	gs.Shutdown(gs.shutdownTimeout)
}

// IsShuttingDown reports whether shutdown has been initiated.
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel closes when shutdown is initiated.
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}
