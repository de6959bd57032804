package server

import (
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestGracefulServerShutdown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	gs := NewGracefulServer(addr, mux, 2*time.Second, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- gs.Start() }()

	// Wait for the listener to come up
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/ping")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if gs.IsShuttingDown() {
		t.Fatal("server reports shutting down before shutdown")
	}

	if err := gs.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !gs.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after shutdown")
	}

	select {
	case <-gs.ShutdownChannel():
	default:
		t.Error("shutdown channel still open")
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after shutdown")
	}

	// Shutdown is idempotent
	if err := gs.Shutdown(time.Second); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestGracefulServerShutdownTimeout(t *testing.T) {
	gs := NewGracefulServer("127.0.0.1:0", http.NewServeMux(), 7*time.Second, nil)
	if gs.shutdownTimeout != 7*time.Second {
		t.Errorf("shutdownTimeout = %v, want 7s", gs.shutdownTimeout)
	}

	gs = NewGracefulServer("127.0.0.1:0", http.NewServeMux(), 0, nil)
	if gs.shutdownTimeout != 30*time.Second {
		t.Errorf("zero timeout not defaulted, got %v", gs.shutdownTimeout)
	}
}
