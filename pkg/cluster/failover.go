package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/dd0wney/cluso-signaling/pkg/logging"
	"github.com/dd0wney/cluso-signaling/pkg/metrics"
)

// State is the coordination-store health state.
type State int

const (
	// StateHealthy means the store is reachable and the node is clustered.
	StateHealthy State = iota
	// StateDegraded means the node runs local-only until the store recovers.
	StateDegraded
	// StateReconnecting means a probe is in flight.
	StateReconnecting
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// RecoverFunc re-registers local state into the store after an outage,
// before the node flips back to clustered operation.
type RecoverFunc func(ctx context.Context) error

// FailoverSupervisor wraps every store call, counts consecutive failures,
// and drives the Healthy -> Degraded -> Reconnecting -> Healthy state
// machine with bounded backoff.
type FailoverSupervisor struct {
	store     Store
	threshold int
	backMin   time.Duration
	backMax   time.Duration

	mu       sync.Mutex
	state    State
	failures int

	onRecover RecoverFunc
	log       logging.Logger
	metrics   *metrics.Registry

	probeCh chan struct{}
}

// NewFailoverSupervisor creates a supervisor in the Healthy state.
func NewFailoverSupervisor(store Store, cfg Config, log logging.Logger, m *metrics.Registry) *FailoverSupervisor {
	if log == nil {
		log = logging.NewNopLogger()
	}
	f := &FailoverSupervisor{
		store:     store,
		threshold: cfg.FailureThreshold,
		backMin:   cfg.ProbeBackoffMin,
		backMax:   cfg.ProbeBackoffMax,
		state:     StateHealthy,
		log:       log.With(logging.Component("failover")),
		metrics:   m,
		probeCh:   make(chan struct{}, 1),
	}
	if m != nil {
		m.SetClusterHealthy(true)
	}
	return f
}

// SetRecoverFunc installs the callback run after a successful probe.
func (f *FailoverSupervisor) SetRecoverFunc(fn RecoverFunc) {
	f.mu.Lock()
	f.onRecover = fn
	f.mu.Unlock()
}

// State returns the current health state.
func (f *FailoverSupervisor) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Healthy reports whether store calls should be attempted at all.
func (f *FailoverSupervisor) Healthy() bool {
	return f.State() == StateHealthy
}

// Do runs one store operation through the supervisor. While degraded it
// fails fast with ErrStoreUnavailable instead of hitting the store.
func (f *FailoverSupervisor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !f.Healthy() {
		return ErrStoreUnavailable
	}

	start := time.Now()
	err := fn(ctx)
	if f.metrics != nil {
		f.metrics.RecordStoreOperation(op, time.Since(start), err)
	}

	if err != nil {
		f.recordFailure(op, err)
		return err
	}
	f.recordSuccess()
	return nil
}

func (f *FailoverSupervisor) recordSuccess() {
	f.mu.Lock()
	f.failures = 0
	f.mu.Unlock()
}

func (f *FailoverSupervisor) recordFailure(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures++
	if f.state != StateHealthy || f.failures < f.threshold {
		return
	}

	f.state = StateDegraded
	f.log.Warn("coordination store degraded, falling back to local-only mode",
		logging.Operation(op),
		logging.Int("consecutive_failures", f.failures),
		logging.Error(err))
	if f.metrics != nil {
		f.metrics.SetClusterHealthy(false)
	}

	// Wake the probe loop
	select {
	case f.probeCh <- struct{}{}:
	default:
	}
}

// Probe makes one recovery attempt: ping, then the recover callback, then
// flip back to Healthy. Returns true when the node is clustered again.
func (f *FailoverSupervisor) Probe(ctx context.Context) bool {
	f.mu.Lock()
	if f.state == StateHealthy {
		f.mu.Unlock()
		return true
	}
	f.state = StateReconnecting
	onRecover := f.onRecover
	f.mu.Unlock()

	if err := f.store.Ping(ctx); err != nil {
		f.setState(StateDegraded)
		return false
	}

	// Re-register local sessions so peers regain visibility before we
	// advertise ourselves as clustered again
	if onRecover != nil {
		if err := onRecover(ctx); err != nil {
			f.log.Warn("store reachable but state re-registration failed", logging.Error(err))
			f.setState(StateDegraded)
			return false
		}
	}

	f.mu.Lock()
	f.state = StateHealthy
	f.failures = 0
	f.mu.Unlock()

	f.log.Info("coordination store recovered, cluster mode restored")
	if f.metrics != nil {
		f.metrics.SetClusterHealthy(true)
	}
	return true
}

func (f *FailoverSupervisor) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// Run probes the store with bounded exponential backoff whenever the node
// degrades. Blocks until ctx is cancelled; run it in its own goroutine.
func (f *FailoverSupervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.probeCh:
		}

		backoff := f.backMin
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			if f.Probe(ctx) {
				break
			}
			backoff *= 2
			if backoff > f.backMax {
				backoff = f.backMax
			}
		}
	}
}
