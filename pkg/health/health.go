// Package health tracks the reachability of the B2 remote and derives a
// simple degraded/read-only/unavailable state from a stream of call
// outcomes. The state is reported (served at the health endpoint); the
// filesystem does not consult it and keeps issuing remote calls.
package health

import (
	stderr "errors"
	"sync"
	"time"

	b2err "github.com/falense/b2-fuse/pkg/errors"
)

// State is the overall health of the tracked component.
type State int

const (
	// Healthy: recent calls have succeeded.
	Healthy State = iota
	// Degraded: some recent calls failed but both reads and writes are
	// still attempted.
	Degraded
	// ReadOnly: consecutive write-classified errors crossed the
	// threshold; CanWrite reports false until successes bring the
	// consecutive-error count back to zero.
	ReadOnly
	// Unavailable: consecutive errors crossed the unavailable threshold.
	Unavailable
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case ReadOnly:
		return "read-only"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Config configures the error-count thresholds that drive state
// transitions.
type Config struct {
	ErrorThreshold       int
	UnavailableThreshold int
}

// DefaultConfig mirrors the b2api.Config default retry budget: a handful
// of consecutive failures degrades the mount, ten marks it unavailable.
func DefaultConfig() Config {
	return Config{ErrorThreshold: 3, UnavailableThreshold: 10}
}

// Tracker records call outcomes against the B2 remote and derives State
// from the run of consecutive failures.
type Tracker struct {
	mu                sync.RWMutex
	config            Config
	state             State
	consecutiveErrors int
	lastStateChange   time.Time
	lastError         error
	lastCheck         time.Time
}

func NewTracker(config Config) *Tracker {
	return &Tracker{config: config, state: Healthy, lastStateChange: time.Now()}
}

// RecordSuccess clears one consecutive error and recovers to Healthy once
// the count reaches zero.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastCheck = time.Now()
	if t.consecutiveErrors > 0 {
		t.consecutiveErrors--
	}
	if t.consecutiveErrors == 0 && t.state != Healthy {
		t.transition(Healthy, nil)
	}
}

// RecordError records a failed call and transitions state based on the
// configured thresholds and whether err looks write-related.
func (t *Tracker) RecordError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastCheck = time.Now()
	t.consecutiveErrors++
	t.lastError = err

	next := t.state
	switch {
	case t.consecutiveErrors >= t.config.UnavailableThreshold:
		next = Unavailable
	case t.consecutiveErrors >= t.config.ErrorThreshold:
		if isWriteError(err) {
			next = ReadOnly
		} else {
			next = Degraded
		}
	}
	if next != t.state {
		t.transition(next, err)
	}
}

func (t *Tracker) transition(next State, err error) {
	t.state = next
	t.lastStateChange = time.Now()
	if next == Healthy {
		t.consecutiveErrors = 0
		t.lastError = nil
	}
}

// State returns the current health state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// CanWrite reports whether writes should still be attempted.
func (t *Tracker) CanWrite() bool {
	s := t.State()
	return s == Healthy || s == Degraded
}

// CanRead reports whether reads should still be attempted; only a fully
// unavailable remote blocks reads.
func (t *Tracker) CanRead() bool {
	return t.State() != Unavailable
}

// Snapshot is the JSON-serializable view served at the health endpoint.
type Snapshot struct {
	State             string    `json:"state"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastStateChange   time.Time `json:"last_state_change"`
	LastCheck         time.Time `json:"last_check"`
	LastError         string    `json:"last_error,omitempty"`
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := Snapshot{
		State:             t.state.String(),
		ConsecutiveErrors: t.consecutiveErrors,
		LastStateChange:   t.lastStateChange,
		LastCheck:         t.lastCheck,
	}
	if t.lastError != nil {
		snap.LastError = t.lastError.Error()
	}
	return snap
}

// isWriteError reports whether err is the kind of failure that should
// take writes offline before reads: permission loss or an upload that
// was rejected outright, as opposed to a transient timeout.
func isWriteError(err error) bool {
	var be *b2err.Error
	if stderr.As(err, &be) {
		switch be.Kind {
		case b2err.PermissionDenied, b2err.UploadFailed:
			return true
		}
	}
	return false
}
