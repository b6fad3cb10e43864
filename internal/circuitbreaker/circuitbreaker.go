// Package circuitbreaker gates per-chain reconciliation work so a failing
// RPC endpoint does not burn every block cycle on calls that cannot succeed.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// State is the breaker's position in its open/closed cycle.
type State int

const (
	// Closed passes all work through.
	Closed State = iota
	// Open rejects work until the cooldown elapses.
	Open
	// HalfOpen lets a single probe through to test the endpoint.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes when the breaker trips and how it recovers.
type Config struct {
	// FailureThreshold is the run of consecutive failures that opens the
	// breaker.
	FailureThreshold int

	// SuccessThreshold is the run of consecutive probe successes that
	// closes a half-open breaker.
	SuccessThreshold int

	// Cooldown is how long an open breaker rejects work before allowing
	// a probe.
	Cooldown time.Duration

	// Clock drives cooldown expiry. A nil Clock uses the wall clock.
	Clock clock.Clock

	// OnStateChange, when set, is invoked on its own goroutine for every
	// transition.
	OnStateChange func(from, to State)
}

// DefaultConfig is sized for block-driven cycles: three failed cycles in a
// row trip the breaker, and with mainnet block times a two-minute cooldown
// skips roughly ten cycles before probing again.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         2 * time.Minute,
	}
}

// CircuitBreaker tracks consecutive outcomes and decides whether the next
// unit of work should run. Safe for concurrent use.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg Config

	state     State
	failures  int
	successes int
	openedAt  time.Time

	// probing is set while a half-open probe is in flight so concurrent
	// callers cannot stampede a recovering endpoint.
	probing bool
}

// New creates a breaker, normalizing non-positive config values to the
// defaults.
func New(cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &CircuitBreaker{cfg: cfg}
}

// Allow reports whether the caller should proceed. In the half-open state
// only one caller at a time is let through; the outcome it records decides
// whether the breaker closes or reopens.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.effectiveState() {
	case Closed:
		return true
	case HalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess feeds back a successful outcome for work Allow admitted.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false

	if cb.effectiveState() == HalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(Closed)
		}
		return
	}
	cb.successes = 0
}

// RecordFailure feeds back a failed outcome for work Allow admitted.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes = 0
	cb.probing = false
	cb.failures++

	switch cb.effectiveState() {
	case HalfOpen:
		// A failed probe restarts the cooldown.
		cb.transition(Open)
	case Closed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(Open)
		}
	}
}

// State returns the breaker's current state, accounting for cooldown expiry.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveState()
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes = 0
	cb.probing = false
	cb.transition(Closed)
}

// effectiveState folds cooldown expiry into the stored state. Callers must
// hold cb.mu.
func (cb *CircuitBreaker) effectiveState() State {
	if cb.state == Open && cb.cfg.Clock.Now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		return HalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(next State) {
	prev := cb.effectiveState()
	if prev == next && cb.state == next {
		return
	}
	cb.state = next
	if next == Open {
		cb.openedAt = cb.cfg.Clock.Now()
	}
	if cb.cfg.OnStateChange != nil && prev != next {
		go cb.cfg.OnStateChange(prev, next)
	}
}
