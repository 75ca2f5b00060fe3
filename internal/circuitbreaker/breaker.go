// Package circuitbreaker protects the rate authority from hammering while
// it is down and lets the cache fall back to stale data quickly.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripped, fetches are rejected without going out
	StateHalfOpen              // probing whether the authority has recovered
)

// ErrOpen is returned by Allow while the circuit is open. Callers treat it
// exactly like an unavailable data source, so stale fallback still applies.
var ErrOpen = errors.New("circuit breaker open: rate authority protection engaged")

// Options configures a CircuitBreaker.
type Options struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the circuit
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a half-open probe
	Cooldown time.Duration

	// SuccessThreshold is the number of consecutive successes in half-open
	// state required to close the circuit again
	SuccessThreshold int

	// OnTrip is called once per trip, for monitoring/alerting
	OnTrip func(reason string)
}

// CircuitBreaker counts consecutive upstream failures and opens after a
// threshold; after a cooldown a single probe is allowed through.
type CircuitBreaker struct {
	opts Options

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastTrip     time.Time
}

// New creates a CircuitBreaker, filling unset options with defaults.
func New(opts Options) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 2 * time.Minute
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = 2
	}
	return &CircuitBreaker{opts: opts, state: StateClosed}
}

// Allow reports whether an outbound fetch may proceed. While open it
// returns ErrOpen until the cooldown elapses, then transitions to
// half-open and lets one probe through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if time.Since(cb.lastTrip) > cb.opts.Cooldown {
			cb.state = StateHalfOpen
			cb.successCount = 0
			logrus.Info("Circuit breaker half-open: probing rate authority")
			return nil
		}
		return ErrOpen
	}
	return nil
}

// RecordSuccess notes a successful fetch.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.opts.SuccessThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.Info("Circuit breaker closed: rate authority recovered")
		}
	}
}

// RecordFailure notes a failed fetch and trips the circuit when the
// consecutive-failure threshold is reached. A failure during a half-open
// probe trips immediately.
func (cb *CircuitBreaker) RecordFailure(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.trip("probe failed: " + reason)
		return
	}

	cb.failureCount++
	if cb.state == StateClosed && cb.failureCount >= cb.opts.FailureThreshold {
		cb.trip(reason)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forcibly closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	logrus.Info("Circuit breaker manually reset to closed state")
}

// trip must be called with the mutex held.
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTrip = time.Now()
	cb.failureCount = 0
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if cb.opts.OnTrip != nil {
		go cb.opts.OnTrip(reason)
	}
}
