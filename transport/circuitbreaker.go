package transport

import (
	"sync"
	"time"
)

// CircuitState is the operating mode of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed allows operations through; failures are counted.
	CircuitClosed CircuitState = iota
	// CircuitOpen fails every operation immediately without attempting it.
	CircuitOpen
	// CircuitHalfOpen allows a bounded number of probe operations through
	// to test whether the downstream has recovered.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig tunes a CircuitBreaker. The zero value is invalid;
// use DefaultCircuitBreakerConfig or set every field.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures, while Closed, that trips
	// the circuit to Open.
	FailureThreshold int
	// ProbeThreshold is the number of consecutive successful probes, while
	// HalfOpen, that closes the circuit again.
	ProbeThreshold int
	// OpenTimeout is how long the circuit stays Open before allowing a
	// probe through as HalfOpen.
	OpenTimeout time.Duration
}

// DefaultCircuitBreakerConfig matches this module's default tuning: five
// failures trips the circuit, three consecutive probe successes closes it,
// and an open circuit waits sixty seconds before probing again.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ProbeThreshold:   3,
		OpenTimeout:      60 * time.Second,
	}
}

// CircuitBreaker guards a downstream dependency (a transport backing, an
// outbound call to a client) from being hammered while it is failing.
// Safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failures        int
	probeSuccesses  int
	lastStateChange time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker in the Closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed, lastStateChange: time.Now()}
}

// Allow reports whether an operation should be attempted right now. It
// transitions Open to HalfOpen once OpenTimeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeProbe()
	return cb.state != CircuitOpen
}

// State reports the breaker's current state without mutating it beyond the
// same Open->HalfOpen timeout transition Allow performs.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeProbe()
	return cb.state
}

func (cb *CircuitBreaker) maybeProbe() {
	if cb.state == CircuitOpen && time.Since(cb.lastStateChange) >= cb.cfg.OpenTimeout {
		cb.state = CircuitHalfOpen
		cb.probeSuccesses = 0
		cb.lastStateChange = time.Now()
	}
}

// RecordSuccess reports a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.ProbeThreshold {
			cb.close()
		}
	}
}

// RecordFailure reports a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	case CircuitHalfOpen:
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = CircuitOpen
	cb.failures = 0
	cb.probeSuccesses = 0
	cb.lastStateChange = time.Now()
}

func (cb *CircuitBreaker) close() {
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probeSuccesses = 0
	cb.lastStateChange = time.Now()
}
