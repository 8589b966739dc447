package resilience

import (
	"sync"
	"time"
)

// CircuitState is the breaker status.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open after the last failure.
	RecoveryTimeout time.Duration
	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to CircuitState)
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
	}
}

// CircuitBreaker tracks consecutive failures of one dependency class.
//
// The circuit is open only while consecutiveFailures >= FailureThreshold.
// Once RecoveryTimeout has elapsed since the last failure, Allow moves it to
// half-open and lets calls through; the next recorded outcome decides whether
// it closes or reopens.
type CircuitBreaker struct {
	mu sync.Mutex

	name   string
	config BreakerConfig
	now    func() time.Time

	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
}

func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	defaults := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = defaults.RecoveryTimeout
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.config.RecoveryTimeout {
			cb.mu.Unlock()
			return false
		}
		from := cb.transitionTo(CircuitHalfOpen)
		cb.mu.Unlock()
		cb.notify(from, CircuitHalfOpen)
		return true
	default:
		cb.mu.Unlock()
		return true
	}
}

// RecordSuccess closes a half-open circuit and clears the failure streak.
// A late success arriving while open is ignored.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	switch cb.state {
	case CircuitHalfOpen:
		from := cb.transitionTo(CircuitClosed)
		cb.mu.Unlock()
		cb.notify(from, CircuitClosed)
		return
	case CircuitClosed:
		cb.consecutiveFailures = 0
	}
	cb.mu.Unlock()
}

// RecordFailure extends the failure streak. Any failure while half-open
// reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.consecutiveFailures++
	cb.lastFailure = cb.now()

	shouldOpen := cb.state == CircuitHalfOpen ||
		(cb.state == CircuitClosed && cb.consecutiveFailures >= cb.config.FailureThreshold)
	if !shouldOpen {
		cb.mu.Unlock()
		return
	}
	from := cb.transitionTo(CircuitOpen)
	cb.mu.Unlock()
	cb.notify(from, CircuitOpen)
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerSnapshot is a consistent copy of the breaker's fields.
type BreakerSnapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		Name:                cb.name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailure:         cb.lastFailure,
	}
}

// transitionTo must be called with mu held. It returns the previous state.
func (cb *CircuitBreaker) transitionTo(to CircuitState) CircuitState {
	from := cb.state
	cb.state = to
	if to == CircuitClosed {
		cb.consecutiveFailures = 0
	}
	return from
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.config.OnStateChange != nil && from != to {
		cb.config.OnStateChange(cb.name, from, to)
	}
}
