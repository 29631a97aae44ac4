package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/fleetrate/arbiter/core"
)

// State is the circuit breaker's current state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures trip/recovery thresholds.
type CircuitBreakerConfig struct {
	Threshold        int           // consecutive failures before tripping
	Timeout          time.Duration // time spent open before trying half-open
	HalfOpenRequests int           // successes required in half-open to close
}

// DefaultCircuitBreakerConfig matches the arbiter's fail-open disposition:
// a handful of failed store calls open the circuit quickly so AS stops
// hammering a down Redis instance.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:        5,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 3,
	}
}

// CircuitBreaker is a minimal, dependency-free circuit breaker guarding a
// single downstream (the shared counter store, from the arbiter's point of
// view). It is not a generic library: it only tracks consecutive failures,
// which is all the arbiter's fail-open disposition needs.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger core.Logger

	mu              sync.Mutex
	state           State
	consecutiveFail int
	halfOpenOK      int
	openedAt        time.Time
}

// NewCircuitBreaker creates a CircuitBreaker named name (used only for
// logging) with the given configuration.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger core.Logger) *CircuitBreaker {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &CircuitBreaker{name: name, config: config, logger: logger, state: StateClosed}
}

// CanExecute reports whether a call should be attempted right now.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.Timeout {
			cb.transition(StateHalfOpen)
			cb.halfOpenOK = 0
			return true
		}
		return false
	}
	return false
}

// Execute runs fn under circuit breaker protection, returning
// core.ErrCircuitOpen immediately when the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.CanExecute() {
		return core.ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// RecordSuccess registers a successful call, closing the circuit once enough
// half-open probes succeed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFail = 0
	if cb.state == StateHalfOpen {
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.config.HalfOpenRequests {
			cb.transition(StateClosed)
		}
	}
}

// RecordFailure registers a failed call, tripping the circuit when the
// consecutive-failure threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFail++
	if cb.state == StateHalfOpen {
		cb.transition(StateOpen)
		return
	}
	if cb.consecutiveFail >= cb.config.Threshold {
		cb.transition(StateOpen)
	}
}

// GetState returns the breaker's current state as a string.
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if to == StateOpen {
		cb.openedAt = time.Now()
	}
	if from != to {
		cb.logger.Warn("circuit breaker state change", map[string]interface{}{
			"name": cb.name,
			"from": from.String(),
			"to":   to.String(),
		})
	}
}
