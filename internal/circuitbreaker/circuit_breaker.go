// Package circuitbreaker guards calls to flaky backends such as the
// embedding provider. After FailureThreshold consecutive failures the
// breaker opens and rejects calls until OpenTimeout has elapsed, then lets
// a limited number of probes through.
package circuitbreaker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// State represents the circuit breaker state
type State int32

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

// Errors
var (
	ErrCircuitOpen  = errors.New("circuit breaker is open")
	ErrProbeLimited = errors.New("circuit breaker half-open probe limit reached")
)

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	MaxProbes        int
	// IsFailure decides whether an error trips the breaker. Nil counts every error.
	IsFailure     func(error) bool
	OnStateChange func(from, to State)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MaxProbes:        1,
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}
}

// CircuitBreaker implements the circuit breaker pattern with atomics only
type CircuitBreaker struct {
	config *Config

	state    atomic.Int32
	openedAt atomic.Int64

	failures  atomic.Int32
	successes atomic.Int32
	probes    atomic.Int32

	requests   atomic.Int64
	rejections atomic.Int64
	errorsSeen atomic.Int64
}

// New creates a new circuit breaker
func New(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.MaxProbes <= 0 {
		config.MaxProbes = 1
	}
	return &CircuitBreaker{config: config}
}

// Execute runs fn unless the breaker is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probing, err := cb.admit()
	if err != nil {
		cb.rejections.Add(1)
		return err
	}
	if probing {
		defer cb.probes.Add(-1)
	}

	cb.requests.Add(1)
	err = fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() (probing bool, err error) {
	switch cb.State() {
	case StateClosed:
		return false, nil
	case StateOpen:
		if time.Since(time.Unix(0, cb.openedAt.Load())) < cb.config.OpenTimeout {
			return false, ErrCircuitOpen
		}
		cb.transition(StateOpen, StateHalfOpen)
	}

	if cb.probes.Add(1) > int32(cb.config.MaxProbes) {
		cb.probes.Add(-1)
		return false, ErrProbeLimited
	}
	return true, nil
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err))
	state := cb.State()

	if failed {
		cb.errorsSeen.Add(1)
		switch state {
		case StateClosed:
			if cb.failures.Add(1) >= int32(cb.config.FailureThreshold) {
				cb.transition(StateClosed, StateOpen)
			}
		case StateHalfOpen:
			cb.transition(StateHalfOpen, StateOpen)
		}
		return
	}

	switch state {
	case StateClosed:
		cb.failures.Store(0)
	case StateHalfOpen:
		if cb.successes.Add(1) >= int32(cb.config.SuccessThreshold) {
			cb.transition(StateHalfOpen, StateClosed)
		}
	}
}

// transition moves from -> to only if the breaker is still in from
func (cb *CircuitBreaker) transition(from, to State) {
	if !cb.state.CompareAndSwap(int32(from), int32(to)) {
		return
	}
	cb.failures.Store(0)
	cb.successes.Store(0)
	if to == StateOpen {
		cb.openedAt.Store(time.Now().UnixNano())
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// Stats holds circuit breaker statistics
type Stats struct {
	State      State
	Requests   int64
	Failures   int64
	Rejections int64
}

// Stats returns a snapshot of the counters
func (cb *CircuitBreaker) Stats() Stats {
	return Stats{
		State:      cb.State(),
		Requests:   cb.requests.Load(),
		Failures:   cb.errorsSeen.Load(),
		Rejections: cb.rejections.Load(),
	}
}

// Reset forces the breaker closed
func (cb *CircuitBreaker) Reset() {
	cb.state.Store(int32(StateClosed))
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.probes.Store(0)
}
