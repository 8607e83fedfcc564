// Package circuit implements a small closed/open/half-open circuit
// breaker used to stop hammering a remote endpoint that is already
// failing.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
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

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	mu sync.RWMutex

	maxFailures     int
	timeout         time.Duration
	halfOpenTimeout time.Duration

	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	lastStateChange time.Time

	totalRequests   int64
	totalSuccesses  int64
	totalFailures   int64
	totalRejections int64

	onStateChange func(from, to State)
}

// Config holds circuit breaker configuration.
type Config struct {
	MaxFailures     int
	Timeout         time.Duration
	HalfOpenTimeout time.Duration
	OnStateChange   func(from, to State)
}

func DefaultConfig() Config {
	return Config{
		MaxFailures:     3,
		Timeout:         30 * time.Second,
		HalfOpenTimeout: 10 * time.Second,
	}
}

func New(config Config) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenTimeout <= 0 {
		config.HalfOpenTimeout = 10 * time.Second
	}

	return &Breaker{
		maxFailures:     config.MaxFailures,
		timeout:         config.Timeout,
		halfOpenTimeout: config.HalfOpenTimeout,
		state:           StateClosed,
		lastStateChange: time.Now(),
		onStateChange:   config.OnStateChange,
	}
}

// Call executes fn with circuit breaker protection. A context already
// cancelled or past its deadline fails fast without touching the failure
// count or rejection stats, and the same holds for cancellation surfaced
// by fn itself: a caller giving up isn't evidence the backend is
// unhealthy, so it must never trip the breaker.
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastStateChange) >= b.timeout {
			b.setState(StateHalfOpen)
			return nil
		}
		b.totalRejections++
		return &OpenError{State: b.state, Failures: b.failures, LastFailureTime: b.lastFailureTime}

	case StateHalfOpen:
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %d", b.state)
	}
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
}

func (b *Breaker) onSuccess() {
	b.totalSuccesses++
	b.failures = 0

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= 2 {
			b.setState(StateClosed)
			b.successes = 0
		}
	case StateOpen:
		b.setState(StateClosed)
	}
}

func (b *Breaker) onFailure() {
	b.totalFailures++
	b.failures++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.successes = 0
	case StateOpen:
		b.lastStateChange = time.Now()
	}
}

func (b *Breaker) setState(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}
	b.state = newState
	b.lastStateChange = time.Now()

	if b.onStateChange != nil {
		go b.onStateChange(oldState, newState)
	}
}

func (b *Breaker) GetState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		TotalRequests:   b.totalRequests,
		TotalSuccesses:  b.totalSuccesses,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}

// Stats represents circuit breaker statistics.
type Stats struct {
	State           State
	Failures        int
	Successes       int
	TotalRequests   int64
	TotalSuccesses  int64
	TotalFailures   int64
	TotalRejections int64
	LastFailureTime time.Time
	LastStateChange time.Time
}

// OpenError is returned when the circuit is open.
type OpenError struct {
	State           State
	Failures        int
	LastFailureTime time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is %s (failures: %d, last failure: %s)",
		e.State.String(), e.Failures, e.LastFailureTime.Format(time.RFC3339))
}

func IsOpen(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}
