package upgrade

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is the current state of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ErrCircuitOpen is returned while the breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards calls to the payment provider.
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
	State() BreakerState
}

// BreakerConfig configures a DefaultCircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker. Default: 5
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before letting a probe through. Default: 30s
	ResetTimeout time.Duration

	// IsFailure decides which errors count against the breaker.
	// Default: everything except ErrPaymentNotFound and context cancellation.
	IsFailure func(err error) bool

	// OnStateChange is called with the breaker lock released.
	OnStateChange func(state BreakerState)

	Clock Clock
}

// DefaultCircuitBreaker is a consecutive-failure breaker that admits one probe when half-open.
type DefaultCircuitBreaker struct {
	mu sync.Mutex

	state     BreakerState
	failures  int
	openedAt  time.Time
	probing   bool
	threshold int
	timeout   time.Duration
	isFailure func(error) bool
	notify    func(BreakerState)
	now       Clock
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config BreakerConfig) *DefaultCircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = countsAsProviderFailure
	}
	if config.Clock == nil {
		config.Clock = systemClock
	}
	return &DefaultCircuitBreaker{
		state:     BreakerClosed,
		threshold: config.FailureThreshold,
		timeout:   config.ResetTimeout,
		isFailure: config.IsFailure,
		notify:    config.OnStateChange,
		now:       config.Clock,
	}
}

func countsAsProviderFailure(err error) bool {
	return !errors.Is(err, ErrPaymentNotFound) && !errors.Is(err, context.Canceled)
}

// State returns the current state, reporting half-open once the reset timeout has elapsed.
func (cb *DefaultCircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *DefaultCircuitBreaker) currentState() BreakerState {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.timeout {
		return BreakerHalfOpen
	}
	return cb.state
}

// Execute runs fn unless the breaker is open or a half-open probe is already in flight.
func (cb *DefaultCircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *DefaultCircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case BreakerOpen:
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *DefaultCircuitBreaker) record(err error) {
	cb.mu.Lock()
	wasProbe := cb.probing
	cb.probing = false

	var changed BreakerState
	if err == nil || !cb.isFailure(err) {
		cb.failures = 0
		if cb.state != BreakerClosed {
			cb.state = BreakerClosed
			changed = BreakerClosed
		}
	} else {
		cb.failures++
		if wasProbe || (cb.state == BreakerClosed && cb.failures >= cb.threshold) {
			if cb.state != BreakerOpen {
				changed = BreakerOpen
			}
			cb.state = BreakerOpen
			cb.openedAt = cb.now()
		}
	}
	notify := cb.notify
	cb.mu.Unlock()

	if changed != "" && notify != nil {
		notify(changed)
	}
}
