package upgrade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []BreakerState
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		Clock:            clock.Now,
		OnStateChange:    func(s BreakerState) { transitions = append(transitions, s) },
	})
	ctx := context.Background()
	fail := func(context.Context) error { return ErrProviderUnavailable }
	ok := func(context.Context) error { return nil }

	assert.Equal(t, BreakerClosed, cb.State())

	for i := 0; i < 2; i++ {
		assert.Error(t, cb.Execute(ctx, fail))
		assert.Equal(t, BreakerClosed, cb.State())
	}

	// Third failure opens the circuit
	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, BreakerOpen, cb.State())

	// Open circuit fails fast without calling fn
	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock.Advance(time.Minute)
	assert.Equal(t, BreakerHalfOpen, cb.State())

	// Failed probe re-opens
	assert.ErrorIs(t, cb.Execute(ctx, fail), ErrProviderUnavailable)
	assert.Equal(t, BreakerOpen, cb.State())

	clock.Advance(time.Minute)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, BreakerClosed, cb.State())

	assert.Equal(t, []BreakerState{BreakerOpen, BreakerClosed}, transitions)
}

func TestCircuitBreaker_NotFoundDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1})
	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return ErrPaymentNotFound })
		assert.True(t, errors.Is(err, ErrPaymentNotFound))
	}
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_SingleHalfOpenProbe(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, Clock: clock.Now})
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errors.New("boom") })
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// A second caller during the probe is refused
	assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return nil }), ErrCircuitOpen)

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, BreakerClosed, cb.State())
}
