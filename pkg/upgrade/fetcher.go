package upgrade

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// StatusFetcher retrieves the canonical record of a payment from the provider.
type StatusFetcher interface {
	FetchPayment(ctx context.Context, paymentID string) (*PaymentRecord, error)
}

// FetcherFunc adapts a function to StatusFetcher.
type FetcherFunc func(ctx context.Context, paymentID string) (*PaymentRecord, error)

func (f FetcherFunc) FetchPayment(ctx context.Context, paymentID string) (*PaymentRecord, error) {
	return f(ctx, paymentID)
}

// CoalescingFetcher merges concurrent lookups of the same payment id into one
// provider call. Duplicate webhook deliveries tend to arrive together.
type CoalescingFetcher struct {
	next  StatusFetcher
	group singleflight.Group
}

// NewCoalescingFetcher wraps next.
func NewCoalescingFetcher(next StatusFetcher) *CoalescingFetcher {
	return &CoalescingFetcher{next: next}
}

func (c *CoalescingFetcher) FetchPayment(ctx context.Context, paymentID string) (*PaymentRecord, error) {
	ch := c.group.DoChan(paymentID, func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others,
		// but still bounded by the leading caller's deadline.
		fctx := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			fctx, cancel = context.WithDeadline(fctx, deadline)
			defer cancel()
		}
		return c.next.FetchPayment(fctx, paymentID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rec := *res.Val.(*PaymentRecord)
		return &rec, nil
	}
}

// GuardedFetcher fails fast with ErrProviderUnavailable while the breaker is open.
type GuardedFetcher struct {
	next    StatusFetcher
	breaker CircuitBreaker
}

// NewGuardedFetcher wraps next with breaker.
func NewGuardedFetcher(next StatusFetcher, breaker CircuitBreaker) *GuardedFetcher {
	return &GuardedFetcher{next: next, breaker: breaker}
}

func (g *GuardedFetcher) FetchPayment(ctx context.Context, paymentID string) (*PaymentRecord, error) {
	var rec *PaymentRecord
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		rec, err = g.next.FetchPayment(ctx, paymentID)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return rec, err
}
