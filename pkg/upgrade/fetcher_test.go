package upgrade

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescingFetcher_MergesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	inner := FetcherFunc(func(_ context.Context, id string) (*PaymentRecord, error) {
		calls.Add(1)
		<-release
		return &PaymentRecord{ID: id, Status: StatusApproved}, nil
	})
	fetcher := NewCoalescingFetcher(inner)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*PaymentRecord, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := fetcher.FetchPayment(context.Background(), "pay_1")
			assert.NoError(t, err)
			results[i] = rec
		}(i)
	}

	// Give the callers time to join the in-flight lookup
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, rec := range results {
		require.NotNil(t, rec)
		assert.Equal(t, "pay_1", rec.ID)
	}
	// Callers get independent copies
	results[0].Status = StatusRejected
	assert.Equal(t, StatusApproved, results[1].Status)
}

func TestCoalescingFetcher_CallerTimeout(t *testing.T) {
	inner := FetcherFunc(func(ctx context.Context, id string) (*PaymentRecord, error) {
		time.Sleep(200 * time.Millisecond)
		return &PaymentRecord{ID: id}, nil
	})
	fetcher := NewCoalescingFetcher(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := fetcher.FetchPayment(ctx, "slow")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuardedFetcher_OpenCircuitIsProviderUnavailable(t *testing.T) {
	boom := errors.New("connection refused")
	inner := FetcherFunc(func(context.Context, string) (*PaymentRecord, error) {
		return nil, boom
	})
	fetcher := NewGuardedFetcher(inner, NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := fetcher.FetchPayment(ctx, "p")
		assert.ErrorIs(t, err, boom)
	}

	_, err := fetcher.FetchPayment(ctx, "p")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestGuardedFetcher_PassesThrough(t *testing.T) {
	inner := FetcherFunc(func(_ context.Context, id string) (*PaymentRecord, error) {
		return &PaymentRecord{ID: id}, nil
	})
	fetcher := NewGuardedFetcher(inner, NewCircuitBreaker(BreakerConfig{}))

	rec, err := fetcher.FetchPayment(context.Background(), "p9")
	require.NoError(t, err)
	assert.Equal(t, "p9", rec.ID)
}

func TestCoalescingFetcher_LookupKeepsCallerDeadline(t *testing.T) {
	innerDone := make(chan error, 1)
	inner := FetcherFunc(func(ctx context.Context, id string) (*PaymentRecord, error) {
		if _, ok := ctx.Deadline(); !ok {
			err := errors.New("lookup has no deadline")
			innerDone <- err
			return nil, err
		}
		<-ctx.Done()
		innerDone <- ctx.Err()
		return nil, ctx.Err()
	})
	fetcher := NewCoalescingFetcher(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := fetcher.FetchPayment(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case err := <-innerDone:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("lookup outlived the caller's deadline")
	}
}

func TestCoalescingFetcher_CancelDoesNotAbortLookup(t *testing.T) {
	release := make(chan struct{})
	innerErr := make(chan error, 1)
	inner := FetcherFunc(func(ctx context.Context, id string) (*PaymentRecord, error) {
		<-release
		innerErr <- ctx.Err()
		return &PaymentRecord{ID: id}, nil
	})
	fetcher := NewCoalescingFetcher(inner)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := fetcher.FetchPayment(ctx, "p1")
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.NoError(t, <-innerErr)
}
