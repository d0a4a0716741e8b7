package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

func TestStorage_GetAccount_NotFound(t *testing.T) {
	storage := New()

	_, err := storage.GetAccount(context.Background(), "user1")
	if !errors.Is(err, upgrade.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestStorage_CompareAndSwap_CreateAndUpdate(t *testing.T) {
	storage := New()
	ctx := context.Background()

	if err := storage.CompareAndSwap(ctx, "user1", 0, upgrade.NewAccount("user1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	acct, err := storage.GetAccount(ctx, "user1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Version != 1 {
		t.Errorf("Expected version 1, got %d", acct.Version)
	}

	expiry := time.Now().Add(time.Hour)
	acct.PlanExpiry = &expiry
	acct.Plan = upgrade.PlanPro
	if err := storage.CompareAndSwap(ctx, "user1", 1, acct); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, _ := storage.GetAccount(ctx, "user1")
	if got.Version != 2 || got.Plan != upgrade.PlanPro {
		t.Errorf("Expected pro at version 2, got %s at %d", got.Plan, got.Version)
	}
}

func TestStorage_CompareAndSwap_StaleVersion(t *testing.T) {
	storage := New()
	ctx := context.Background()

	_ = storage.CompareAndSwap(ctx, "user1", 0, upgrade.NewAccount("user1"))

	// Creating again must conflict
	if err := storage.CompareAndSwap(ctx, "user1", 0, upgrade.NewAccount("user1")); !errors.Is(err, upgrade.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict on double create, got %v", err)
	}
	if err := storage.CompareAndSwap(ctx, "user1", 7, upgrade.NewAccount("user1")); !errors.Is(err, upgrade.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict on stale version, got %v", err)
	}
	// Updating a missing account with a non-zero version must conflict
	if err := storage.CompareAndSwap(ctx, "ghost", 1, upgrade.NewAccount("ghost")); !errors.Is(err, upgrade.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict for missing account, got %v", err)
	}
}

func TestStorage_ReturnsCopies(t *testing.T) {
	storage := New()
	ctx := context.Background()

	acct := upgrade.NewAccount("user1")
	acct.PaymentHistory = append(acct.PaymentHistory, upgrade.PaymentEntry{PaymentID: "p1"})
	_ = storage.CompareAndSwap(ctx, "user1", 0, acct)

	// Mutating the caller's value after the write must not leak into the store
	acct.PaymentHistory[0].PaymentID = "mutated"

	got, _ := storage.GetAccount(ctx, "user1")
	got.PaymentHistory[0].PaymentID = "also-mutated"

	again, _ := storage.GetAccount(ctx, "user1")
	if again.PaymentHistory[0].PaymentID != "p1" {
		t.Errorf("Expected stored history to be isolated, got %q", again.PaymentHistory[0].PaymentID)
	}
}

func TestStorage_CompareAndSwap_Concurrent(t *testing.T) {
	storage := New()
	ctx := context.Background()
	_ = storage.CompareAndSwap(ctx, "user1", 0, upgrade.NewAccount("user1"))

	const workers = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := storage.CompareAndSwap(ctx, "user1", 1, upgrade.NewAccount("user1")); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Expected exactly one writer to win, got %d", wins.Load())
	}
}
