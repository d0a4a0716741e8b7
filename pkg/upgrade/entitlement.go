package upgrade

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CheckPlan loads userID's account and reports whether its effective plan at
// now covers required. A user without an account is treated as standard.
//
// The returned account is never nil when err is nil or ErrPlanRequired.
func CheckPlan(ctx context.Context, accounts AccountReader, userID string, required Plan, now time.Time) (*UserAccount, error) {
	acct, err := accounts.GetAccount(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("load account %s: %w", userID, err)
		}
		acct = NewAccount(userID)
	}
	Normalize(acct, now)
	if !acct.Plan.Covers(required) {
		return acct, fmt.Errorf("%w: %s needs %s, has %s", ErrPlanRequired, userID, required, acct.Plan)
	}
	return acct, nil
}
