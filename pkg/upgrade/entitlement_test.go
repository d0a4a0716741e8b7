package upgrade_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
	"github.com/mihaimyh/goupgrade/storage/memory"
)

type failingReader struct{}

func (failingReader) GetAccount(context.Context, string) (*upgrade.UserAccount, error) {
	return nil, errors.New("connection refused")
}

func TestCheckPlan(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	active := fixedNow.Add(time.Hour)
	pro := upgrade.NewAccount("pro-user")
	pro.Plan, pro.PlanExpiry = upgrade.PlanPro, &active
	require.NoError(t, store.CompareAndSwap(ctx, "pro-user", 0, pro))

	lapsed := fixedNow.Add(-time.Hour)
	expired := upgrade.NewAccount("expired-user")
	expired.Plan, expired.PlanExpiry = upgrade.PlanPro, &lapsed
	require.NoError(t, store.CompareAndSwap(ctx, "expired-user", 0, expired))

	acct, err := upgrade.CheckPlan(ctx, store, "pro-user", upgrade.PlanPro, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, upgrade.PlanPro, acct.Plan)

	acct, err = upgrade.CheckPlan(ctx, store, "expired-user", upgrade.PlanPro, fixedNow)
	assert.ErrorIs(t, err, upgrade.ErrPlanRequired)
	require.NotNil(t, acct)
	assert.Equal(t, upgrade.PlanStandard, acct.Plan)

	acct, err = upgrade.CheckPlan(ctx, store, "nobody", upgrade.PlanPro, fixedNow)
	assert.ErrorIs(t, err, upgrade.ErrPlanRequired)
	assert.Equal(t, "nobody", acct.ID)

	_, err = upgrade.CheckPlan(ctx, store, "nobody", upgrade.PlanStandard, fixedNow)
	assert.NoError(t, err)

	_, err = upgrade.CheckPlan(ctx, failingReader{}, "pro-user", upgrade.PlanPro, fixedNow)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, upgrade.ErrPlanRequired))
}
