package limits_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/txnsvc/limits"
	"ledger-platform/internal/txnsvc/models"
)

type stubSums struct {
	sum money.Amount
	err error
}

func (s stubSums) SumCompleted(ctx context.Context, accountID string, txType models.TransactionType, from, to time.Time) (money.Amount, error) {
	return s.sum, s.err
}

func TestCheck_NoProfileFallsBackToBasicCeiling(t *testing.T) {
	e := limits.New(stubSums{sum: money.Zero})

	decision, err := e.Check(context.Background(), "acc-1", "UNKNOWN", models.TypeWithdrawal, money.FromCents(5_000_00))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = e.Check(context.Background(), "acc-1", "UNKNOWN", models.TypeWithdrawal, money.FromCents(10_000_01))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestCheck_ProfilePerTransactionLimitClampedToBasicCeiling(t *testing.T) {
	e := limits.New(stubSums{sum: money.Zero})
	loadSingleProfile(t, e, models.LimitProfile{
		AccountType:         "PREMIUM",
		PerTransactionLimit: money.FromCents(50_000_00),
		DailyLimit:          money.Zero,
		MonthlyLimit:        money.Zero,
	})

	decision, err := e.Check(context.Background(), "acc-1", "PREMIUM", models.TypeWithdrawal, money.FromCents(20_000_00))
	require.NoError(t, err)
	assert.False(t, decision.Allowed, "profile cannot raise the per-transaction limit above the basic ceiling")
}

func TestCheck_DailyLimitDenial(t *testing.T) {
	e := limits.New(stubSums{sum: money.FromCents(9_000_00)})
	loadSingleProfile(t, e, models.LimitProfile{
		AccountType:         "STANDARD",
		PerTransactionLimit: money.FromCents(10_000_00),
		DailyLimit:          money.FromCents(10_000_00),
		MonthlyLimit:        money.Zero,
	})

	decision, err := e.Check(context.Background(), "acc-1", "STANDARD", models.TypeWithdrawal, money.FromCents(2_000_00))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func loadSingleProfile(t *testing.T, e *limits.Evaluator, profile models.LimitProfile) {
	t.Helper()
	path := t.TempDir() + "/profiles.json"
	data := `[{"accountType":"` + profile.AccountType + `","perTransactionLimit":"` + profile.PerTransactionLimit.String() +
		`","dailyLimit":"` + profile.DailyLimit.String() + `","monthlyLimit":"` + profile.MonthlyLimit.String() + `"}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	require.NoError(t, e.LoadProfiles(path))
}
