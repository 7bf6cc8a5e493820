package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-platform/internal/accountsvc/engine"
	"ledger-platform/internal/accountsvc/models"
	"ledger-platform/internal/accountsvc/store"
	"ledger-platform/internal/eventing"
	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/platform/observer"
)

func newTestEngine(t *testing.T) (*engine.Engine, *store.MemoryRepository) {
	t.Helper()
	repo := store.NewMemoryRepository()
	return engine.New(repo, eventing.NoOpPublisher{}, observer.NoOp{}), repo
}

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.FromString(s)
	require.NoError(t, err)
	return a
}

func TestApply_Credit(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	account, err := repo.CreateAccount(ctx, "owner-1", models.Checking, mustAmount(t, "100.00"))
	require.NoError(t, err)

	result, err := e.Apply(ctx, engine.Request{
		OperationID: "op-1",
		AccountID:   account.ID,
		Delta:       mustAmount(t, "50.00"),
		Reason:      "deposit",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeApplied, result.Outcome)
	assert.True(t, result.ResultingBalance.Equal(mustAmount(t, "150.00")))
}

func TestApply_OverdraftRejected(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	account, err := repo.CreateAccount(ctx, "owner-1", models.Checking, mustAmount(t, "10.00"))
	require.NoError(t, err)

	result, err := e.Apply(ctx, engine.Request{
		OperationID: "op-1",
		AccountID:   account.ID,
		Delta:       mustAmount(t, "-50.00"),
		Reason:      "withdrawal",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeRejected, result.Outcome)
	assert.True(t, result.ResultingBalance.Equal(mustAmount(t, "10.00")))

	unchanged, err := repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, unchanged.Balance.Equal(mustAmount(t, "10.00")))
}

func TestApply_AllowNegativeOverridesOverdraftRejection(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	account, err := repo.CreateAccount(ctx, "owner-1", models.Credit, mustAmount(t, "10.00"))
	require.NoError(t, err)

	result, err := e.Apply(ctx, engine.Request{
		OperationID:   "op-1",
		AccountID:     account.ID,
		Delta:         mustAmount(t, "-50.00"),
		Reason:        "withdrawal",
		AllowNegative: true,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeApplied, result.Outcome)
	assert.True(t, result.ResultingBalance.Equal(mustAmount(t, "-40.00")))
}

func TestApply_ReplaySameOperationIsIdempotent(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	account, err := repo.CreateAccount(ctx, "owner-1", models.Checking, mustAmount(t, "100.00"))
	require.NoError(t, err)

	req := engine.Request{
		OperationID: "op-1",
		AccountID:   account.ID,
		Delta:       mustAmount(t, "25.00"),
		Reason:      "deposit",
	}

	first, err := e.Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeApplied, first.Outcome)

	second, err := e.Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeReplayed, second.Outcome)
	assert.True(t, second.ResultingBalance.Equal(first.ResultingBalance))

	account, err = repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(mustAmount(t, "125.00")), "replay must not double-apply the delta")
}

func TestApply_ReplayOfRejectedOperationReportsReplayedWithOriginalApplied(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	account, err := repo.CreateAccount(ctx, "owner-1", models.Checking, mustAmount(t, "5.00"))
	require.NoError(t, err)

	req := engine.Request{
		OperationID: "op-1",
		AccountID:   account.ID,
		Delta:       mustAmount(t, "-100.00"),
		Reason:      "withdrawal",
	}

	first, err := e.Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeRejected, first.Outcome)

	second, err := e.Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeReplayed, second.Outcome)
	assert.False(t, second.Operation.Applied)
	assert.True(t, second.ResultingBalance.Equal(mustAmount(t, "5.00")))
}

func TestApply_UnknownAccountReturnsNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, engine.Request{
		OperationID: "op-1",
		AccountID:   "does-not-exist",
		Delta:       mustAmount(t, "1.00"),
	})
	require.Error(t, err)
}

func TestApply_DifferentOperationsOnSameAccountBothApply(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	account, err := repo.CreateAccount(ctx, "owner-1", models.Checking, mustAmount(t, "0.00"))
	require.NoError(t, err)

	_, err = e.Apply(ctx, engine.Request{OperationID: "op-1", AccountID: account.ID, Delta: mustAmount(t, "10.00")})
	require.NoError(t, err)
	_, err = e.Apply(ctx, engine.Request{OperationID: "op-2", AccountID: account.ID, Delta: mustAmount(t, "10.00")})
	require.NoError(t, err)

	account, err = repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(mustAmount(t, "20.00")))
	assert.Equal(t, int64(2), account.Version)
}
