package orchestrator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-platform/internal/platform/apierr"
	"ledger-platform/internal/platform/auth"
	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/platform/observer"
	"ledger-platform/internal/txnsvc/client"
	"ledger-platform/internal/txnsvc/limits"
	"ledger-platform/internal/txnsvc/models"
	"ledger-platform/internal/txnsvc/orchestrator"
	"ledger-platform/internal/txnsvc/store"
)

// fakeAccountService is a minimal in-memory stand-in for the Account
// Service's HTTP facade, enough to drive the orchestrator's two-leg and
// single-leg flows without a real account-service process.
type fakeAccountService struct {
	mu          sync.Mutex
	balances    map[string]money.Amount
	owners      map[string]string
	seenOps     map[string]bool
	opIDs        []string        // every operationId seen, in call order
	rejectCredit map[string]bool // accountID -> force credit rejection once
	unavailable  map[string]int  // accountID -> remaining 503s to return
}

func newFakeAccountService() *fakeAccountService {
	return &fakeAccountService{
		balances:     make(map[string]money.Amount),
		owners:       make(map[string]string),
		seenOps:      make(map[string]bool),
		rejectCredit: make(map[string]bool),
		unavailable:  make(map[string]int),
	}
}

func (f *fakeAccountService) seed(accountID, owner string, balance money.Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[accountID] = balance
	f.owners[accountID] = owner
}

func (f *fakeAccountService) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/accounts/")
		if strings.HasSuffix(path, "/operations") {
			accountID := strings.TrimSuffix(path, "/operations")
			f.handleOperation(w, r, accountID)
			return
		}
		f.handleGet(w, path)
	})
	return httptest.NewServer(mux)
}

func (f *fakeAccountService) handleGet(w http.ResponseWriter, accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owners[accountID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(client.Account{ID: accountID, OwnerID: owner, AccountType: "STANDARD", Balance: f.balances[accountID].String()})
}

type opRequest struct {
	OperationID   string `json:"operationId"`
	TransactionID string `json:"transactionId"`
	Delta         string `json:"delta"`
	Reason        string `json:"reason"`
	AllowNegative bool   `json:"allowNegative"`
}

func (f *fakeAccountService) handleOperation(w http.ResponseWriter, r *http.Request, accountID string) {
	var req opRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.opIDs = append(f.opIDs, req.OperationID)

	if remaining := f.unavailable[accountID]; remaining > 0 {
		f.unavailable[accountID] = remaining - 1
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if f.seenOps[req.OperationID] {
		_ = json.NewEncoder(w).Encode(client.OperationResult{AccountID: accountID, OperationID: req.OperationID, Applied: true, Status: "REPLAYED", NewBalance: f.balances[accountID].String()})
		return
	}

	if f.rejectCredit[accountID] {
		delete(f.rejectCredit, accountID)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"credit leg rejected"}`))
		return
	}

	delta, err := money.FromString(req.Delta)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	newBalance := f.balances[accountID].Add(delta)
	if newBalance.Negative() && !req.AllowNegative {
		f.seenOps[req.OperationID] = true
		_ = json.NewEncoder(w).Encode(client.OperationResult{AccountID: accountID, OperationID: req.OperationID, Applied: false, Status: "REJECTED", NewBalance: f.balances[accountID].String()})
		return
	}
	f.balances[accountID] = newBalance
	f.seenOps[req.OperationID] = true
	_ = json.NewEncoder(w).Encode(client.OperationResult{AccountID: accountID, OperationID: req.OperationID, Applied: true, Status: "APPLIED", NewBalance: newBalance.String()})
}

func testResilience() config.ResilienceConfig {
	return config.ResilienceConfig{
		Timeout:             2 * time.Second,
		MaxAttempts:         2,
		InitialBackoff:      time.Millisecond,
		BreakerWindow:       15,
		BreakerMinCalls:     100,
		BreakerFailureRatio: 0.99,
		BreakerOpenTimeout:  time.Second,
		BreakerHalfOpenMax:  3,
	}
}

func newHarness(t *testing.T, fake *fakeAccountService) (*orchestrator.Orchestrator, *store.MemoryStore) {
	t.Helper()
	server := fake.server()
	t.Cleanup(server.Close)

	txStore := store.NewMemoryStore()
	accountClient := client.New(server.URL, testResilience(), "")
	evaluator := limits.New(txStore)
	orch := orchestrator.New(txStore, accountClient, evaluator, nil, nil, observer.NoOp{})
	return orch, txStore
}

func principal(name string) auth.Principal {
	return auth.Principal{Name: name}
}

func TestDeposit_Idempotent(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-1", "alice", money.FromCents(0))
	orch, _ := newHarness(t, fake)

	req := orchestrator.DepositRequest{
		AccountID:      "acc-1",
		Amount:         money.FromCents(5000),
		Currency:       "USD",
		Principal:      principal("alice"),
		IdempotencyKey: "dep-1",
	}

	first, err := orch.Deposit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, first.Status)

	second, err := orch.Deposit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "replayed deposit must return the original transaction")
}

func TestWithdrawal_OverdraftRejected(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-1", "alice", money.FromCents(1000))
	orch, _ := newHarness(t, fake)

	tx, err := orch.Withdrawal(context.Background(), orchestrator.WithdrawalRequest{
		AccountID: "acc-1",
		Amount:    money.FromCents(5000),
		Currency:  "USD",
		Principal: principal("alice"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, tx.Status)
}

func TestTransfer_InsufficientFunds_AbortsBeforeCreatingTransaction(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-from", "alice", money.FromCents(1000))
	fake.seed("acc-to", "bob", money.FromCents(0))
	orch, txStore := newHarness(t, fake)

	tx, err := orch.Transfer(context.Background(), orchestrator.TransferRequest{
		FromAccountID: "acc-from",
		ToAccountID:   "acc-to",
		Amount:        money.FromCents(5000),
		Currency:      "USD",
		Principal:     principal("alice"),
	})
	require.Error(t, err)
	assert.Nil(t, tx)

	page, err := txStore.ListByAccount(context.Background(), "acc-from", 0, 20, "desc")
	require.NoError(t, err)
	assert.Empty(t, page.Items, "a soft pre-check failure must not create a PROCESSING transaction row")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.balances["acc-from"].Equal(money.FromCents(1000)), "balance must be untouched")
}

func TestTransfer_HappyPath(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-from", "alice", money.FromCents(10000))
	fake.seed("acc-to", "bob", money.FromCents(0))
	orch, _ := newHarness(t, fake)

	tx, err := orch.Transfer(context.Background(), orchestrator.TransferRequest{
		FromAccountID: "acc-from",
		ToAccountID:   "acc-to",
		Amount:        money.FromCents(2500),
		Currency:      "USD",
		Principal:     principal("alice"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.Equal(t, models.StateCompleted, tx.ProcessingState)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.balances["acc-from"].Equal(money.FromCents(7500)))
	assert.True(t, fake.balances["acc-to"].Equal(money.FromCents(2500)))
}

func TestTransfer_OperationIDsHaveNoPrefix(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-from", "alice", money.FromCents(10000))
	fake.seed("acc-to", "bob", money.FromCents(0))
	orch, _ := newHarness(t, fake)

	tx, err := orch.Transfer(context.Background(), orchestrator.TransferRequest{
		FromAccountID: "acc-from",
		ToAccountID:   "acc-to",
		Amount:        money.FromCents(2500),
		Currency:      "USD",
		Principal:     principal("alice"),
	})
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.opIDs, tx.ID+":debit")
	assert.Contains(t, fake.opIDs, tx.ID+":credit")
}

func TestTransfer_CreditFailsAfterDebit_Compensates(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-from", "alice", money.FromCents(10000))
	fake.seed("acc-to", "bob", money.FromCents(0))
	fake.rejectCredit["acc-to"] = true
	orch, _ := newHarness(t, fake)

	tx, err := orch.Transfer(context.Background(), orchestrator.TransferRequest{
		FromAccountID: "acc-from",
		ToAccountID:   "acc-to",
		Amount:        money.FromCents(2500),
		Currency:      "USD",
		Principal:     principal("alice"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Equal(t, models.StateCompensated, tx.ProcessingState)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.balances["acc-from"].Equal(money.FromCents(10000)), "debit must be fully reversed by compensation")
}

func TestReverse_WindowExpiredRejected(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-1", "alice", money.FromCents(0))
	orch, txStore := newHarness(t, fake)

	old := &models.Transaction{
		ID:            "tx-old",
		Type:          models.TypeDeposit,
		Status:        models.StatusCompleted,
		ProcessingState: models.StateCompleted,
		FromAccountID: models.ExternalAccount,
		ToAccountID:   "acc-1",
		Amount:        money.FromCents(1000),
		CreatedBy:     "alice",
		CreatedAt:     time.Now().Add(-40 * 24 * time.Hour),
	}
	require.NoError(t, txStore.InsertPending(context.Background(), old))

	_, err := orch.Reverse(context.Background(), orchestrator.ReverseRequest{
		OriginalTransactionID: "tx-old",
		Reason:                "customer request",
		Principal:             principal("alice"),
	})
	require.Error(t, err)
}

func TestReverse_Deposit_DebitsBackOriginalCredit(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-1", "alice", money.FromCents(0))
	orch, _ := newHarness(t, fake)

	deposit, err := orch.Deposit(context.Background(), orchestrator.DepositRequest{
		AccountID: "acc-1",
		Amount:    money.FromCents(3000),
		Currency:  "USD",
		Principal: principal("alice"),
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, deposit.Status)

	reversal, err := orch.Reverse(context.Background(), orchestrator.ReverseRequest{
		OriginalTransactionID: deposit.ID,
		Reason:                "duplicate deposit",
		Principal:             principal("alice"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, reversal.Status)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.balances["acc-1"].IsZero())
}

func TestReverse_AlreadyReversedRejected(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-1", "alice", money.FromCents(0))
	orch, _ := newHarness(t, fake)

	deposit, err := orch.Deposit(context.Background(), orchestrator.DepositRequest{
		AccountID: "acc-1",
		Amount:    money.FromCents(3000),
		Currency:  "USD",
		Principal: principal("alice"),
	})
	require.NoError(t, err)

	_, err = orch.Reverse(context.Background(), orchestrator.ReverseRequest{
		OriginalTransactionID: deposit.ID,
		Reason:                "first reversal",
		Principal:             principal("alice"),
	})
	require.NoError(t, err)

	_, err = orch.Reverse(context.Background(), orchestrator.ReverseRequest{
		OriginalTransactionID: deposit.ID,
		Reason:                "second reversal attempt",
		Principal:             principal("alice"),
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, apierr.As(err).Status)
}

func TestReverse_IdempotencyKey_ReplaysPriorReversal(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-1", "alice", money.FromCents(0))
	orch, _ := newHarness(t, fake)

	deposit, err := orch.Deposit(context.Background(), orchestrator.DepositRequest{
		AccountID: "acc-1",
		Amount:    money.FromCents(3000),
		Currency:  "USD",
		Principal: principal("alice"),
	})
	require.NoError(t, err)

	first, err := orch.Reverse(context.Background(), orchestrator.ReverseRequest{
		OriginalTransactionID: deposit.ID,
		Reason:                "duplicate deposit",
		Principal:             principal("alice"),
		IdempotencyKey:        "rev-key-1",
	})
	require.NoError(t, err)

	second, err := orch.Reverse(context.Background(), orchestrator.ReverseRequest{
		OriginalTransactionID: deposit.ID,
		Reason:                "duplicate deposit",
		Principal:             principal("alice"),
		IdempotencyKey:        "rev-key-1",
	})
	require.NoError(t, err, "replay of a reversal via its idempotency key must not surface ALREADY_REVERSED")
	assert.Equal(t, first.ID, second.ID)
}

func TestTransfer_ForbiddenForNonOwner(t *testing.T) {
	fake := newFakeAccountService()
	fake.seed("acc-from", "alice", money.FromCents(10000))
	fake.seed("acc-to", "bob", money.FromCents(0))
	orch, _ := newHarness(t, fake)

	_, err := orch.Transfer(context.Background(), orchestrator.TransferRequest{
		FromAccountID: "acc-from",
		ToAccountID:   "acc-to",
		Amount:        money.FromCents(100),
		Currency:      "USD",
		Principal:     principal("mallory"),
	})
	require.Error(t, err)
}
