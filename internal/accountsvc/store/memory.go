package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger-platform/internal/accountsvc/models"
	"ledger-platform/internal/platform/money"
)

// MemoryRepository is an in-process fake satisfying Repository, used by unit
// tests that exercise the balance engine without a real Postgres instance.
// Locking is modeled with a single mutex rather than per-row locks, which is
// sufficient because RunInTx calls never nest in practice.
type MemoryRepository struct {
	mu         sync.Mutex
	accounts   map[string]*models.Account
	operations map[opKey]*models.BalanceOperation
}

type opKey struct {
	operationID string
	accountID   string
}

// memTxKey marks a context as already running inside RunInTx, so helper
// methods know the repository mutex is already held and must not re-lock it.
type memTxKey struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:   make(map[string]*models.Account),
		operations: make(map[opKey]*models.BalanceOperation),
	}
}

func cloneAccount(a *models.Account) *models.Account {
	cp := *a
	return &cp
}

func cloneOperation(o *models.BalanceOperation) *models.BalanceOperation {
	cp := *o
	return &cp
}

// RunInTx holds the repository mutex for the duration of fn, giving the
// fake the same serialization guarantee RunInTx provides over Postgres.
func (m *MemoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

func (m *MemoryRepository) CreateAccount(ctx context.Context, ownerID string, accountType models.AccountType, initial money.Amount) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	account := &models.Account{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		AccountType: accountType,
		Balance:     initial,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.accounts[account.ID] = account
	return cloneAccount(account), nil
}

func (m *MemoryRepository) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	if !inTx(ctx) {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	account, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

// LockAccount does not itself acquire a lock since RunInTx already holds the
// repository-wide mutex for its whole duration.
func (m *MemoryRepository) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, ok := m.accounts[accountID]
	if !ok || account.Closed {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (m *MemoryRepository) UpdateAccountBalance(ctx context.Context, accountID string, newBalance money.Amount, newVersion int64) error {
	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Balance = newBalance
	account.Version = newVersion
	account.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) FindOperation(ctx context.Context, operationID, accountID string) (*models.BalanceOperation, error) {
	if !inTx(ctx) {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	op, ok := m.operations[opKey{operationID, accountID}]
	if !ok {
		return nil, nil
	}
	return cloneOperation(op), nil
}

func (m *MemoryRepository) InsertOperation(ctx context.Context, op *models.BalanceOperation) (bool, error) {
	if !inTx(ctx) {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	key := opKey{op.OperationID, op.AccountID}
	if _, exists := m.operations[key]; exists {
		return false, nil
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	m.operations[key] = cloneOperation(op)
	return true, nil
}

func (m *MemoryRepository) ListAccounts(ctx context.Context, ownerID string) ([]*models.Account, error) {
	if !inTx(ctx) {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	var out []*models.Account
	for _, a := range m.accounts {
		if a.OwnerID == ownerID {
			out = append(out, cloneAccount(a))
		}
	}
	return out, nil
}

func (m *MemoryRepository) CloseAccount(ctx context.Context, accountID string) error {
	if !inTx(ctx) {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Closed = true
	account.UpdatedAt = time.Now().UTC()
	return nil
}
