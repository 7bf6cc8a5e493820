package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/txnsvc/models"
)

// MemoryStore is an in-process fake satisfying TransactionStore, used by
// orchestrator unit tests without a real Postgres instance.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*models.Transaction
	idemp map[idempKey]string // -> transaction id
}

type idempKey struct {
	createdBy string
	txType    models.TransactionType
	key       string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*models.Transaction),
		idemp: make(map[idempKey]string),
	}
}

func cloneTx(t *models.Transaction) *models.Transaction {
	cp := *t
	return &cp
}

func (m *MemoryStore) InsertPending(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IdempotencyKey != "" {
		key := idempKey{tx.CreatedBy, tx.Type, tx.IdempotencyKey}
		if _, exists := m.idemp[key]; exists {
			return ErrIdempotencyConflict
		}
		m.idemp[key] = tx.ID
	}

	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	m.byID[tx.ID] = cloneTx(tx)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return cloneTx(tx), nil
}

func (m *MemoryStore) FindByIdempotencyKey(ctx context.Context, createdBy string, txType models.TransactionType, key string) (*models.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.idemp[idempKey{createdBy, txType, key}]
	if !ok {
		return nil, nil
	}
	return cloneTx(m.byID[id]), nil
}

func (m *MemoryStore) UpdateProcessingState(ctx context.Context, id string, state models.ProcessingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	if !ok {
		return ErrTransactionNotFound
	}
	tx.ProcessingState = state
	tx.Status = models.StatusProcessing
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Complete(ctx context.Context, id string, status models.TransactionStatus, state models.ProcessingState, failureReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	if !ok {
		return ErrTransactionNotFound
	}
	now := time.Now().UTC()
	tx.Status = status
	tx.ProcessingState = state
	tx.FailureReason = failureReason
	tx.ProcessedAt = &now
	tx.Version++
	tx.UpdatedAt = now
	return nil
}

func (m *MemoryStore) AttachReversal(ctx context.Context, originalID, reversalID, reversedBy, reason string, reversedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.byID[originalID]
	if !ok {
		return ErrTransactionNotFound
	}
	reversal, ok := m.byID[reversalID]
	if !ok {
		return ErrTransactionNotFound
	}
	original.Status = models.StatusReversed
	original.ReversalTransactionID = reversalID
	original.ReversedAt = &reversedAt
	original.ReversedBy = reversedBy
	original.ReversalReason = reason
	original.UpdatedAt = reversedAt
	reversal.OriginalTransactionID = originalID
	return nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string, page, size int, sortOrder string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*models.Transaction
	for _, tx := range m.byID {
		if strings.EqualFold(tx.FromAccountID, accountID) || strings.EqualFold(tx.ToAccountID, accountID) {
			matches = append(matches, cloneTx(tx))
		}
	}
	sortByCreatedAt(matches, sortOrder)
	return paginate(matches, page, size), nil
}

func (m *MemoryStore) Search(ctx context.Context, filter ListFilter) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*models.Transaction
	for _, tx := range m.byID {
		if filter.OwnerID != "" && !strings.EqualFold(tx.FromAccountID, filter.OwnerID) && !strings.EqualFold(tx.ToAccountID, filter.OwnerID) && tx.CreatedBy != filter.OwnerID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.FromDate != nil && tx.CreatedAt.Before(*filter.FromDate) {
			continue
		}
		if filter.ToDate != nil && tx.CreatedAt.After(*filter.ToDate) {
			continue
		}
		matches = append(matches, cloneTx(tx))
	}
	sortByCreatedAt(matches, filter.Sort)
	return paginate(matches, filter.Page, filter.Size), nil
}

func (m *MemoryStore) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []*models.Transaction
	for _, tx := range m.byID {
		if tx.Status != models.StatusProcessing {
			continue
		}
		if tx.ProcessingState != models.StateInitiated && tx.ProcessingState != models.StateDebitApplied {
			continue
		}
		if tx.UpdatedAt.Before(cutoff) {
			stale = append(stale, cloneTx(tx))
		}
	}
	return stale, nil
}

func (m *MemoryStore) SumCompleted(ctx context.Context, accountID string, txType models.TransactionType, from, to time.Time) (money.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := money.Zero
	for _, tx := range m.byID {
		if tx.Status != models.StatusCompleted || tx.Type != txType {
			continue
		}
		if !strings.EqualFold(tx.FromAccountID, accountID) && !strings.EqualFold(tx.ToAccountID, accountID) {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		sum = sum.Add(tx.Amount)
	}
	return sum, nil
}

func sortByCreatedAt(txs []*models.Transaction, order string) {
	desc := !strings.EqualFold(order, "asc")
	sort.Slice(txs, func(i, j int) bool {
		if desc {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}

func paginate(items []*models.Transaction, page, size int) *Page {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	start := page * size
	if start > len(items) {
		start = len(items)
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return &Page{Items: items[start:end], TotalItems: len(items), Page: page, Size: size}
}
