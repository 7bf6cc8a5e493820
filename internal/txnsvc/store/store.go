// Package store persists Transaction rows for the orchestrator, enforcing
// the (createdBy, type, idempotencyKey) uniqueness that backs Orchestrator
// idempotency, and backing the history/search read endpoints in §4.2.5.
package store

import (
	"context"
	"errors"
	"time"

	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/txnsvc/models"
)

// ErrTransactionNotFound indicates no row matches the requested id.
var ErrTransactionNotFound = errors.New("store: transaction not found")

// ErrIdempotencyConflict indicates InsertPending lost the race to insert a
// transaction sharing (createdBy, type, idempotencyKey); the caller should
// look up and return the winner via FindByIdempotencyKey.
var ErrIdempotencyConflict = errors.New("store: idempotency key already in use")

// ListFilter constrains Search results.
type ListFilter struct {
	OwnerID   string
	Type      models.TransactionType
	Status    models.TransactionStatus
	FromDate  *time.Time
	ToDate    *time.Time
	Page      int
	Size      int
	Sort      string
}

// Page wraps a slice of results with paging metadata.
type Page struct {
	Items      []*models.Transaction
	TotalItems int
	Page       int
	Size       int
}

// TransactionStore is the persistence boundary the Orchestrator drives.
type TransactionStore interface {
	// InsertPending inserts a new transaction in PENDING/INITIATED state.
	// Returns ErrIdempotencyConflict if a row already exists for the same
	// (createdBy, type, idempotencyKey) and the key is non-empty.
	InsertPending(ctx context.Context, tx *models.Transaction) error

	// Get reads a transaction by id.
	Get(ctx context.Context, id string) (*models.Transaction, error)

	// FindByIdempotencyKey looks up the existing row for a (createdBy, type,
	// idempotencyKey) triple. Returns (nil, nil) when absent.
	FindByIdempotencyKey(ctx context.Context, createdBy string, txType models.TransactionType, key string) (*models.Transaction, error)

	// UpdateProcessingState persists a state-machine transition before the
	// next outbound call, per §5's crash-recovery requirement.
	UpdateProcessingState(ctx context.Context, id string, state models.ProcessingState) error

	// Complete marks a transaction COMPLETED/terminal with the given
	// processing state, timestamps, and version bump.
	Complete(ctx context.Context, id string, status models.TransactionStatus, state models.ProcessingState, failureReason string) error

	// AttachReversal links an original transaction to its reversal and
	// marks the original REVERSED in one atomic update. The reversal row was
	// inserted earlier by InsertPending; this is a separate write.
	AttachReversal(ctx context.Context, originalID, reversalID, reversedBy, reason string, reversedAt time.Time) error

	// ListByAccount returns a page of transactions touching accountID.
	ListByAccount(ctx context.Context, accountID string, page, size int, sort string) (*Page, error)

	// Search returns a page of transactions matching filter.
	Search(ctx context.Context, filter ListFilter) (*Page, error)

	// StaleProcessing returns transactions whose processing_state is
	// INITIATED or DEBIT_APPLIED and whose updated_at is older than cutoff,
	// for the background sweeper (§5).
	StaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error)

	// SumCompleted sums the amount of COMPLETED transactions of txType
	// touching accountID with CreatedAt in [from, to), backing the Limit
	// Evaluator's daily/monthly rolling-window checks.
	SumCompleted(ctx context.Context, accountID string, txType models.TransactionType, from, to time.Time) (money.Amount, error)
}
