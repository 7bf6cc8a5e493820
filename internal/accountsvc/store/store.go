// Package store persists Account and BalanceOperation rows. Repository is
// the narrow interface the balance engine depends on; both the Postgres
// implementation and the in-memory fake used by unit tests satisfy it.
package store

import (
	"context"
	"errors"

	"ledger-platform/internal/accountsvc/models"
	"ledger-platform/internal/platform/money"
)

// ErrAccountNotFound indicates the account row does not exist (or is
// closed, for mutation purposes).
var ErrAccountNotFound = errors.New("store: account not found")

// Repository is the persistence boundary the Balance Engine drives. Every
// mutating method must be called from inside a RunInTx callback.
type Repository interface {
	// RunInTx runs fn under one database transaction; the context passed to
	// fn carries the transaction so nested calls to the other methods use
	// it transparently.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// CreateAccount inserts a new account and returns its generated ID.
	CreateAccount(ctx context.Context, ownerID string, accountType models.AccountType, initial money.Amount) (*models.Account, error)

	// GetAccount performs a plain (non-locking) read.
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)

	// LockAccount performs a pessimistic row lock (SELECT ... FOR UPDATE)
	// and must be called from inside RunInTx. Returns ErrAccountNotFound if
	// the account is missing or closed.
	LockAccount(ctx context.Context, accountID string) (*models.Account, error)

	// UpdateAccountBalance persists the new balance and bumps the version.
	UpdateAccountBalance(ctx context.Context, accountID string, newBalance money.Amount, newVersion int64) error

	// FindOperation looks up a BalanceOperation by its composite key. It
	// returns (nil, nil) when absent.
	FindOperation(ctx context.Context, operationID, accountID string) (*models.BalanceOperation, error)

	// InsertOperation inserts a BalanceOperation row if one does not
	// already exist for the same composite key. inserted is false when a
	// concurrent writer won the race — the caller must then treat the
	// request as a replay.
	InsertOperation(ctx context.Context, op *models.BalanceOperation) (inserted bool, err error)

	// ListAccounts is used by administrative/read endpoints.
	ListAccounts(ctx context.Context, ownerID string) ([]*models.Account, error)

	// CloseAccount performs the logical delete described in §3.
	CloseAccount(ctx context.Context, accountID string) error
}
