package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-platform/internal/accountsvc/models"
	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/platform/money"
)

// PostgresRepository implements Repository over pgx, generalizing the
// teacher's internal/infrastructure/database/postgres.PostgresRepository
// from an int-cents, mutex-guarded single table to the composite-key
// BalanceOperation ledger with row-level locking.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository dials Postgres and returns a ready repository.
func NewPostgresRepository(ctx context.Context, cfg config.DatabaseConfig) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("store: failed to parse connection string: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() { r.pool.Close() }

// Pool exposes the underlying pool for readiness probes.
func (r *PostgresRepository) Pool() *pgxpool.Pool { return r.pool }

type txKey struct{}

// pgxQuerier is the minimal surface of *pgxpool.Pool / pgx.Tx this package
// uses; both satisfy it with identical method signatures.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (r *PostgresRepository) q(ctx context.Context) pgxQuerier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateAccount(ctx context.Context, ownerID string, accountType models.AccountType, initial money.Amount) (*models.Account, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	const q = `
		INSERT INTO accounts (id, owner_id, account_type, balance, version, closed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, false, $5, $5)
	`
	if _, err := r.pool.Exec(ctx, q, id, ownerID, string(accountType), initial, now); err != nil {
		return nil, fmt.Errorf("store: failed to create account: %w", err)
	}

	return &models.Account{
		ID:          id,
		OwnerID:     ownerID,
		AccountType: accountType,
		Balance:     initial,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	var accountType string
	if err := row.Scan(&a.ID, &a.OwnerID, &accountType, &a.Balance, &a.Version, &a.Closed, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("store: failed to scan account: %w", err)
	}
	a.AccountType = models.AccountType(accountType)
	return &a, nil
}

func (r *PostgresRepository) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	const q = `SELECT id, owner_id, account_type, balance, version, closed, created_at, updated_at FROM accounts WHERE id = $1`
	row := r.pool.QueryRow(ctx, q, accountID)
	return scanAccount(row)
}

func (r *PostgresRepository) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return nil, fmt.Errorf("store: LockAccount called outside RunInTx")
	}
	const q = `SELECT id, owner_id, account_type, balance, version, closed, created_at, updated_at FROM accounts WHERE id = $1 FOR UPDATE`
	row := tx.QueryRow(ctx, q, accountID)
	account, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	if account.Closed {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (r *PostgresRepository) UpdateAccountBalance(ctx context.Context, accountID string, newBalance money.Amount, newVersion int64) error {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return fmt.Errorf("store: UpdateAccountBalance called outside RunInTx")
	}
	const q = `UPDATE accounts SET balance = $1, version = $2, updated_at = $3 WHERE id = $4`
	_, err := tx.Exec(ctx, q, newBalance, newVersion, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("store: failed to update account balance: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindOperation(ctx context.Context, operationID, accountID string) (*models.BalanceOperation, error) {
	q := r.q(ctx)
	const query = `
		SELECT operation_id, account_id, transaction_id, delta, reason, allow_negative, applied, resulting_balance, status, created_at
		FROM account_balance_operations
		WHERE operation_id = $1 AND account_id = $2
	`
	row := q.QueryRow(ctx, query, operationID, accountID)
	return scanOperation(row)
}

func scanOperation(row pgx.Row) (*models.BalanceOperation, error) {
	var op models.BalanceOperation
	var status string
	if err := row.Scan(&op.OperationID, &op.AccountID, &op.TransactionID, &op.Delta, &op.Reason, &op.AllowNegative, &op.Applied, &op.ResultingBalance, &status, &op.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: failed to scan operation: %w", err)
	}
	op.Status = models.OperationStatus(status)
	return &op, nil
}

func (r *PostgresRepository) InsertOperation(ctx context.Context, op *models.BalanceOperation) (bool, error) {
	q := r.q(ctx)
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO account_balance_operations
			(operation_id, account_id, transaction_id, delta, reason, allow_negative, applied, resulting_balance, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (operation_id, account_id) DO NOTHING
	`
	tag, err := q.Exec(ctx, query, op.OperationID, op.AccountID, op.TransactionID, op.Delta, op.Reason, op.AllowNegative, op.Applied, op.ResultingBalance, string(op.Status), op.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("store: failed to insert operation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) ListAccounts(ctx context.Context, ownerID string) ([]*models.Account, error) {
	const q = `SELECT id, owner_id, account_type, balance, version, closed, created_at, updated_at FROM accounts WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CloseAccount(ctx context.Context, accountID string) error {
	const q = `UPDATE accounts SET closed = true, updated_at = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("store: failed to close account: %w", err)
	}
	return nil
}
