package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/txnsvc/models"
)

// PostgresStore implements TransactionStore over pgx, grounded on the
// teacher's internal/infrastructure/database/postgres.PostgresRepository
// but generalized from a single accounts table to the Transaction ledger.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore dials Postgres and returns a ready store.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
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
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// Pool exposes the underlying pool for readiness probes.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

const txColumns = `
	id, type, status, processing_state, from_account_id, to_account_id, amount, currency,
	description, reference, idempotency_key, created_by, failure_reason,
	original_transaction_id, reversal_transaction_id, reversed_at, reversed_by, reversal_reason,
	version, created_at, processed_at, updated_at
`

func scanTx(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var txType, status, state string
	if err := row.Scan(
		&t.ID, &txType, &status, &state, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Currency,
		&t.Description, &t.Reference, &t.IdempotencyKey, &t.CreatedBy, &t.FailureReason,
		&t.OriginalTransactionID, &t.ReversalTransactionID, &t.ReversedAt, &t.ReversedBy, &t.ReversalReason,
		&t.Version, &t.CreatedAt, &t.ProcessedAt, &t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("store: failed to scan transaction: %w", err)
	}
	t.Type = models.TransactionType(txType)
	t.Status = models.TransactionStatus(status)
	t.ProcessingState = models.ProcessingState(state)
	return &t, nil
}

func (s *PostgresStore) InsertPending(ctx context.Context, tx *models.Transaction) error {
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	var idempotencyKey interface{}
	if tx.IdempotencyKey != "" {
		idempotencyKey = tx.IdempotencyKey
	}

	const q = `
		INSERT INTO transactions (
			id, type, status, processing_state, from_account_id, to_account_id, amount, currency,
			description, reference, idempotency_key, created_by, failure_reason,
			original_transaction_id, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '', $13, 0, $14, $14)
		ON CONFLICT (created_by, type, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, q,
		tx.ID, string(tx.Type), string(tx.Status), string(tx.ProcessingState), tx.FromAccountID, tx.ToAccountID,
		tx.Amount, tx.Currency, tx.Description, tx.Reference, idempotencyKey, tx.CreatedBy,
		tx.OriginalTransactionID, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: failed to insert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Transaction, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = $1", id)
	return scanTx(row)
}

func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, createdBy string, txType models.TransactionType, key string) (*models.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE created_by = $1 AND type = $2 AND idempotency_key = $3",
		createdBy, string(txType), key)
	tx, err := scanTx(row)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, nil
	}
	return tx, err
}

func (s *PostgresStore) UpdateProcessingState(ctx context.Context, id string, state models.ProcessingState) error {
	const q = `UPDATE transactions SET processing_state = $1, status = $2, updated_at = $3 WHERE id = $4`
	_, err := s.pool.Exec(ctx, q, string(state), string(models.StatusProcessing), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: failed to update processing state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, status models.TransactionStatus, state models.ProcessingState, failureReason string) error {
	now := time.Now().UTC()
	const q = `
		UPDATE transactions
		SET status = $1, processing_state = $2, failure_reason = $3, processed_at = $4, version = version + 1, updated_at = $4
		WHERE id = $5
	`
	_, err := s.pool.Exec(ctx, q, string(status), string(state), failureReason, now, id)
	if err != nil {
		return fmt.Errorf("store: failed to complete transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) AttachReversal(ctx context.Context, originalID, reversalID, reversedBy, reason string, reversedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateOriginal = `
		UPDATE transactions
		SET status = $1, reversal_transaction_id = $2, reversed_at = $3, reversed_by = $4, reversal_reason = $5, updated_at = $3
		WHERE id = $6
	`
	if _, err := tx.Exec(ctx, updateOriginal, string(models.StatusReversed), reversalID, reversedAt, reversedBy, reason, originalID); err != nil {
		return fmt.Errorf("store: failed to mark original reversed: %w", err)
	}

	const updateReversal = `UPDATE transactions SET original_transaction_id = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.Exec(ctx, updateReversal, originalID, reversedAt, reversalID); err != nil {
		return fmt.Errorf("store: failed to link reversal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: failed to commit reversal linkage: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, page, size int, sortOrder string) (*Page, error) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	order := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		order = "ASC"
	}

	q := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at %s
		LIMIT $2 OFFSET $3
	`, txColumns, order)

	rows, err := s.pool.Query(ctx, q, accountID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list transactions: %w", err)
	}
	defer rows.Close()

	items, err := scanAll(rows)
	if err != nil {
		return nil, err
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM transactions WHERE from_account_id = $1 OR to_account_id = $1", accountID).Scan(&total); err != nil {
		return nil, fmt.Errorf("store: failed to count transactions: %w", err)
	}

	return &Page{Items: items, TotalItems: total, Page: page, Size: size}, nil
}

func (s *PostgresStore) Search(ctx context.Context, filter ListFilter) (*Page, error) {
	if filter.Size <= 0 {
		filter.Size = 20
	}
	if filter.Page < 0 {
		filter.Page = 0
	}
	order := "DESC"
	if strings.EqualFold(filter.Sort, "asc") {
		order = "ASC"
	}

	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.OwnerID != "" {
		conds = append(conds, fmt.Sprintf("(from_account_id = %s OR to_account_id = %s OR created_by = %s)", arg(filter.OwnerID), arg(filter.OwnerID), arg(filter.OwnerID)))
	}
	if filter.Type != "" {
		conds = append(conds, fmt.Sprintf("type = %s", arg(string(filter.Type))))
	}
	if filter.Status != "" {
		conds = append(conds, fmt.Sprintf("status = %s", arg(string(filter.Status))))
	}
	if filter.FromDate != nil {
		conds = append(conds, fmt.Sprintf("created_at >= %s", arg(*filter.FromDate)))
	}
	if filter.ToDate != nil {
		conds = append(conds, fmt.Sprintf("created_at <= %s", arg(*filter.ToDate)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	limitArg := arg(filter.Size)
	offsetArg := arg(filter.Page * filter.Size)
	q := fmt.Sprintf("SELECT %s FROM transactions %s ORDER BY created_at %s LIMIT %s OFFSET %s", txColumns, where, order, limitArg, offsetArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to search transactions: %w", err)
	}
	defer rows.Close()

	items, err := scanAll(rows)
	if err != nil {
		return nil, err
	}

	countArgs := args[:len(args)-2]
	countQ := fmt.Sprintf("SELECT count(*) FROM transactions %s", where)
	var total int
	if err := s.pool.QueryRow(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("store: failed to count search results: %w", err)
	}

	return &Page{Items: items, TotalItems: total, Page: filter.Page, Size: filter.Size}, nil
}

func (s *PostgresStore) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error) {
	const q = `
		SELECT ` + txColumns + ` FROM transactions
		WHERE status = $1 AND processing_state IN ($2, $3) AND updated_at < $4
	`
	rows, err := s.pool.Query(ctx, q, string(models.StatusProcessing), string(models.StateInitiated), string(models.StateDebitApplied), cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query stale transactions: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func (s *PostgresStore) SumCompleted(ctx context.Context, accountID string, txType models.TransactionType, from, to time.Time) (money.Amount, error) {
	const q = `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE status = $1 AND type = $2 AND (from_account_id = $3 OR to_account_id = $3)
		AND created_at >= $4 AND created_at < $5
	`
	var sum money.Amount
	if err := s.pool.QueryRow(ctx, q, string(models.StatusCompleted), string(txType), accountID, from, to).Scan(&sum); err != nil {
		return money.Zero, fmt.Errorf("store: failed to sum completed transactions: %w", err)
	}
	return sum, nil
}

func scanAll(rows pgx.Rows) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
