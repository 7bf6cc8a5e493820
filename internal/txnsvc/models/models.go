// Package models defines the Transaction Service's persisted entities.
package models

import (
	"time"

	"ledger-platform/internal/platform/money"
)

// TransactionType is one of the four operations the orchestrator drives.
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypeTransfer   TransactionType = "TRANSFER"
	TypeReversal   TransactionType = "REVERSAL"
)

// TransactionStatus is the externally visible status.
type TransactionStatus string

const (
	StatusPending                  TransactionStatus = "PENDING"
	StatusProcessing                TransactionStatus = "PROCESSING"
	StatusCompleted                 TransactionStatus = "COMPLETED"
	StatusFailed                    TransactionStatus = "FAILED"
	StatusFailedRequiresManualAction TransactionStatus = "FAILED_REQUIRES_MANUAL_ACTION"
	StatusReversed                   TransactionStatus = "REVERSED"
)

// ProcessingState is the fine-grained orchestrator progress tracker the
// sweeper inspects to decide whether a stuck transaction needs recovery.
type ProcessingState string

const (
	StateInitiated            ProcessingState = "INITIATED"
	StateDebitApplied         ProcessingState = "DEBIT_APPLIED"
	StateCreditApplied        ProcessingState = "CREDIT_APPLIED"
	StateCompleted            ProcessingState = "COMPLETED"
	StateCompensated          ProcessingState = "COMPENSATED"
	StateManualActionRequired ProcessingState = "MANUAL_ACTION_REQUIRED"
)

// ExternalAccount is the reserved sentinel for deposit/withdrawal legs.
// The orchestrator matches legs against it case-insensitively; deposits and
// withdrawals store this canonical form, while transfers store account ids
// as the request gave them.
const ExternalAccount = "EXTERNAL"

// Transaction is the persisted record of one orchestrated operation.
type Transaction struct {
	ID              string
	Type            TransactionType
	Status          TransactionStatus
	ProcessingState ProcessingState

	FromAccountID string
	ToAccountID   string
	Amount        money.Amount
	Currency      string

	Description string
	Reference   string

	IdempotencyKey string
	CreatedBy      string

	FailureReason string

	OriginalTransactionID string
	ReversalTransactionID string
	ReversedAt            *time.Time
	ReversedBy            string
	ReversalReason        string

	Version int64

	CreatedAt   time.Time
	ProcessedAt *time.Time
	UpdatedAt   time.Time
}

// IsReversible reports whether this transaction's type may itself be the
// target of a reversal request — a REVERSAL can never be reversed (§4.2.4).
func (t *Transaction) IsReversible() bool {
	return t.Type != TypeReversal
}

// IsTerminal reports whether Status is one of the four terminal statuses.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusFailedRequiresManualAction, StatusReversed:
		return true
	default:
		return false
	}
}

// LimitProfile describes the per-transaction, daily and monthly ceilings for
// one account type, loaded from the JSON file at config.LimitProfilePath.
type LimitProfile struct {
	AccountType         string       `json:"accountType"`
	PerTransactionLimit money.Amount `json:"perTransactionLimit"`
	DailyLimit          money.Amount `json:"dailyLimit"`
	MonthlyLimit        money.Amount `json:"monthlyLimit"`
}

// BasicCeiling is the hard fallback limit from §4.5: "a fallback 'basic'
// rule always denies amounts > 10,000 if no profile is loaded." Under the
// profile-wins resolution (design notes), a loaded profile's own caps apply
// in full but may never raise the effective per-transaction limit above
// this absolute ceiling.
var BasicCeiling = money.FromCents(10_000_00)
