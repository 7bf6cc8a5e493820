// Package models defines the Account Service's persisted entities.
package models

import (
	"time"

	"ledger-platform/internal/platform/money"
)

// AccountType tags an account for limit-profile lookup; it carries no
// behavior of its own beyond being a discriminator consulted by the limit
// evaluator and the overdraft policy.
type AccountType string

const (
	Checking AccountType = "CHECKING"
	Savings  AccountType = "SAVINGS"
	Credit   AccountType = "CREDIT"
	Premium  AccountType = "PREMIUM"
)

// Account is the persisted account record. Owner is immutable after
// creation; Version increments on every balance mutation.
type Account struct {
	ID           string
	OwnerID      string
	AccountType  AccountType
	Balance      money.Amount
	CreditLimit  *money.Amount
	InterestRate *float64
	Version      int64
	Closed       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OperationStatus is the outcome recorded for a BalanceOperation.
type OperationStatus string

const (
	StatusApplied  OperationStatus = "APPLIED"
	StatusRejected OperationStatus = "REJECTED"
	StatusReplayed OperationStatus = "REPLAYED"
)

// BalanceOperation is the idempotent unit of balance change, keyed by
// (OperationID, AccountID).
type BalanceOperation struct {
	OperationID      string
	AccountID        string
	TransactionID    string
	Delta            money.Amount
	Reason           string
	AllowNegative    bool
	Applied          bool
	ResultingBalance money.Amount
	Status           OperationStatus
	CreatedAt        time.Time
}
