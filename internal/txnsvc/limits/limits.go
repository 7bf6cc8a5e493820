// Package limits implements the Limit Evaluator: given an account, its type,
// a transaction type and an amount, decide whether the operation is within
// per-transaction and rolling-window caps. Evaluation is advisory — it never
// locks accounts; the Balance Engine remains the authority on overdraft.
package limits

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/txnsvc/models"
)

// Decision is the result of a limit check.
type Decision struct {
	Allowed bool
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// WindowSums supplies the sums the evaluator needs for daily/monthly caps;
// implemented by the Transaction Store's SumCompleted over a bounded date range.
type WindowSums interface {
	// SumCompleted returns the sum of amounts for COMPLETED transactions of
	// txType touching accountID with CreatedAt in [from, to).
	SumCompleted(ctx context.Context, accountID string, txType models.TransactionType, from, to time.Time) (money.Amount, error)
}

// Evaluator holds the loaded per-account-type profiles (hot-reloadable at
// process boundaries, per §3) and evaluates the profile-wins, basic-ceiling
// rule resolved in the design notes.
type Evaluator struct {
	mu       sync.RWMutex
	profiles map[string]models.LimitProfile
	sums     WindowSums
	now      func() time.Time
}

// New builds an Evaluator with no loaded profiles; every account type falls
// back to the basic 10,000 ceiling until LoadProfiles is called.
func New(sums WindowSums) *Evaluator {
	return &Evaluator{profiles: make(map[string]models.LimitProfile), sums: sums, now: time.Now}
}

// LoadProfiles reads the limit-profile JSON file at path and atomically
// swaps in the new profile set. An empty path is a no-op (basic ceiling only).
func (e *Evaluator) LoadProfiles(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("limits: failed to read profile file: %w", err)
	}
	var list []models.LimitProfile
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("limits: failed to parse profile file: %w", err)
	}

	byType := make(map[string]models.LimitProfile, len(list))
	for _, p := range list {
		byType[p.AccountType] = p
	}

	e.mu.Lock()
	e.profiles = byType
	e.mu.Unlock()
	return nil
}

func (e *Evaluator) profileFor(accountType string) (models.LimitProfile, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.profiles[accountType]
	return p, ok
}

// Check evaluates the per-transaction and rolling-window caps for one
// attempted operation. It never returns an error for a denial — a denial is
// a normal Decision; errors are reserved for the window-sum lookup failing.
func (e *Evaluator) Check(ctx context.Context, accountID, accountType string, txType models.TransactionType, amount money.Amount) (Decision, error) {
	profile, hasProfile := e.profileFor(accountType)

	if !hasProfile {
		if amount.GreaterThan(models.BasicCeiling) {
			return deny(fmt.Sprintf("amount exceeds basic limit of %s", models.BasicCeiling.String())), nil
		}
		return allow, nil
	}

	// Profile-wins: the profile's own per-transaction cap governs, but it
	// may never raise the effective ceiling above the basic cap.
	perTxCap := profile.PerTransactionLimit
	if perTxCap.GreaterThan(models.BasicCeiling) {
		perTxCap = models.BasicCeiling
	}
	if amount.GreaterThan(perTxCap) {
		return deny(fmt.Sprintf("amount exceeds per-transaction limit of %s", perTxCap.String())), nil
	}

	now := e.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !profile.DailyLimit.IsZero() {
		daySum, err := e.sums.SumCompleted(ctx, accountID, txType, dayStart, now)
		if err != nil {
			return Decision{}, fmt.Errorf("limits: failed to compute daily sum: %w", err)
		}
		if daySum.Add(amount).GreaterThan(profile.DailyLimit) {
			return deny(fmt.Sprintf("amount would exceed daily limit of %s", profile.DailyLimit.String())), nil
		}
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if !profile.MonthlyLimit.IsZero() {
		monthSum, err := e.sums.SumCompleted(ctx, accountID, txType, monthStart, now)
		if err != nil {
			return Decision{}, fmt.Errorf("limits: failed to compute monthly sum: %w", err)
		}
		if monthSum.Add(amount).GreaterThan(profile.MonthlyLimit) {
			return deny(fmt.Sprintf("amount would exceed monthly limit of %s", profile.MonthlyLimit.String())), nil
		}
	}

	return allow, nil
}
