// Package engine implements the Balance Engine: the single path through
// which an account balance is ever mutated. Every call is idempotent on
// (OperationID, AccountID) and every mutation happens under a pessimistic
// row lock, generalizing the teacher's AtomicTransfer/AtomicWithdraw
// critical sections to an explicit request/result protocol.
package engine

import (
	"context"
	"fmt"
	"time"

	"ledger-platform/internal/accountsvc/models"
	"ledger-platform/internal/accountsvc/store"
	"ledger-platform/internal/eventing"
	"ledger-platform/internal/platform/apierr"
	"ledger-platform/internal/platform/logging"
	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/platform/observer"
)

// Request describes one balance mutation attempt.
type Request struct {
	OperationID   string
	AccountID     string
	TransactionID string
	Delta         money.Amount
	Reason        string
	AllowNegative bool
}

// Outcome classifies how a Request was resolved.
type Outcome string

const (
	OutcomeApplied  Outcome = "APPLIED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeReplayed Outcome = "REPLAYED"
)

// Result is returned from Apply. Version is the account's version as of
// this result: unchanged for a rejection, bumped for an application, and
// freshly read (not the stored operation's value) for a replay.
type Result struct {
	Outcome          Outcome
	ResultingBalance money.Amount
	Version          int64
	Operation        *models.BalanceOperation
}

// Engine is the Balance Engine. Publisher is optional; pass eventing.NoOpPublisher{}
// to disable balance-operation event emission. Obs receives a lifecycle
// callback for every request resolved inside the transaction, per the
// explicit-interface-parameter pattern in the design notes; a replay answered
// by the initial lookup is not reported. Pass observer.NoOp{} where metrics
// aren't wired.
type Engine struct {
	repo      store.Repository
	publisher eventing.Publisher
	obs       observer.Observer
}

// New builds an Engine over the given repository, event publisher and observer.
func New(repo store.Repository, publisher eventing.Publisher, obs observer.Observer) *Engine {
	if publisher == nil {
		publisher = eventing.NoOpPublisher{}
	}
	if obs == nil {
		obs = observer.NoOp{}
	}
	return &Engine{repo: repo, publisher: publisher, obs: obs}
}

// Apply mutates the account's balance by req.Delta, or replays the
// previously recorded outcome if (OperationID, AccountID) was already seen.
//
// The happy path: a fast, non-transactional replay check first (most calls
// under load are genuinely new, but retries after a dropped response are
// common enough to check before paying for a transaction); then inside a
// single transaction: lock the account row, compute the new balance, reject
// it without mutating anything if it would go negative and the request
// does not allow that, otherwise persist the new balance and the operation
// record together. If a concurrent caller already inserted the same
// operation by the time this one tries to (two racing retries of the same
// request), the insert reports its loss and the result is replayed from
// whichever operation actually landed.
func (e *Engine) Apply(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if existing, err := e.repo.FindOperation(ctx, req.OperationID, req.AccountID); err != nil {
		return nil, fmt.Errorf("engine: find operation: %w", err)
	} else if existing != nil {
		account, err := e.repo.GetAccount(ctx, req.AccountID)
		if err != nil {
			return nil, fmt.Errorf("engine: get account for replay: %w", err)
		}
		return replayResult(existing, account.Version), nil
	}

	var result *Result
	err := e.repo.RunInTx(ctx, func(ctx context.Context) error {
		account, err := e.repo.LockAccount(ctx, req.AccountID)
		if err != nil {
			if err == store.ErrAccountNotFound {
				return apierr.NewNotFound("account")
			}
			return fmt.Errorf("engine: lock account: %w", err)
		}

		newBalance := account.Balance.Add(req.Delta)

		op := &models.BalanceOperation{
			OperationID:   req.OperationID,
			AccountID:     req.AccountID,
			TransactionID: req.TransactionID,
			Delta:         req.Delta,
			Reason:        req.Reason,
			AllowNegative: req.AllowNegative,
		}

		if newBalance.Negative() && !req.AllowNegative {
			op.Applied = false
			op.ResultingBalance = account.Balance
			op.Status = models.StatusRejected

			inserted, err := e.repo.InsertOperation(ctx, op)
			if err != nil {
				return fmt.Errorf("engine: insert rejected operation: %w", err)
			}
			if !inserted {
				replayed, current, err := e.findOperationAndAccount(ctx, req)
				if err != nil {
					return err
				}
				result = replayResult(replayed, current.Version)
				return nil
			}

			result = &Result{Outcome: OutcomeRejected, ResultingBalance: account.Balance, Version: account.Version, Operation: op}
			return nil
		}

		if err := e.repo.UpdateAccountBalance(ctx, req.AccountID, newBalance, account.Version+1); err != nil {
			return fmt.Errorf("engine: update balance: %w", err)
		}

		op.Applied = true
		op.ResultingBalance = newBalance
		op.Status = models.StatusApplied

		inserted, err := e.repo.InsertOperation(ctx, op)
		if err != nil {
			return fmt.Errorf("engine: insert applied operation: %w", err)
		}
		if !inserted {
			// A concurrent retry of the exact same operation committed first,
			// so its delta is already in the locked balance. The balance
			// update above is written back to the locked values, and the
			// caller is told it was replayed from whichever operation record
			// won the insert race.
			if err := e.repo.UpdateAccountBalance(ctx, req.AccountID, account.Balance, account.Version); err != nil {
				return fmt.Errorf("engine: revert balance after lost insert race: %w", err)
			}
			replayed, current, err := e.findOperationAndAccount(ctx, req)
			if err != nil {
				return err
			}
			result = replayResult(replayed, current.Version)
			return nil
		}

		result = &Result{Outcome: OutcomeApplied, ResultingBalance: newBalance, Version: account.Version + 1, Operation: op}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(req.AccountID, result)
	e.obs.BalanceOperationApplied(req.AccountID, req.OperationID, string(result.Operation.Status), req.Delta.String(), time.Since(start))
	return result, nil
}

// findOperationAndAccount re-reads the operation that won an insert race
// together with the account's current version, used whenever a replay
// result is built mid-transaction so the version reported is the live one.
func (e *Engine) findOperationAndAccount(ctx context.Context, req Request) (*models.BalanceOperation, *models.Account, error) {
	replayed, err := e.repo.FindOperation(ctx, req.OperationID, req.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: find operation after race: %w", err)
	}
	current, err := e.repo.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: get account after race: %w", err)
	}
	return replayed, current, nil
}

// replayResult reports status=REPLAYED unconditionally, regardless of
// whether the original call applied or rejected — only a freshly resolved
// request reports APPLIED or REJECTED.
func replayResult(op *models.BalanceOperation, version int64) *Result {
	return &Result{Outcome: OutcomeReplayed, ResultingBalance: op.ResultingBalance, Version: version, Operation: op}
}

func (e *Engine) emit(accountID string, result *Result) {
	if result.Outcome == OutcomeReplayed {
		return
	}
	event := eventing.BalanceOperationEvent{
		OperationID:      result.Operation.OperationID,
		AccountID:        accountID,
		TransactionID:    result.Operation.TransactionID,
		Delta:            result.Operation.Delta.String(),
		ResultingBalance: result.ResultingBalance.String(),
		Status:           string(result.Operation.Status),
		Timestamp:        time.Now().UTC(),
	}
	if err := e.publisher.PublishBalanceOperation(event); err != nil {
		logging.Warn("failed to publish balance operation event", map[string]interface{}{
			"account_id":   accountID,
			"operation_id": result.Operation.OperationID,
			"error":        err.Error(),
		})
	}
}
