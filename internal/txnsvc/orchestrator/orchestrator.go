// Package orchestrator implements the Transaction Orchestrator: the heart
// of the transactional core. It drives a transaction from INITIATED to a
// terminal state while preserving ledger integrity under partial failures,
// persisting every state transition before the next outbound call so a
// crash leaves a replayable trail for the sweeper to recover.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledger-platform/internal/eventing"
	"ledger-platform/internal/platform/apierr"
	"ledger-platform/internal/platform/auth"
	"ledger-platform/internal/platform/logging"
	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/platform/observer"
	"ledger-platform/internal/txnsvc/cache"
	"ledger-platform/internal/txnsvc/client"
	"ledger-platform/internal/txnsvc/limits"
	"ledger-platform/internal/txnsvc/models"
	"ledger-platform/internal/txnsvc/store"
)

// ReversalWindow is the 30-day window a completed transaction remains
// reversible for.
const ReversalWindow = 30 * 24 * time.Hour

// Orchestrator drives transfer/deposit/withdrawal/reverse operations.
type Orchestrator struct {
	store     store.TransactionStore
	account   *client.Client
	limits    *limits.Evaluator
	publisher eventing.Publisher
	cache     *cache.Cache
	obs       observer.Observer
	window    time.Duration
	now       func() time.Time
}

// New builds an Orchestrator. cache may be nil to disable read-side
// invalidation (e.g. in tests); publisher and obs fall back to no-ops.
func New(txStore store.TransactionStore, account *client.Client, evaluator *limits.Evaluator, publisher eventing.Publisher, histCache *cache.Cache, obs observer.Observer) *Orchestrator {
	if obs == nil {
		obs = observer.NoOp{}
	}
	if publisher == nil {
		publisher = eventing.NoOpPublisher{}
	}
	return &Orchestrator{
		store:     txStore,
		account:   account,
		limits:    evaluator,
		publisher: publisher,
		cache:     histCache,
		obs:       obs,
		window:    ReversalWindow,
		now:       time.Now,
	}
}

// TransferRequest is the input to Transfer.
type TransferRequest struct {
	FromAccountID  string
	ToAccountID    string
	Amount         money.Amount
	Currency       string
	Description    string
	Reference      string
	Principal      auth.Principal
	IdempotencyKey string
}

// Transfer drives a two-leg debit/credit transaction between two internal
// accounts, compensating the debit if the credit leg cannot be applied.
func (o *Orchestrator) Transfer(ctx context.Context, req TransferRequest) (*models.Transaction, error) {
	if existing, err := o.lookupIdempotent(ctx, req.Principal.Name, models.TypeTransfer, req.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	fromAccount, err := o.account.GetAccount(ctx, req.FromAccountID)
	if err != nil {
		return nil, translateClientErr(err)
	}
	if !req.Principal.CanAccess(fromAccount.OwnerID) {
		return nil, apierr.NewForbidden("not authorized to move funds from this account")
	}

	if decision, err := o.limits.Check(ctx, req.FromAccountID, fromAccount.AccountType, models.TypeTransfer, req.Amount); err != nil {
		return nil, fmt.Errorf("orchestrator: limit check: %w", err)
	} else if !decision.Allowed {
		o.obs.LimitCheckDenied(req.FromAccountID, decision.Reason)
		return nil, apierr.NewBusinessRejection(decision.Reason)
	}

	balance, err := money.FromString(fromAccount.Balance)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: parse account balance: %w", err)
	}
	if balance.LessThan(req.Amount) {
		o.auditAbort(models.TypeTransfer, req.FromAccountID, req.ToAccountID, req.Amount, req.Currency, req.Principal.Name, apierr.ReasonInsufficientFunds)
		return nil, apierr.NewBusinessRejection(apierr.ReasonInsufficientFunds)
	}

	tx := &models.Transaction{
		ID:              uuid.NewString(),
		Type:            models.TypeTransfer,
		Status:          models.StatusPending,
		ProcessingState: models.StateInitiated,
		FromAccountID:   req.FromAccountID,
		ToAccountID:     req.ToAccountID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Description:     req.Description,
		Reference:       req.Reference,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedBy:       req.Principal.Name,
	}
	if err := o.store.InsertPending(ctx, tx); err != nil {
		if errors.Is(err, store.ErrIdempotencyConflict) {
			return o.store.FindByIdempotencyKey(ctx, req.Principal.Name, models.TypeTransfer, req.IdempotencyKey)
		}
		return nil, fmt.Errorf("orchestrator: insert pending: %w", err)
	}

	return o.runTwoLeg(ctx, tx)
}

// DepositRequest is the input to Deposit.
type DepositRequest struct {
	AccountID      string
	Amount         money.Amount
	Currency       string
	Description    string
	Reference      string
	Principal      auth.Principal
	IdempotencyKey string
}

// Deposit credits a single internal account from the EXTERNAL sentinel.
func (o *Orchestrator) Deposit(ctx context.Context, req DepositRequest) (*models.Transaction, error) {
	if existing, err := o.lookupIdempotent(ctx, req.Principal.Name, models.TypeDeposit, req.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	tx := &models.Transaction{
		ID:              uuid.NewString(),
		Type:            models.TypeDeposit,
		Status:          models.StatusPending,
		ProcessingState: models.StateInitiated,
		FromAccountID:   models.ExternalAccount,
		ToAccountID:     req.AccountID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Description:     req.Description,
		Reference:       req.Reference,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedBy:       req.Principal.Name,
	}
	if err := o.store.InsertPending(ctx, tx); err != nil {
		if errors.Is(err, store.ErrIdempotencyConflict) {
			return o.store.FindByIdempotencyKey(ctx, req.Principal.Name, models.TypeDeposit, req.IdempotencyKey)
		}
		return nil, fmt.Errorf("orchestrator: insert pending: %w", err)
	}

	return o.runSingleLeg(ctx, tx, req.AccountID, req.Amount, true, "deposit")
}

// WithdrawalRequest is the input to Withdrawal.
type WithdrawalRequest struct {
	AccountID      string
	Amount         money.Amount
	Currency       string
	Description    string
	Reference      string
	Principal      auth.Principal
	IdempotencyKey string
}

// Withdrawal debits a single internal account to the EXTERNAL sentinel.
func (o *Orchestrator) Withdrawal(ctx context.Context, req WithdrawalRequest) (*models.Transaction, error) {
	if existing, err := o.lookupIdempotent(ctx, req.Principal.Name, models.TypeWithdrawal, req.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	account, err := o.account.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, translateClientErr(err)
	}
	if !req.Principal.CanAccess(account.OwnerID) {
		return nil, apierr.NewForbidden("not authorized to withdraw from this account")
	}
	if decision, err := o.limits.Check(ctx, req.AccountID, account.AccountType, models.TypeWithdrawal, req.Amount); err != nil {
		return nil, fmt.Errorf("orchestrator: limit check: %w", err)
	} else if !decision.Allowed {
		o.obs.LimitCheckDenied(req.AccountID, decision.Reason)
		return nil, apierr.NewBusinessRejection(decision.Reason)
	}

	tx := &models.Transaction{
		ID:              uuid.NewString(),
		Type:            models.TypeWithdrawal,
		Status:          models.StatusPending,
		ProcessingState: models.StateInitiated,
		FromAccountID:   req.AccountID,
		ToAccountID:     models.ExternalAccount,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Description:     req.Description,
		Reference:       req.Reference,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedBy:       req.Principal.Name,
	}
	if err := o.store.InsertPending(ctx, tx); err != nil {
		if errors.Is(err, store.ErrIdempotencyConflict) {
			return o.store.FindByIdempotencyKey(ctx, req.Principal.Name, models.TypeWithdrawal, req.IdempotencyKey)
		}
		return nil, fmt.Errorf("orchestrator: insert pending: %w", err)
	}

	return o.runSingleLeg(ctx, tx, req.AccountID, req.Amount.Neg(), false, "withdrawal")
}

// SetReversalWindow overrides the default 30-day reversal window, letting
// cmd/transaction-service apply the operator-configured value.
func (o *Orchestrator) SetReversalWindow(window time.Duration) {
	o.window = window
}

// ReverseRequest is the input to Reverse.
type ReverseRequest struct {
	OriginalTransactionID string
	Reason                string
	Principal             auth.Principal
	IdempotencyKey        string
}

// Reverse checks the six preconditions in order and, on success, creates
// and runs a mirror-image transaction whose legs cancel the original's.
func (o *Orchestrator) Reverse(ctx context.Context, req ReverseRequest) (*models.Transaction, error) {
	if existing, err := o.lookupIdempotent(ctx, req.Principal.Name, models.TypeReversal, req.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	original, err := o.store.Get(ctx, req.OriginalTransactionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return nil, apierr.NewNotFound("transaction")
		}
		return nil, fmt.Errorf("orchestrator: get original transaction: %w", err)
	}

	if !req.Principal.IsPrivileged() && !req.Principal.Owns(original.CreatedBy) {
		return nil, apierr.NewForbidden("not authorized to reverse this transaction")
	}
	if original.Status != models.StatusCompleted && original.Status != models.StatusReversed {
		return nil, apierr.NewBusinessRejection(apierr.ReasonInvalidState)
	}
	if !original.IsReversible() {
		return nil, apierr.NewBusinessRejection(apierr.ReasonCannotReverseReversal)
	}
	if o.now().Sub(original.CreatedAt) > o.window {
		return nil, apierr.NewBusinessRejection(apierr.ReasonReversalWindowExpired)
	}
	if original.Status == models.StatusReversed || original.ReversalTransactionID != "" {
		return nil, apierr.NewBusinessRejection(apierr.ReasonAlreadyReversed)
	}

	reversal := &models.Transaction{
		ID:                    uuid.NewString(),
		Type:                  models.TypeReversal,
		Status:                models.StatusPending,
		ProcessingState:       models.StateInitiated,
		FromAccountID:         original.ToAccountID,
		ToAccountID:           original.FromAccountID,
		Amount:                original.Amount,
		Currency:              original.Currency,
		Description:           "reversal of " + original.ID,
		Reference:             original.Reference,
		CreatedBy:             req.Principal.Name,
		OriginalTransactionID: original.ID,
		ReversalReason:        req.Reason,
		IdempotencyKey:        req.IdempotencyKey,
	}
	if err := o.store.InsertPending(ctx, reversal); err != nil {
		if errors.Is(err, store.ErrIdempotencyConflict) {
			return o.store.FindByIdempotencyKey(ctx, req.Principal.Name, models.TypeReversal, req.IdempotencyKey)
		}
		return nil, fmt.Errorf("orchestrator: insert reversal: %w", err)
	}

	completed, err := o.runTwoLeg(ctx, reversal)
	if err != nil {
		return nil, err
	}

	if completed.Status == models.StatusCompleted {
		reversedAt := o.now()
		if err := o.store.AttachReversal(ctx, original.ID, reversal.ID, req.Principal.Name, req.Reason, reversedAt); err != nil {
			logging.Error("failed to attach reversal linkage", err, map[string]interface{}{"original_id": original.ID, "reversal_id": reversal.ID})
		} else {
			o.invalidateCache(ctx)
			o.publish(eventing.TopicTransactionReversed, original, reversedAt)
		}
	}
	return completed, nil
}

func (o *Orchestrator) lookupIdempotent(ctx context.Context, createdBy string, txType models.TransactionType, key string) (*models.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	existing, err := o.store.FindByIdempotencyKey(ctx, createdBy, txType, key)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: idempotency lookup: %w", err)
	}
	return existing, nil
}

// runTwoLeg debits FromAccountID then credits ToAccountID, compensating the
// debit if the credit leg cannot be applied. Balance-operation ids are
// composed as "<transactionId>:<leg>" — the transaction's own id already
// disambiguates a reversal's legs from the legs of the transaction it
// reverses, so no extra namespacing prefix is needed.
func (o *Orchestrator) runTwoLeg(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	start := o.now()

	debitResult, err := o.applyLeg(ctx, tx.FromAccountID, tx.ID, "debit", tx.Amount.Neg(), false, "debit")
	if err != nil {
		return o.fail(ctx, tx, err.Error())
	}
	if !debitResult.Applied {
		return o.fail(ctx, tx, apierr.ReasonInsufficientFunds)
	}

	o.obs.TransactionStateChanged(tx.ID, string(models.StateInitiated), string(models.StateDebitApplied))
	if err := o.store.UpdateProcessingState(ctx, tx.ID, models.StateDebitApplied); err != nil {
		return nil, fmt.Errorf("orchestrator: persist debit-applied state: %w", err)
	}
	tx.ProcessingState = models.StateDebitApplied

	creditResult, err := o.applyLeg(ctx, tx.ToAccountID, tx.ID, "credit", tx.Amount, true, "credit")
	if err != nil {
		return o.compensate(ctx, tx, err)
	}
	if !creditResult.Applied {
		return o.compensate(ctx, tx, apierr.NewBusinessRejection("credit leg rejected"))
	}

	o.obs.TransactionStateChanged(tx.ID, string(models.StateDebitApplied), string(models.StateCreditApplied))
	if err := o.store.Complete(ctx, tx.ID, models.StatusCompleted, models.StateCompleted, ""); err != nil {
		return nil, fmt.Errorf("orchestrator: persist completed state: %w", err)
	}
	tx.Status = models.StatusCompleted
	tx.ProcessingState = models.StateCompleted
	o.obs.TransactionTerminal(tx.ID, string(tx.Status), o.now().Sub(start))
	o.invalidateCache(ctx)
	o.publish(eventing.TopicTransactionCompleted, tx, start)
	return tx, nil
}

// runSingleLeg runs a deposit or withdrawal's lone balance operation.
func (o *Orchestrator) runSingleLeg(ctx context.Context, tx *models.Transaction, accountID string, delta money.Amount, allowNegative bool, opID string) (*models.Transaction, error) {
	start := o.now()

	result, err := o.applyLeg(ctx, accountID, tx.ID, opID, delta, allowNegative, "single")
	if err != nil {
		return o.fail(ctx, tx, err.Error())
	}
	if !result.Applied {
		return o.fail(ctx, tx, apierr.ReasonInsufficientFunds)
	}

	if err := o.store.Complete(ctx, tx.ID, models.StatusCompleted, models.StateCompleted, ""); err != nil {
		return nil, fmt.Errorf("orchestrator: persist completed state: %w", err)
	}
	tx.Status = models.StatusCompleted
	tx.ProcessingState = models.StateCompleted
	o.obs.TransactionTerminal(tx.ID, string(tx.Status), o.now().Sub(start))
	o.invalidateCache(ctx)
	o.publish(eventing.TopicTransactionCompleted, tx, start)
	return tx, nil
}

// compensate re-credits the from-account after a credit-leg failure. A
// failed compensation leaves the transaction MANUAL_ACTION_REQUIRED rather
// than silently losing track of the debited funds.
func (o *Orchestrator) compensate(ctx context.Context, tx *models.Transaction, creditErr error) (*models.Transaction, error) {
	_, compErr := o.applyLeg(ctx, tx.FromAccountID, tx.ID, "compensate", tx.Amount, true, "compensation")
	if compErr != nil {
		logging.Error("compensation failed, manual action required", compErr, map[string]interface{}{"transaction_id": tx.ID, "credit_error": creditErr.Error()})
		if err := o.store.Complete(ctx, tx.ID, models.StatusFailedRequiresManualAction, models.StateManualActionRequired, apierr.ReasonManualActionRequired); err != nil {
			return nil, fmt.Errorf("orchestrator: persist manual-action state: %w", err)
		}
		tx.Status = models.StatusFailedRequiresManualAction
		tx.ProcessingState = models.StateManualActionRequired
		o.obs.TransactionTerminal(tx.ID, string(tx.Status), 0)
		o.invalidateCache(ctx)
		return tx, nil
	}

	if err := o.store.Complete(ctx, tx.ID, models.StatusFailed, models.StateCompensated, creditErr.Error()); err != nil {
		return nil, fmt.Errorf("orchestrator: persist compensated-failed state: %w", err)
	}
	tx.Status = models.StatusFailed
	tx.ProcessingState = models.StateCompensated
	tx.FailureReason = creditErr.Error()
	o.obs.TransactionTerminal(tx.ID, string(tx.Status), 0)
	o.invalidateCache(ctx)
	o.publish(eventing.TopicTransactionCompensated, tx, o.now())
	return tx, nil
}

func (o *Orchestrator) fail(ctx context.Context, tx *models.Transaction, reason string) (*models.Transaction, error) {
	if err := o.store.Complete(ctx, tx.ID, models.StatusFailed, tx.ProcessingState, reason); err != nil {
		return nil, fmt.Errorf("orchestrator: persist failed state: %w", err)
	}
	tx.Status = models.StatusFailed
	tx.FailureReason = reason
	o.obs.TransactionTerminal(tx.ID, string(tx.Status), 0)
	o.invalidateCache(ctx)
	o.publish(eventing.TopicTransactionFailed, tx, o.now())
	return tx, nil
}

// applyLeg applies one balance-operation leg. A leg touching the EXTERNAL
// sentinel never calls the Account Service; it always succeeds.
func (o *Orchestrator) applyLeg(ctx context.Context, accountID, transactionID, opSuffix string, delta money.Amount, allowNegative bool, legName string) (*client.OperationResult, error) {
	if strings.EqualFold(accountID, models.ExternalAccount) {
		return &client.OperationResult{Applied: true, Status: "APPLIED"}, nil
	}
	operationID := fmt.Sprintf("%s:%s", transactionID, opSuffix)
	result, err := o.account.ApplyBalanceOperation(ctx, accountID, operationID, transactionID, delta, legName, allowNegative)
	if err != nil {
		o.obs.UpstreamCallFailed(accountID, legName)
		return nil, translateClientErr(err)
	}
	return result, nil
}

// auditAbort records a pre-check failure that aborted before any
// transaction row was created — only an audit event marks the attempt,
// per §4.2.1's "aborts without creating a PROCESSING transaction".
func (o *Orchestrator) auditAbort(txType models.TransactionType, fromAccountID, toAccountID string, amount money.Amount, currency, createdBy, reason string) {
	tx := &models.Transaction{
		ID:            uuid.NewString(),
		Type:          txType,
		Status:        models.StatusFailed,
		FromAccountID: fromAccountID,
		ToAccountID:   toAccountID,
		Amount:        amount,
		Currency:      currency,
		CreatedBy:     createdBy,
		FailureReason: reason,
	}
	o.publish(eventing.TopicTransactionFailed, tx, o.now())
}

func (o *Orchestrator) invalidateCache(ctx context.Context) {
	if o.cache != nil {
		o.cache.InvalidateAll(ctx)
	}
}

func (o *Orchestrator) publish(topic string, tx *models.Transaction, at time.Time) {
	event := eventing.TransactionEvent{
		TransactionID:   tx.ID,
		Type:            string(tx.Type),
		Status:          string(tx.Status),
		ProcessingState: string(tx.ProcessingState),
		FromAccountID:   tx.FromAccountID,
		ToAccountID:     tx.ToAccountID,
		Amount:          tx.Amount.String(),
		Timestamp:       at.UTC(),
	}
	if err := o.publisher.PublishTransaction(topic, event); err != nil {
		logging.Warn("failed to publish transaction event", map[string]interface{}{"transaction_id": tx.ID, "topic": topic, "error": err.Error()})
	}
}

func translateClientErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, client.ErrAccountNotFound) {
		return apierr.NewNotFound("account")
	}
	var rejection *client.BusinessRejectionError
	if errors.As(err, &rejection) {
		return apierr.NewBusinessRejection(rejection.Message)
	}
	if errors.Is(err, client.ErrAccountServiceUnavailable) {
		return apierr.NewUpstreamUnavailable("account service unavailable")
	}
	return fmt.Errorf("orchestrator: upstream call failed: %w", err)
}
