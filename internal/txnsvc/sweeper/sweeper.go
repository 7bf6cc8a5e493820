// Package sweeper implements the background recovery sweep: periodically
// scans for transactions stuck PROCESSING past a staleness cutoff and fails
// them outright. A stuck INITIATED or DEBIT_APPLIED transaction never had
// its outcome confirmed by the caller, so the sweep does not attempt to
// resume it — it marks the transaction FAILED, keeping its processing state,
// and leaves any partially applied debit for manual reconciliation. Unlike a
// failed compensation, the transaction is not marked MANUAL_ACTION_REQUIRED.
package sweeper

import (
	"context"
	"time"

	"ledger-platform/internal/platform/logging"
	"ledger-platform/internal/txnsvc/models"
	"ledger-platform/internal/txnsvc/store"
)

// Sweeper periodically fails transactions that have been stuck in a
// non-terminal processing state longer than Age.
type Sweeper struct {
	store    store.TransactionStore
	interval time.Duration
	age      time.Duration
}

// New builds a Sweeper polling every interval for transactions older than age.
func New(txStore store.TransactionStore, interval, age time.Duration) *Sweeper {
	return &Sweeper{store: txStore, interval: interval, age: age}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.age)
	stale, err := s.store.StaleProcessing(ctx, cutoff)
	if err != nil {
		logging.Error("sweeper: failed to query stale transactions", err, nil)
		return
	}
	if len(stale) == 0 {
		return
	}

	logging.Info("sweeper: found stale transactions", map[string]interface{}{"count": len(stale)})
	for _, tx := range stale {
		reason := "stale: stuck in " + string(tx.ProcessingState) + " past the recovery cutoff"
		if err := s.store.Complete(ctx, tx.ID, models.StatusFailed, tx.ProcessingState, reason); err != nil {
			logging.Error("sweeper: failed to fail stale transaction", err, map[string]interface{}{"transaction_id": tx.ID})
			continue
		}
		logging.Warn("sweeper: marked stale transaction failed", map[string]interface{}{
			"transaction_id":   tx.ID,
			"processing_state": string(tx.ProcessingState),
		})
	}
}
