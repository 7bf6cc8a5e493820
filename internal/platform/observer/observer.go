// Package observer defines the cross-cutting hook the orchestrator and
// balance engine call into for metrics/audit/tracing, per the Design Notes:
// "prefer explicit interface parameters... so the core can be tested without
// a metrics backend." The teacher wove these concerns in via Gin middleware
// method interception; this rewrite threads an Observer through instead.
package observer

import "time"

// Observer receives lifecycle events from the transactional core. All
// methods must be safe to call with a nil receiver's zero value omitted —
// implementations should treat every call as fire-and-forget.
type Observer interface {
	BalanceOperationApplied(accountID, operationID, status string, delta string, d time.Duration)
	TransactionStateChanged(transactionID, fromState, toState string)
	TransactionTerminal(transactionID, status string, d time.Duration)
	LimitCheckDenied(accountID, reason string)
	UpstreamCallFailed(endpoint, reason string)
}

// NoOp satisfies Observer and discards every event; used by tests that don't
// care about metrics/audit wiring.
type NoOp struct{}

func (NoOp) BalanceOperationApplied(string, string, string, string, time.Duration) {}
func (NoOp) TransactionStateChanged(string, string, string)                       {}
func (NoOp) TransactionTerminal(string, string, time.Duration)                    {}
func (NoOp) LimitCheckDenied(string, string)                                      {}
func (NoOp) UpstreamCallFailed(string, string)                                    {}
