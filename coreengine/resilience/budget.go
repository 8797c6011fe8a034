// Package resilience provides the failure-handling layer for worker calls:
// budget enforcement, per-worker circuit breaking, and resilient invocation
// with retry, backoff, and adaptive request shrinking.
//
// BudgetGuard and CircuitRegistry hold process-wide shared state: they are
// mutated by every concurrent deliberation session because they model real
// external-service health and real spend, not session-local state.
package resilience

import (
	"sync"

	"github.com/conclave-systems/deliberation/coreengine/observability"
)

// BudgetGuard tracks cumulative spend against a hard cap.
//
// Pure bookkeeping: no retry or error semantics. Callers check OverBudget()
// before issuing a call that would incur further cost.
type BudgetGuard struct {
	spendingCap float64
	totalSpent  float64
	mu          sync.Mutex
}

// NewBudgetGuard creates a BudgetGuard with the given spending cap.
func NewBudgetGuard(spendingCap float64) *BudgetGuard {
	return &BudgetGuard{spendingCap: spendingCap}
}

// Record adds cost to the total spent. Negative costs are ignored: the total
// is monotonically increasing.
func (b *BudgetGuard) Record(cost float64) {
	if cost <= 0 {
		return
	}

	b.mu.Lock()
	b.totalSpent += cost
	b.mu.Unlock()

	observability.RecordSpend(cost)
}

// Remaining returns the spend still available, clamped at zero.
func (b *BudgetGuard) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.spendingCap - b.totalSpent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// OverBudget reports whether the cap has been reached.
func (b *BudgetGuard) OverBudget() bool {
	return b.Remaining() <= 0
}

// Spent returns the cumulative spend so far.
func (b *BudgetGuard) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSpent
}

// Cap returns the configured spending cap.
func (b *BudgetGuard) Cap() float64 {
	return b.spendingCap
}
