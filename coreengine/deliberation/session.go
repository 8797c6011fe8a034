// Package deliberation drives a proposal through successive review rounds
// until a terminal outcome: approval, veto, convergence, budget exhaustion,
// or the round cap.
package deliberation

import (
	"time"

	"github.com/conclave-systems/deliberation/coreengine/review"
)

// Outcome is the terminal state of a deliberation session.
type Outcome string

const (
	// OutcomeApproved indicates a round reached the consensus threshold.
	OutcomeApproved Outcome = "approved"
	// OutcomeVetoed indicates a veto-empowered persona rejected the proposal.
	OutcomeVetoed Outcome = "vetoed"
	// OutcomeConverged indicates the consensus ratio stabilized without
	// crossing the pass threshold. Not a pass: callers get the best-available
	// proposal, not an approved one.
	OutcomeConverged Outcome = "converged"
	// OutcomeBudgetExhausted indicates the spending cap was reached before a
	// revision could be synthesized.
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
	// OutcomeRoundCapReached indicates MaxRounds elapsed without another
	// terminal condition.
	OutcomeRoundCapReached Outcome = "round_cap_reached"
)

// Passed reports whether the outcome counts as an approval.
func (o Outcome) Passed() bool {
	return o == OutcomeApproved
}

// Session is the audit trail of one deliberation call. It is owned by a
// single in-flight Deliberate call and needs no locking.
type Session struct {
	ID       string `json:"id"`
	Original string `json:"original"`

	// Proposal is the current proposal text: the final revision once the
	// session terminates.
	Proposal string `json:"proposal"`

	Rounds    []*review.RoundResult `json:"rounds"`
	Round     int                   `json:"round"` // Rounds completed
	TotalCost float64               `json:"total_cost"`

	Outcome Outcome `json:"outcome"`
	// Halted is set when the session was force-stopped at the round cap
	// rather than reaching a verdict-driven terminal state.
	Halted bool `json:"halted"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// LastRound returns the most recent round result, or nil before round 1.
func (s *Session) LastRound() *review.RoundResult {
	if len(s.Rounds) == 0 {
		return nil
	}
	return s.Rounds[len(s.Rounds)-1]
}
