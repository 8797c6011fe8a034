// Package review implements a single weighted voting round over a proposal.
//
// A round polls veto-empowered personas first, one at a time; a veto reject
// terminates the round immediately. Advisory personas are polled once the
// veto phase has cleared. The verdict is a weighted tally over the votes
// actually cast: a partial-participation round is still a valid, terminal
// round.
package review

// Verdict represents the outcome of a single review round.
type Verdict string

const (
	// VerdictApproved indicates the weighted consensus reached the threshold.
	VerdictApproved Verdict = "approved"
	// VerdictRejected indicates the threshold was not reached or a veto fired.
	VerdictRejected Verdict = "rejected"
)

// Vote is a single persona's ballot. Immutable after creation.
type Vote struct {
	PersonaName string  `json:"persona_name"`
	Approve     bool    `json:"approve"`
	Veto        bool    `json:"veto"` // true only if the persona has veto power and voted reject
	Weight      float64 `json:"weight"`
	Reason      string  `json:"reason"`

	// Reachable is false when this is a default-approve vote cast on behalf
	// of a persona whose worker call failed. Downstream consumers use it to
	// distinguish a true approval from a lenient fallback.
	Reachable bool `json:"reachable"`
}

// RoundResult is the outcome of one complete review round.
// VetoedBy non-empty implies Verdict is rejected and voting short-circuited
// before all personas were polled.
type RoundResult struct {
	Votes          []Vote   `json:"votes"`
	ConsensusRatio float64  `json:"consensus_ratio"`
	VetoedBy       []string `json:"vetoed_by,omitempty"`
	Verdict        Verdict  `json:"verdict"`
	Cost           float64  `json:"cost"` // Worker spend incurred by this round
}

// Vetoed reports whether a veto-empowered persona rejected the proposal.
func (r *RoundResult) Vetoed() bool {
	return len(r.VetoedBy) > 0
}

// RejectionReasons returns the reason text of every rejecting vote, in vote
// order. Used as synthesis feedback.
func (r *RoundResult) RejectionReasons() []string {
	var reasons []string
	for _, v := range r.Votes {
		if !v.Approve && v.Reason != "" {
			reasons = append(reasons, v.Reason)
		}
	}
	return reasons
}

// tally computes the weighted consensus ratio over the votes actually cast.
// Returns 0 when no votes were cast.
func tally(votes []Vote) float64 {
	var approving, total float64
	for _, v := range votes {
		total += v.Weight
		if v.Approve {
			approving += v.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return approving / total
}
