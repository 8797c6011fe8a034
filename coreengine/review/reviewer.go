package review

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/conclave-systems/deliberation/coreengine/config"
	"github.com/conclave-systems/deliberation/coreengine/observability"
	"github.com/conclave-systems/deliberation/coreengine/persona"
	"github.com/conclave-systems/deliberation/coreengine/resilience"
	"github.com/conclave-systems/deliberation/coreengine/workers"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WorkerInvoker is the interface for resilient worker invocation.
type WorkerInvoker interface {
	Invoke(ctx context.Context, workerID string, prompt string, opts workers.CallOptions) (*workers.CallResult, error)
}

// Logger is the interface for logging.
type Logger interface {
	Info(msg string, fields ...any)
	Debug(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

var tracer = otel.Tracer("deliberation/review")

// Reviewer runs one voting round over a proposal.
type Reviewer struct {
	Invoker WorkerInvoker
	Config  *config.DeliberationConfig
	Logger  Logger
}

// NewReviewer creates a Reviewer. A nil config uses defaults.
func NewReviewer(invoker WorkerInvoker, cfg *config.DeliberationConfig, logger Logger) (*Reviewer, error) {
	if invoker == nil {
		return nil, fmt.Errorf("reviewer requires a worker invoker")
	}
	if cfg == nil {
		cfg = config.DefaultDeliberationConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reviewer{Invoker: invoker, Config: cfg, Logger: logger}, nil
}

// Review runs exactly one voting round of personas against the diff between
// original and proposal.
//
// A malformed registry is a configuration defect and returns an error;
// per-persona worker failures never do - they are absorbed into
// default-approve votes flagged Reachable=false. Caller cancellation is the
// exception: a cancelled round returns ctx's error rather than tallying a
// verdict no persona was consulted for.
func (r *Reviewer) Review(ctx context.Context, original, proposal string, registry persona.Registry) (*RoundResult, error) {
	if err := registry.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "review.round",
		trace.WithAttributes(attribute.Int("conclave.personas.total", len(registry))),
	)
	defer span.End()

	start := time.Now()

	vetoers, advisors := registry.Partition()
	vetoers = vetoers.Cap(r.Config.MaxVetoVoters)
	advisors = advisors.Cap(r.Config.MaxAdvisoryVoters)

	r.Logger.Debug("review_round_started",
		"veto_voters", len(vetoers),
		"advisory_voters", len(advisors),
	)

	var votes []Vote
	var cost float64

	// Veto phase: sequential, in registry order. A veto reject terminates
	// the round before anyone else is polled.
	for _, p := range vetoers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vote, c := r.poll(ctx, p, original, proposal)
		votes = append(votes, vote)
		cost += c
		observability.RecordVote(vote.Approve, vote.Reachable)

		if vote.Veto {
			result := &RoundResult{
				Votes:          votes,
				ConsensusRatio: tally(votes),
				VetoedBy:       []string{p.Name},
				Verdict:        VerdictRejected,
				Cost:           cost,
			}
			span.SetAttributes(attribute.String("conclave.round.verdict", "vetoed"))
			observability.RecordRound(string(VerdictRejected), int(time.Since(start).Milliseconds()))
			r.Logger.Info("review_round_vetoed", "persona", p.Name, "reason", vote.Reason)
			return result, nil
		}
	}

	// Advisory phase: polls are mutually independent once the veto phase
	// has cleared, so they may run concurrently. Vote order stays registry
	// order either way.
	advisoryVotes := make([]Vote, len(advisors))
	advisoryCosts := make([]float64, len(advisors))
	if r.Config.ParallelAdvisoryPolls && len(advisors) > 1 {
		var wg sync.WaitGroup
		for i, p := range advisors {
			wg.Add(1)
			go func(i int, p persona.Persona) {
				defer wg.Done()
				advisoryVotes[i], advisoryCosts[i] = r.poll(ctx, p, original, proposal)
			}(i, p)
		}
		wg.Wait()
	} else {
		for i, p := range advisors {
			advisoryVotes[i], advisoryCosts[i] = r.poll(ctx, p, original, proposal)
		}
	}
	// A cancellation during polling must not tally: the lenient votes cast
	// on behalf of unreachable personas would otherwise approve a proposal
	// nobody reviewed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, vote := range advisoryVotes {
		votes = append(votes, vote)
		cost += advisoryCosts[i]
		observability.RecordVote(vote.Approve, vote.Reachable)
	}

	ratio := tally(votes)
	verdict := VerdictRejected
	if ratio >= r.Config.ConsensusThreshold {
		verdict = VerdictApproved
	}

	result := &RoundResult{
		Votes:          votes,
		ConsensusRatio: ratio,
		Verdict:        verdict,
		Cost:           cost,
	}

	span.SetAttributes(
		attribute.String("conclave.round.verdict", string(verdict)),
		attribute.Float64("conclave.round.consensus_ratio", ratio),
	)
	observability.RecordRound(string(verdict), int(time.Since(start).Milliseconds()))
	r.Logger.Info("review_round_completed",
		"verdict", string(verdict),
		"consensus_ratio", ratio,
		"votes", len(votes),
	)

	return result, nil
}

// poll asks one persona for a ballot. Any failure, including a panicking
// provider, yields a default-approve vote flagged unreachable so that
// infrastructure outages never block a round.
func (r *Reviewer) poll(ctx context.Context, p persona.Persona, original, proposal string) (Vote, float64) {
	prompt := buildBallotPrompt(p, original, proposal)

	result, err := resilience.SafeExecuteWithResult(r.Logger, "poll_"+p.Name, func() (*workers.CallResult, error) {
		return r.Invoker.Invoke(ctx, r.Config.VoteWorker, prompt, workers.CallOptions{
			MaxTokens: r.Config.VoteMaxTokens,
		})
	})
	if err != nil {
		r.Logger.Warn("persona_unreachable",
			"persona", p.Name,
			"error", err.Error(),
		)
		return Vote{
			PersonaName: p.Name,
			Approve:     true,
			Weight:      p.Weight,
			Reason:      "persona unreachable; defaulted to approve",
			Reachable:   false,
		}, 0
	}

	approve, reason := parseBallot(result.Content)
	return Vote{
		PersonaName: p.Name,
		Approve:     approve,
		Veto:        p.Veto && !approve,
		Weight:      p.Weight,
		Reason:      reason,
		Reachable:   true,
	}, result.Cost
}

// buildBallotPrompt asks a persona for an APPROVE/REJECT decision plus a
// one-sentence justification against its directive.
func buildBallotPrompt(p persona.Persona, original, proposal string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Your directive: %s\n\n", p.Name, p.Directive)
	b.WriteString("Review the proposed revision against the original.\n\n")
	fmt.Fprintf(&b, "ORIGINAL:\n%s\n\nPROPOSAL:\n%s\n\n", original, proposal)
	b.WriteString("Reply with APPROVE or REJECT on the first line, followed by a one-sentence justification.")
	return b.String()
}

// parseBallot extracts the decision from worker output. The leading token is
// parsed case-insensitively; anything that is not an approval counts as a
// reject.
func parseBallot(content string) (approve bool, reason string) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false, ""
	}

	token := trimmed
	rest := ""
	if i := strings.IndexAny(trimmed, " \t\n:,.-"); i >= 0 {
		token = trimmed[:i]
		rest = strings.TrimLeft(trimmed[i:], " \t\n:,.-")
	}

	approve = strings.EqualFold(token, "approve") || strings.EqualFold(token, "approved")
	if rest == "" {
		rest = trimmed
	}
	return approve, rest
}
