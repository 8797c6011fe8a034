package deliberation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/conclave-systems/deliberation/coreengine/config"
	"github.com/conclave-systems/deliberation/coreengine/observability"
	"github.com/conclave-systems/deliberation/coreengine/persona"
	"github.com/conclave-systems/deliberation/coreengine/resilience"
	"github.com/conclave-systems/deliberation/coreengine/review"
	"github.com/conclave-systems/deliberation/coreengine/workers"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RoundReviewer is the interface for running one review round.
type RoundReviewer interface {
	Review(ctx context.Context, original, proposal string, registry persona.Registry) (*review.RoundResult, error)
}

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

var tracer = otel.Tracer("deliberation/engine")

// Engine runs the multi-round deliberation loop.
type Engine struct {
	Reviewer RoundReviewer
	Invoker  WorkerInvoker
	Budget   *resilience.BudgetGuard
	Config   *config.DeliberationConfig
	Logger   Logger

	// Workers is optional. When set, synthesis resolves its worker id
	// through the registry and falls back to the first healthy worker if
	// the configured one is unknown or unhealthy.
	Workers *workers.Registry
}

// NewEngine creates an Engine. A nil config uses defaults.
func NewEngine(reviewer RoundReviewer, invoker WorkerInvoker, budget *resilience.BudgetGuard, cfg *config.DeliberationConfig, logger Logger) (*Engine, error) {
	if reviewer == nil {
		return nil, fmt.Errorf("engine requires a reviewer")
	}
	if invoker == nil {
		return nil, fmt.Errorf("engine requires a worker invoker")
	}
	if budget == nil {
		return nil, fmt.Errorf("engine requires a budget guard")
	}
	if cfg == nil {
		cfg = config.DefaultDeliberationConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{Reviewer: reviewer, Invoker: invoker, Budget: budget, Config: cfg, Logger: logger}, nil
}

// Deliberate drives proposal through review rounds until a terminal outcome.
//
// Ordinary worker failures never abort a session: synthesis failure keeps
// the unrevised proposal and advances the round. A hard error is returned
// only for configuration defects (malformed registry) or cancellation; the
// partial session is returned alongside it as the audit trail so far.
func (e *Engine) Deliberate(ctx context.Context, original, proposal string, registry persona.Registry) (*Session, error) {
	ctx, span := tracer.Start(ctx, "deliberation.session",
		trace.WithAttributes(attribute.Int("conclave.session.max_rounds", e.Config.MaxRounds)),
	)
	defer span.End()

	session := &Session{
		ID:        uuid.NewString(),
		Original:  original,
		Proposal:  proposal,
		StartedAt: time.Now(),
	}
	span.SetAttributes(attribute.String("conclave.session.id", session.ID))

	e.Logger.Info("session_started",
		"session_id", session.ID,
		"max_rounds", e.Config.MaxRounds,
	)

	prevRatio := math.NaN()

	for round := 1; round <= e.Config.MaxRounds; round++ {
		// Mid-round calls carry the same context; the reviewer surfaces
		// cancellation between polls and this check catches it between rounds.
		if err := ctx.Err(); err != nil {
			session.CompletedAt = time.Now()
			return session, err
		}

		result, err := e.Reviewer.Review(ctx, session.Original, session.Proposal, registry)
		if err != nil {
			session.CompletedAt = time.Now()
			return session, err
		}

		session.Rounds = append(session.Rounds, result)
		session.Round = round
		session.TotalCost += result.Cost

		e.Logger.Debug("round_completed",
			"session_id", session.ID,
			"round", round,
			"verdict", string(result.Verdict),
			"consensus_ratio", result.ConsensusRatio,
		)

		if result.Vetoed() {
			return e.finish(span, session, OutcomeVetoed, false), nil
		}
		if result.Verdict == review.VerdictApproved {
			return e.finish(span, session, OutcomeApproved, false), nil
		}
		if round >= 2 && math.Abs(result.ConsensusRatio-prevRatio) < e.Config.ConvergenceThreshold {
			return e.finish(span, session, OutcomeConverged, false), nil
		}
		prevRatio = result.ConsensusRatio

		if round == e.Config.MaxRounds {
			return e.finish(span, session, OutcomeRoundCapReached, true), nil
		}
		if e.Budget.OverBudget() {
			return e.finish(span, session, OutcomeBudgetExhausted, false), nil
		}

		e.synthesize(ctx, session, result)
	}

	// Unreachable: the round-cap branch above always terminates the loop.
	return e.finish(span, session, OutcomeRoundCapReached, true), nil
}

// synthesize requests a revised proposal using the round's rejection reasons
// as feedback. Failure keeps the unrevised proposal; the round still advances.
func (e *Engine) synthesize(ctx context.Context, session *Session, result *review.RoundResult) {
	prompt := buildSynthesisPrompt(session.Original, session.Proposal, result.RejectionReasons())
	workerID := e.synthesisWorker()

	revised, err := e.Invoker.Invoke(ctx, workerID, prompt, workers.CallOptions{
		MaxTokens: e.Config.SynthesisMaxTokens,
	})
	if err != nil {
		// An open circuit means the worker is down; reflect that in
		// registry health so later rounds fall back to another worker.
		var unavailable *resilience.WorkerUnavailableError
		if e.Workers != nil && errors.As(err, &unavailable) {
			e.Workers.SetHealthy(workerID, false)
		}

		e.Logger.Warn("synthesis_failed",
			"session_id", session.ID,
			"round", session.Round,
			"worker", workerID,
			"error", err.Error(),
		)
		return
	}

	session.TotalCost += revised.Cost
	if content := strings.TrimSpace(revised.Content); content != "" {
		session.Proposal = content
	}
}

// synthesisWorker resolves the synthesis worker id. Without a registry the
// configured id is used as-is; with one, an unknown or unhealthy configured
// worker is substituted by the first healthy worker in registration order.
func (e *Engine) synthesisWorker() string {
	workerID := e.Config.SynthesisWorker
	if e.Workers == nil {
		return workerID
	}
	if d, ok := e.Workers.Resolve(workerID); ok && d.Healthy {
		return workerID
	}
	if d, ok := e.Workers.FirstHealthy(); ok {
		e.Logger.Warn("synthesis_worker_fallback",
			"configured", workerID,
			"using", d.ID,
		)
		return d.ID
	}
	return workerID
}

func (e *Engine) finish(span traceSpan, session *Session, outcome Outcome, halted bool) *Session {
	session.Outcome = outcome
	session.Halted = halted
	session.CompletedAt = time.Now()

	durationMS := int(session.CompletedAt.Sub(session.StartedAt).Milliseconds())
	observability.RecordSession(string(outcome), durationMS)
	span.SetAttributes(
		attribute.String("conclave.session.outcome", string(outcome)),
		attribute.Int("conclave.session.rounds", session.Round),
		attribute.Float64("conclave.session.cost", session.TotalCost),
	)

	e.Logger.Info("session_completed",
		"session_id", session.ID,
		"outcome", string(outcome),
		"rounds", session.Round,
		"total_cost", session.TotalCost,
		"halted", halted,
	)
	return session
}

// traceSpan is the subset of trace.Span finish needs.
type traceSpan interface {
	SetAttributes(kv ...attribute.KeyValue)
}

// buildSynthesisPrompt asks a worker to revise the proposal, feeding back the
// reasons given by rejecting voters.
func buildSynthesisPrompt(original, proposal string, reasons []string) string {
	var b strings.Builder
	b.WriteString("Revise the proposal below to address the reviewers' objections while staying faithful to the original.\n\n")
	fmt.Fprintf(&b, "ORIGINAL:\n%s\n\nCURRENT PROPOSAL:\n%s\n\n", original, proposal)
	if len(reasons) > 0 {
		b.WriteString("OBJECTIONS:\n")
		for _, r := range reasons {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	b.WriteString("Reply with the full revised proposal text only.")
	return b.String()
}
