package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/conclave-systems/deliberation/coreengine/config"
	"github.com/conclave-systems/deliberation/coreengine/costlog"
	"github.com/conclave-systems/deliberation/coreengine/observability"
	"github.com/conclave-systems/deliberation/coreengine/workers"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the interface for logging.
type Logger interface {
	Info(msg string, fields ...any)
	Debug(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

var tracer = otel.Tracer("deliberation/resilience")

// Invoker executes exactly one logical worker call with bounded retries,
// converting transient failures into successful completion where possible and
// classifying everything else as a final error.
//
// Call order per invocation: circuit check, budget check, then up to
// MaxAttempts attempts with exponential backoff between them. Requests that
// the worker reports as unaffordable are shrunk and retried.
type Invoker struct {
	provider workers.Provider
	budget   *BudgetGuard
	circuits *CircuitRegistry
	cfg      *config.ResilienceConfig
	logger   Logger
	sink     costlog.Sink

	sleep func(time.Duration) // injectable for tests
}

// NewInvoker creates an Invoker. A nil sink disables event recording.
func NewInvoker(
	provider workers.Provider,
	budget *BudgetGuard,
	circuits *CircuitRegistry,
	cfg *config.ResilienceConfig,
	logger Logger,
	sink costlog.Sink,
) *Invoker {
	if cfg == nil {
		cfg = config.DefaultResilienceConfig()
	}
	if sink == nil {
		sink = costlog.NopSink{}
	}
	return &Invoker{
		provider: provider,
		budget:   budget,
		circuits: circuits,
		cfg:      cfg,
		logger:   logger,
		sink:     sink,
		sleep:    time.Sleep,
	}
}

// Invoke performs one logical worker call.
//
// Returns WorkerUnavailableError when the circuit is open and
// BudgetExhaustedError when the cap is reached; neither is retried. Any
// other failure is either recovered by retrying or returned as an
// InvocationError wrapping the last observed failure.
func (inv *Invoker) Invoke(ctx context.Context, workerID string, prompt string, opts workers.CallOptions) (*workers.CallResult, error) {
	ctx, span := tracer.Start(ctx, "resilience.invoke",
		trace.WithAttributes(attribute.String("conclave.worker.id", workerID)),
	)
	defer span.End()

	start := time.Now()

	if !inv.circuits.Closed(workerID) {
		err := NewWorkerUnavailableError(workerID)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordWorkerCall(workerID, "unavailable", durationMS(start))
		inv.logger.Warn("worker_circuit_open", "worker", workerID)
		return nil, err
	}

	if inv.budget.OverBudget() {
		err := NewBudgetExhaustedError(inv.budget.Remaining())
		span.SetStatus(codes.Error, err.Error())
		observability.RecordWorkerCall(workerID, "budget_exhausted", durationMS(start))
		inv.sink.RecordError("invoke."+workerID, err)
		inv.logger.Warn("worker_budget_exhausted", "worker", workerID, "spent", inv.budget.Spent())
		return nil, err
	}

	maxTokens := opts.MaxTokens
	var lastErr error
	attempts := 0
	workerFailed := false

	for attempt := 1; attempt <= inv.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts = attempt

		result, err := inv.attempt(ctx, workerID, prompt, workers.CallOptions{MaxTokens: maxTokens})
		if err == nil {
			inv.budget.Record(result.Cost)
			inv.circuits.RecordSuccess(workerID)
			inv.sink.RecordCost(workerID, result.Cost)

			span.SetAttributes(attribute.Int("conclave.worker.attempts", attempt))
			span.SetStatus(codes.Ok, "success")
			observability.RecordWorkerCall(workerID, "success", durationMS(start))

			inv.logger.Debug("worker_call_succeeded",
				"worker", workerID,
				"attempt", attempt,
				"cost", result.Cost,
			)
			return result, nil
		}

		lastErr = err
		if cancelErr := ctx.Err(); cancelErr != nil && errors.Is(err, cancelErr) {
			break
		}
		workerFailed = true
		class, affordable := classify(err)

		if class == classFatal {
			inv.logger.Error("worker_call_fatal", "worker", workerID, "attempt", attempt, "error", err.Error())
			break
		}

		if class == classTooLarge {
			maxTokens = inv.shrink(affordable)
			inv.logger.Warn("worker_request_shrunk",
				"worker", workerID,
				"affordable", affordable,
				"next_max_tokens", maxTokens,
			)
		} else {
			inv.logger.Warn("worker_call_transient_failure",
				"worker", workerID,
				"attempt", attempt,
				"error", err.Error(),
			)
		}

		if attempt < inv.cfg.MaxAttempts {
			observability.RecordWorkerRetry(workerID, class.String())
			inv.sleep(inv.backoff(attempt))
		}
	}

	// Circuit state tracks worker health; a caller's cancellation says
	// nothing about the worker.
	if workerFailed {
		inv.circuits.RecordFailure(workerID)
	}

	final := &InvocationError{WorkerID: workerID, Attempts: attempts, Cause: lastErr}
	span.RecordError(final)
	span.SetStatus(codes.Error, final.Error())
	observability.RecordWorkerCall(workerID, "error", durationMS(start))
	inv.sink.RecordError("invoke."+workerID, final)

	return nil, final
}

// attempt performs a single provider call under the configured per-call
// timeout.
func (inv *Invoker) attempt(ctx context.Context, workerID, prompt string, opts workers.CallOptions) (*workers.CallResult, error) {
	if inv.cfg.CallTimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(inv.cfg.CallTimeoutSec)*time.Second)
		defer cancel()
	}
	return inv.provider.Call(ctx, workerID, prompt, opts)
}

// backoff returns the sleep before re-attempting after the given attempt:
// base * 2^(attempt-1).
func (inv *Invoker) backoff(attempt int) time.Duration {
	base := time.Duration(inv.cfg.BackoffBaseSec) * time.Second
	return base << (attempt - 1)
}

// shrink clamps the next request size to the reported affordable size minus
// the safety margin, never below the configured floor.
func (inv *Invoker) shrink(affordable int) int {
	next := affordable - inv.cfg.ShrinkSafetyMargin
	if next < inv.cfg.MinRequestTokens {
		return inv.cfg.MinRequestTokens
	}
	return next
}

func durationMS(start time.Time) int {
	return int(time.Since(start).Milliseconds())
}
