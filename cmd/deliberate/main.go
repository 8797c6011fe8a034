// Conclave Deliberation Runner
//
// Runs one deliberation session over a proposal file and prints the outcome.
//
// Usage:
//
//	go run ./cmd/deliberate -proposal draft.txt
//	go run ./cmd/deliberate -original brief.txt -proposal draft.txt -json
//	go build -o deliberate ./cmd/deliberate && ./deliberate -proposal draft.txt
//
// Infrastructure configuration (worker gateway, persona preset, cost log,
// trace exporter) comes from CONCLAVE_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/conclave-systems/deliberation/coreengine/config"
	"github.com/conclave-systems/deliberation/coreengine/costlog"
	"github.com/conclave-systems/deliberation/coreengine/deliberation"
	"github.com/conclave-systems/deliberation/coreengine/observability"
	"github.com/conclave-systems/deliberation/coreengine/persona"
	"github.com/conclave-systems/deliberation/coreengine/resilience"
	"github.com/conclave-systems/deliberation/coreengine/review"
	"github.com/conclave-systems/deliberation/coreengine/workers"
)

// stdLogger implements the coreengine Logger interfaces using standard library log.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, keysAndValues)
}

// bootstrap is the deployment environment for one runner process.
type bootstrap struct {
	WorkerEndpoint string  `env:"CONCLAVE_WORKER_ENDPOINT" envDefault:"http://localhost:8900/v1/call"`
	WorkerToken    string  `env:"CONCLAVE_WORKER_TOKEN"`
	VoteModel      string  `env:"CONCLAVE_VOTE_MODEL" envDefault:"critic-small"`
	SynthesisModel string  `env:"CONCLAVE_SYNTHESIS_MODEL" envDefault:"synth-large"`
	PersonaFile    string  `env:"CONCLAVE_PERSONA_FILE" envDefault:"configs/personas.yaml"`
	CostLogPath    string  `env:"CONCLAVE_COSTLOG_PATH"`
	OTLPEndpoint   string  `env:"CONCLAVE_OTLP_ENDPOINT"`
	SpendingCap    float64 `env:"CONCLAVE_SPENDING_CAP" envDefault:"10.0"`
	MaxRounds      int     `env:"CONCLAVE_MAX_ROUNDS" envDefault:"5"`
}

func main() {
	originalPath := flag.String("original", "", "path to the original text (defaults to the proposal)")
	proposalPath := flag.String("proposal", "", "path to the initial proposal text (required)")
	personaPath := flag.String("personas", "", "persona preset override (defaults to CONCLAVE_PERSONA_FILE)")
	jsonOut := flag.Bool("json", false, "print the full session as JSON")
	flag.Parse()

	logger := &stdLogger{}

	if *proposalPath == "" {
		fmt.Fprintln(os.Stderr, "missing required -proposal flag")
		flag.Usage()
		os.Exit(2)
	}

	var boot bootstrap
	if err := env.Parse(&boot); err != nil {
		log.Fatalf("Failed to parse environment: %v", err)
	}
	if *personaPath == "" {
		*personaPath = boot.PersonaFile
	}

	if boot.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracer("conclave-deliberate", boot.OTLPEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracer: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	session, err := run(logger, &boot, *originalPath, *proposalPath, *personaPath)
	if err != nil {
		log.Fatalf("Deliberation failed: %v", err)
	}

	if *jsonOut {
		out, err := json.MarshalIndent(session, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode session: %v", err)
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("outcome=%s rounds=%d cost=%.4f halted=%v\n",
			session.Outcome, session.Round, session.TotalCost, session.Halted)
		fmt.Println("--- final proposal ---")
		fmt.Println(session.Proposal)
	}

	if !session.Outcome.Passed() {
		os.Exit(1)
	}
}

func run(logger *stdLogger, boot *bootstrap, originalPath, proposalPath, personaPath string) (*deliberation.Session, error) {
	proposal, err := os.ReadFile(proposalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read proposal: %w", err)
	}
	original := proposal
	if originalPath != "" {
		original, err = os.ReadFile(originalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read original: %w", err)
		}
	}

	registry, err := persona.LoadFile(personaPath)
	if err != nil {
		return nil, err
	}
	logger.Info("personas_loaded", "path", personaPath, "count", len(registry))

	delibCfg := config.DefaultDeliberationConfig()
	delibCfg.MaxRounds = boot.MaxRounds
	config.SetDeliberationConfig(delibCfg)

	resilCfg := config.DefaultResilienceConfig()
	resilCfg.SpendingCap = boot.SpendingCap
	config.SetResilienceConfig(resilCfg)

	workerRegistry := workers.NewRegistry()
	descriptors := []*workers.Descriptor{
		{ID: delibCfg.VoteWorker, Model: boot.VoteModel, Provider: "gateway", MaxContextTokens: 32000, Healthy: true},
		{ID: delibCfg.SynthesisWorker, Model: boot.SynthesisModel, Provider: "gateway", MaxContextTokens: 128000, Healthy: true},
	}
	for _, d := range descriptors {
		if err := workerRegistry.Register(d); err != nil {
			return nil, err
		}
	}

	var sink costlog.Sink = costlog.NopSink{}
	if boot.CostLogPath != "" {
		sqlSink, err := costlog.NewSQLiteSink(boot.CostLogPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open cost log: %w", err)
		}
		defer sqlSink.Close()
		sink = sqlSink
	}

	budget := resilience.NewBudgetGuard(resilCfg.SpendingCap)
	circuits := resilience.NewCircuitRegistry(
		resilCfg.FailureThreshold,
		time.Duration(resilCfg.FailureWindowSec)*time.Second,
		time.Duration(resilCfg.CooldownSec)*time.Second,
	)
	provider := newHTTPProvider(boot.WorkerEndpoint, boot.WorkerToken, workerRegistry,
		time.Duration(resilCfg.CallTimeoutSec)*time.Second)
	invoker := resilience.NewInvoker(provider, budget, circuits, resilCfg, logger, sink)

	reviewer, err := review.NewReviewer(invoker, delibCfg, logger)
	if err != nil {
		return nil, err
	}
	engine, err := deliberation.NewEngine(reviewer, invoker, budget, delibCfg, logger)
	if err != nil {
		return nil, err
	}
	engine.Workers = workerRegistry

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("deliberation_starting",
		"workers", workerRegistry.IDs(),
		"spending_cap", resilCfg.SpendingCap,
		"max_rounds", delibCfg.MaxRounds,
	)
	return engine.Deliberate(ctx, string(original), string(proposal), registry)
}
