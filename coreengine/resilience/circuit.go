package resilience

import (
	"sync"
	"time"

	"github.com/conclave-systems/deliberation/coreengine/observability"
)

// CircuitState represents the per-worker circuit breaker state.
//
// The model is deliberately two-state: an open circuit auto-resets to closed
// once the cooldown has elapsed, without a verified trial call. This is an
// optimistic auto-recovery policy, not a half-open probe; a worker that is
// still failing will re-open its circuit on the next failures.
type CircuitState string

const (
	// CircuitClosed indicates normal operation.
	CircuitClosed CircuitState = "closed"
	// CircuitOpen indicates calls to the worker are blocked.
	CircuitOpen CircuitState = "open"
)

// workerCircuit is the mutable state for a single worker id.
type workerCircuit struct {
	failures []time.Time
	state    CircuitState
	openedAt time.Time
}

// CircuitRegistry tracks failure state per worker id.
//
// Shared across concurrent sessions; all mutation happens under one lock.
type CircuitRegistry struct {
	threshold int
	window    time.Duration
	cooldown  time.Duration

	circuits map[string]*workerCircuit
	mu       sync.Mutex

	now func() time.Time // injectable clock for tests
}

// NewCircuitRegistry creates a circuit registry.
//
// A worker's circuit opens after threshold failures within the rolling
// window; it is presumed closed again once cooldown has elapsed.
func NewCircuitRegistry(threshold int, window, cooldown time.Duration) *CircuitRegistry {
	return &CircuitRegistry{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		circuits:  make(map[string]*workerCircuit),
		now:       time.Now,
	}
}

// Closed reports whether calls to the worker are currently allowed.
// An open circuit whose cooldown has elapsed auto-resets to closed.
func (r *CircuitRegistry) Closed(workerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(workerID)
	if c.state == CircuitOpen {
		if r.now().Sub(c.openedAt) >= r.cooldown {
			c.state = CircuitClosed
			c.failures = nil
			observability.RecordCircuitTransition(workerID, string(CircuitClosed))
			return true
		}
		return false
	}
	return true
}

// RecordFailure records a failed call outcome. Crossing the threshold within
// the rolling window opens the circuit.
func (r *CircuitRegistry) RecordFailure(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(workerID)
	now := r.now()
	c.failures = append(c.failures, now)
	r.prune(c, now)

	if c.state == CircuitClosed && len(c.failures) >= r.threshold {
		r.open(workerID, c)
	}
}

// RecordSuccess records a successful call outcome, resetting the failure
// count.
func (r *CircuitRegistry) RecordSuccess(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(workerID)
	c.failures = nil
}

// Open forces the worker's circuit open and starts the cooldown window.
func (r *CircuitRegistry) Open(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(workerID)
	if c.state != CircuitOpen {
		r.open(workerID, c)
	}
}

// State returns the worker's current circuit state without side effects.
func (r *CircuitRegistry) State(workerID string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(workerID).state
}

// FailureCount returns the number of failures inside the rolling window.
func (r *CircuitRegistry) FailureCount(workerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(workerID)
	r.prune(c, r.now())
	return len(c.failures)
}

// get returns the circuit for a worker, creating it closed (must hold lock).
func (r *CircuitRegistry) get(workerID string) *workerCircuit {
	c, ok := r.circuits[workerID]
	if !ok {
		c = &workerCircuit{state: CircuitClosed}
		r.circuits[workerID] = c
	}
	return c
}

// open transitions a circuit to open (must hold lock).
func (r *CircuitRegistry) open(workerID string, c *workerCircuit) {
	c.state = CircuitOpen
	c.openedAt = r.now()
	observability.RecordCircuitTransition(workerID, string(CircuitOpen))
}

// prune drops failures older than the rolling window (must hold lock).
func (r *CircuitRegistry) prune(c *workerCircuit, now time.Time) {
	if r.window <= 0 {
		return
	}
	cutoff := now.Add(-r.window)
	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failures = kept
}
