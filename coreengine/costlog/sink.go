// Package costlog provides the append-only error and cost event sink.
//
// The sink is strictly fire-and-forget: a failure to record an event must
// never affect core control flow. Implementations swallow their own errors.
package costlog

import (
	"sync"
	"time"
)

// Record is a single structured sink entry.
type Record struct {
	Kind     string    `json:"kind"` // "error" or "cost"
	Context  string    `json:"context"`
	WorkerID string    `json:"worker_id,omitempty"`
	Error    string    `json:"error,omitempty"`
	Cost     float64   `json:"cost,omitempty"`
	Time     time.Time `json:"time"`
}

// Sink receives error and cost events. Implementations must be safe for
// concurrent use and must not propagate their own failures.
type Sink interface {
	RecordError(context string, err error)
	RecordCost(workerID string, cost float64)
}

// =============================================================================
// NOP SINK
// =============================================================================

// NopSink discards every event.
type NopSink struct{}

func (NopSink) RecordError(string, error)  {}
func (NopSink) RecordCost(string, float64) {}

// =============================================================================
// MEMORY SINK
// =============================================================================

// MemorySink keeps records in memory. Intended for tests and short-lived
// tooling.
type MemorySink struct {
	records []Record
	mu      sync.Mutex
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// RecordError implements Sink.
func (s *MemorySink) RecordError(context string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.append(Record{Kind: "error", Context: context, Error: msg, Time: time.Now().UTC()})
}

// RecordCost implements Sink.
func (s *MemorySink) RecordCost(workerID string, cost float64) {
	s.append(Record{Kind: "cost", WorkerID: workerID, Cost: cost, Time: time.Now().UTC()})
}

// Records returns a copy of all recorded entries.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *MemorySink) append(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}
