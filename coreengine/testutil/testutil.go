// Package testutil provides shared test utilities and mocks for integration tests.
//
// All mocks in this package are designed for testing the coreengine components
// in isolation without requiring external worker endpoints.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/conclave-systems/deliberation/coreengine/workers"
)

// =============================================================================
// MOCK WORKER PROVIDER
// =============================================================================

// WorkerCall records a single worker call for assertion.
type WorkerCall struct {
	WorkerID string
	Prompt   string
	Opts     workers.CallOptions
}

// MockWorker implements workers.Provider for testing.
// Configure responses by prompt prefix or use DefaultContent.
type MockWorker struct {
	// Responses maps prompt prefixes to response content.
	// First matching prefix wins.
	Responses map[string]string

	// DefaultContent is returned when no prefix matches.
	DefaultContent string

	// CostPerCall is the cost reported with every successful call.
	CostPerCall float64

	// Delay simulates worker latency.
	Delay time.Duration

	// Errors is a queue of per-call outcomes consumed one entry per call;
	// a nil entry means that call succeeds. Once drained, calls succeed.
	Errors []error

	// CallFunc allows custom call logic.
	// If set, this is called instead of using Responses.
	CallFunc func(ctx context.Context, workerID, prompt string, opts workers.CallOptions) (*workers.CallResult, error)

	// CallCount tracks the number of Call invocations.
	CallCount int

	// Calls records all calls for assertion.
	Calls []WorkerCall

	mu sync.Mutex
}

// NewMockWorker creates a MockWorker with sensible defaults.
func NewMockWorker() *MockWorker {
	return &MockWorker{
		Responses:      make(map[string]string),
		DefaultContent: "APPROVE: looks reasonable",
		CostPerCall:    0.01,
	}
}

// Call implements workers.Provider.
func (m *MockWorker) Call(ctx context.Context, workerID, prompt string, opts workers.CallOptions) (*workers.CallResult, error) {
	m.mu.Lock()
	m.CallCount++
	m.Calls = append(m.Calls, WorkerCall{WorkerID: workerID, Prompt: prompt, Opts: opts})
	customFunc := m.CallFunc
	var queued error
	hasQueued := false
	if len(m.Errors) > 0 {
		queued = m.Errors[0]
		m.Errors = m.Errors[1:]
		hasQueued = true
	}
	m.mu.Unlock()

	// If custom function is set, use it
	if customFunc != nil {
		return customFunc(ctx, workerID, prompt, opts)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if hasQueued && queued != nil {
		return nil, queued
	}

	content := m.content(prompt)
	return &workers.CallResult{
		Content:   content,
		Cost:      m.CostPerCall,
		TokensOut: len(content),
	}, nil
}

// WithResponse adds a prefix-based response.
func (m *MockWorker) WithResponse(prefix, content string) *MockWorker {
	m.Responses[prefix] = content
	return m
}

// WithErrors queues per-call outcomes.
func (m *MockWorker) WithErrors(errs ...error) *MockWorker {
	m.Errors = append(m.Errors, errs...)
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockWorker) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// GetCalls returns a copy of all recorded calls (thread-safe).
func (m *MockWorker) GetCalls() []WorkerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WorkerCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}

func (m *MockWorker) content(prompt string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for prefix, content := range m.Responses {
		if strings.HasPrefix(prompt, prefix) {
			return content
		}
	}
	return m.DefaultContent
}

// =============================================================================
// TEST LOGGER
// =============================================================================

// TestLogger collects log events for assertion.
type TestLogger struct {
	Events []string
	mu     sync.Mutex
}

// NewTestLogger creates an empty TestLogger.
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (l *TestLogger) Debug(msg string, fields ...any) { l.append("DEBUG", msg) }
func (l *TestLogger) Info(msg string, fields ...any)  { l.append("INFO", msg) }
func (l *TestLogger) Warn(msg string, fields ...any)  { l.append("WARN", msg) }
func (l *TestLogger) Error(msg string, fields ...any) { l.append("ERROR", msg) }

// Contains reports whether any event matches the given message.
func (l *TestLogger) Contains(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.Events {
		if strings.Contains(e, msg) {
			return true
		}
	}
	return false
}

func (l *TestLogger) append(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Events = append(l.Events, level+": "+msg)
}

// =============================================================================
// FAKE SLEEPER
// =============================================================================

// SleepRecorder records sleep requests instead of sleeping.
// Swap it in for the invoker's sleep function to make backoff tests instant.
type SleepRecorder struct {
	Slept []time.Duration
	mu    sync.Mutex
}

// Sleep records the requested duration and returns immediately.
func (s *SleepRecorder) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Slept = append(s.Slept, d)
}

// Total returns the cumulative requested sleep.
func (s *SleepRecorder) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.Slept {
		total += d
	}
	return total
}
