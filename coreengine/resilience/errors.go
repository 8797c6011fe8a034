package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// WorkerUnavailableError is returned when a worker's circuit is open.
// Never retried.
type WorkerUnavailableError struct {
	WorkerID string
}

func (e *WorkerUnavailableError) Error() string {
	return fmt.Sprintf("worker '%s' unavailable: circuit open", e.WorkerID)
}

// NewWorkerUnavailableError creates a new WorkerUnavailableError.
func NewWorkerUnavailableError(workerID string) *WorkerUnavailableError {
	return &WorkerUnavailableError{WorkerID: workerID}
}

// BudgetExhaustedError is returned when the spending cap has been reached.
// Never retried; callers may choose a lenient fallback at a higher layer.
type BudgetExhaustedError struct {
	Remaining float64
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted: %.4f remaining", e.Remaining)
}

// NewBudgetExhaustedError creates a new BudgetExhaustedError.
func NewBudgetExhaustedError(remaining float64) *BudgetExhaustedError {
	return &BudgetExhaustedError{Remaining: remaining}
}

// InvocationError is the final error for a logical worker call, wrapping the
// last observed failure after retries were exhausted or a fatal error hit.
type InvocationError struct {
	WorkerID string
	Attempts int
	Cause    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("worker '%s' failed after %d attempt(s): %v", e.WorkerID, e.Attempts, e.Cause)
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// FAILURE CLASSIFICATION
// =============================================================================

// failureClass buckets a worker call failure for retry policy.
type failureClass int

const (
	// classFatal failures are not retried.
	classFatal failureClass = iota
	// classTransient failures are retried with backoff.
	classTransient
	// classTooLarge failures shrink the request and retry.
	classTooLarge
)

func (c failureClass) String() string {
	switch c {
	case classTransient:
		return "transient"
	case classTooLarge:
		return "request_too_large"
	default:
		return "fatal"
	}
}

// affordablePattern matches an affordability limit reported by the worker,
// e.g. "can only afford 400 tokens".
var affordablePattern = regexp.MustCompile(`(?i)afford[^0-9]*([0-9]+)`)

// transientMarkers are error-text fragments treated as retriable.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection",
	"overloaded",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
}

// classify buckets an error and, for too-large failures, extracts the
// affordable request size reported by the worker.
func classify(err error) (failureClass, int) {
	if err == nil {
		return classFatal, 0
	}

	text := err.Error()
	if m := affordablePattern.FindStringSubmatch(text); m != nil {
		affordable, convErr := strconv.Atoi(m[1])
		if convErr == nil {
			return classTooLarge, affordable
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return classTransient, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return classTransient, 0
	}

	lower := strings.ToLower(text)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return classTransient, 0
		}
	}

	return classFatal, 0
}
