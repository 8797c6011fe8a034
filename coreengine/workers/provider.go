// Package workers defines the worker invocation boundary.
//
// A worker is an external, metered, rate-limited service endpoint invoked for
// a single request/response exchange. The core treats the returned content as
// opaque text; cost accounting comes back with every successful call.
package workers

import "context"

// CallOptions configures a single worker call.
type CallOptions struct {
	// MaxTokens bounds the response size. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CallResult is the successful outcome of a worker call.
type CallResult struct {
	Content   string  `json:"content"`
	Cost      float64 `json:"cost"`
	TokensIn  int     `json:"tokens_in,omitempty"`
	TokensOut int     `json:"tokens_out,omitempty"`
}

// Provider is the interface for worker backends.
//
// Implementations map a worker id to a concrete endpoint and perform one
// request/response exchange. Errors are classified by the resilience layer,
// not here.
type Provider interface {
	Call(ctx context.Context, workerID string, prompt string, opts CallOptions) (*CallResult, error)
}
