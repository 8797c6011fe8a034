package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/conclave-systems/deliberation/coreengine/workers"
)

// httpProvider implements workers.Provider against a JSON-over-HTTP worker
// gateway. Worker ids are resolved through the registry so only registered
// endpoints are callable.
type httpProvider struct {
	endpoint string
	token    string
	registry *workers.Registry
	client   *http.Client
}

func newHTTPProvider(endpoint, token string, registry *workers.Registry, timeout time.Duration) *httpProvider {
	return &httpProvider{
		endpoint: endpoint,
		token:    token,
		registry: registry,
		client:   &http.Client{Timeout: timeout},
	}
}

type callRequest struct {
	WorkerID  string `json:"worker_id"`
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type callResponse struct {
	Content   string  `json:"content"`
	Cost      float64 `json:"cost"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	Error     string  `json:"error,omitempty"`
}

// Call implements workers.Provider.
func (p *httpProvider) Call(ctx context.Context, workerID, prompt string, opts workers.CallOptions) (*workers.CallResult, error) {
	desc, ok := p.registry.Resolve(workerID)
	if !ok {
		return nil, fmt.Errorf("unknown worker '%s'", workerID)
	}

	body, err := json.Marshal(callRequest{
		WorkerID:  workerID,
		Model:     desc.Model,
		Prompt:    prompt,
		MaxTokens: opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode worker request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read worker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed callResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode worker response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("worker error: %s", parsed.Error)
	}

	cost := parsed.Cost
	if cost == 0 && desc.CostPer1KTokens > 0 {
		cost = float64(parsed.TokensIn+parsed.TokensOut) / 1000.0 * desc.CostPer1KTokens
	}

	return &workers.CallResult{
		Content:   parsed.Content,
		Cost:      cost,
		TokensIn:  parsed.TokensIn,
		TokensOut: parsed.TokensOut,
	}, nil
}
