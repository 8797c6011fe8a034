// Package config provides core deliberation configuration - NO infrastructure URLs.
//
// This module contains ONLY configuration that is relevant to the deliberation
// protocol and its resilience layer:
//   - Voting thresholds and round limits
//   - Participant caps
//   - Retry, circuit breaker, and budget policy
//
// Infrastructure configuration (worker endpoints, sink paths, exporter
// addresses) is parsed in the cmd bootstrap, never here.
package config

import (
	"fmt"
	"sync"

	"github.com/conclave-systems/deliberation/coreengine/typeutil"
)

// DeliberationConfig holds the voting-protocol configuration.
//
// Every knob here is a policy value, not a hidden constant: deployments tune
// participation-vs-cost tradeoffs by injecting a different config.
type DeliberationConfig struct {
	// Voting thresholds
	ConsensusThreshold   float64 `json:"consensus_threshold"`   // Weighted approval ratio required to pass
	ConvergenceThreshold float64 `json:"convergence_threshold"` // Ratio delta below which voting has stabilized

	// Round limits
	MaxRounds int `json:"max_rounds"`

	// Per-round participant caps. These bound per-round cost and latency,
	// not anything semantic.
	MaxVetoVoters     int `json:"max_veto_voters"`
	MaxAdvisoryVoters int `json:"max_advisory_voters"`

	// Advisory polls are mutually independent once the veto phase has
	// cleared; this enables issuing them concurrently.
	ParallelAdvisoryPolls bool `json:"parallel_advisory_polls"`

	// Worker selection
	VoteWorker      string `json:"vote_worker"`      // Worker id used for persona ballots
	SynthesisWorker string `json:"synthesis_worker"` // Worker id used for proposal revision

	// Token allowances per call
	VoteMaxTokens      int `json:"vote_max_tokens"`
	SynthesisMaxTokens int `json:"synthesis_max_tokens"`
}

// DefaultDeliberationConfig returns a DeliberationConfig with default values.
func DefaultDeliberationConfig() *DeliberationConfig {
	return &DeliberationConfig{
		ConsensusThreshold:    0.66,
		ConvergenceThreshold:  0.05,
		MaxRounds:             5,
		MaxVetoVoters:         3,
		MaxAdvisoryVoters:     3,
		ParallelAdvisoryPolls: true,
		VoteWorker:            "critic",
		SynthesisWorker:       "synthesizer",
		VoteMaxTokens:         400,
		SynthesisMaxTokens:    2000,
	}
}

// Validate checks the config for values that indicate a configuration defect.
func (c *DeliberationConfig) Validate() error {
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus_threshold must be in (0,1], got %v", c.ConsensusThreshold)
	}
	if c.ConvergenceThreshold < 0 {
		return fmt.Errorf("convergence_threshold must be >= 0, got %v", c.ConvergenceThreshold)
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be >= 1, got %d", c.MaxRounds)
	}
	if c.MaxVetoVoters < 0 || c.MaxAdvisoryVoters < 0 {
		return fmt.Errorf("participant caps must be >= 0")
	}
	return nil
}

// DeliberationConfigFromMap creates DeliberationConfig from a map.
// Unknown keys are ignored.
func DeliberationConfigFromMap(m map[string]any) *DeliberationConfig {
	c := DefaultDeliberationConfig()

	c.ConsensusThreshold = typeutil.SafeFloat64Default(m["consensus_threshold"], c.ConsensusThreshold)
	c.ConvergenceThreshold = typeutil.SafeFloat64Default(m["convergence_threshold"], c.ConvergenceThreshold)
	c.MaxRounds = typeutil.SafeIntDefault(m["max_rounds"], c.MaxRounds)
	c.MaxVetoVoters = typeutil.SafeIntDefault(m["max_veto_voters"], c.MaxVetoVoters)
	c.MaxAdvisoryVoters = typeutil.SafeIntDefault(m["max_advisory_voters"], c.MaxAdvisoryVoters)
	c.ParallelAdvisoryPolls = typeutil.SafeBoolDefault(m["parallel_advisory_polls"], c.ParallelAdvisoryPolls)
	c.VoteWorker = typeutil.SafeStringDefault(m["vote_worker"], c.VoteWorker)
	c.SynthesisWorker = typeutil.SafeStringDefault(m["synthesis_worker"], c.SynthesisWorker)
	c.VoteMaxTokens = typeutil.SafeIntDefault(m["vote_max_tokens"], c.VoteMaxTokens)
	c.SynthesisMaxTokens = typeutil.SafeIntDefault(m["synthesis_max_tokens"], c.SynthesisMaxTokens)

	return c
}

// ToMap converts config to a map.
func (c *DeliberationConfig) ToMap() map[string]any {
	return map[string]any{
		"consensus_threshold":     c.ConsensusThreshold,
		"convergence_threshold":   c.ConvergenceThreshold,
		"max_rounds":              c.MaxRounds,
		"max_veto_voters":         c.MaxVetoVoters,
		"max_advisory_voters":     c.MaxAdvisoryVoters,
		"parallel_advisory_polls": c.ParallelAdvisoryPolls,
		"vote_worker":             c.VoteWorker,
		"synthesis_worker":        c.SynthesisWorker,
		"vote_max_tokens":         c.VoteMaxTokens,
		"synthesis_max_tokens":    c.SynthesisMaxTokens,
	}
}

// =============================================================================
// GLOBAL CONFIG (set by deployment bootstrap)
// =============================================================================

var (
	globalDeliberationConfig *DeliberationConfig
	configMu                 sync.RWMutex
)

// GetDeliberationConfig gets the deliberation configuration instance.
// Returns the injected config or defaults.
func GetDeliberationConfig() *DeliberationConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalDeliberationConfig == nil {
		return DefaultDeliberationConfig()
	}
	return globalDeliberationConfig
}

// SetDeliberationConfig sets the deliberation configuration instance.
// Called by the deployment bootstrap after parsing its environment.
func SetDeliberationConfig(config *DeliberationConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalDeliberationConfig = config
}

// ResetDeliberationConfig resets the config to nil (useful for testing).
// After reset, GetDeliberationConfig() will return defaults.
func ResetDeliberationConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalDeliberationConfig = nil
}
