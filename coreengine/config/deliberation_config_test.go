package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// DEFAULT CONFIG TESTS
// =============================================================================

func TestDefaultDeliberationConfig(t *testing.T) {
	// Test default values are set correctly.
	config := DefaultDeliberationConfig()

	assert.Equal(t, 0.66, config.ConsensusThreshold)
	assert.Equal(t, 0.05, config.ConvergenceThreshold)
	assert.Equal(t, 5, config.MaxRounds)
	assert.Equal(t, 3, config.MaxVetoVoters)
	assert.Equal(t, 3, config.MaxAdvisoryVoters)
	assert.True(t, config.ParallelAdvisoryPolls)
	assert.Equal(t, "critic", config.VoteWorker)
	assert.Equal(t, "synthesizer", config.SynthesisWorker)

	require.NoError(t, config.Validate())
}

func TestDefaultResilienceConfig(t *testing.T) {
	config := DefaultResilienceConfig()

	assert.Equal(t, 10.0, config.SpendingCap)
	assert.Equal(t, 5, config.FailureThreshold)
	assert.Equal(t, 120, config.CooldownSec)
	assert.Equal(t, 3, config.MaxAttempts)
	assert.Equal(t, 1, config.BackoffBaseSec)
	assert.Equal(t, 100, config.ShrinkSafetyMargin)
	assert.Equal(t, 50, config.MinRequestTokens)

	require.NoError(t, config.Validate())
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestDeliberationConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DeliberationConfig)
		wantErr bool
	}{
		{"defaults are valid", func(c *DeliberationConfig) {}, false},
		{"zero consensus threshold", func(c *DeliberationConfig) { c.ConsensusThreshold = 0 }, true},
		{"consensus threshold above one", func(c *DeliberationConfig) { c.ConsensusThreshold = 1.5 }, true},
		{"negative convergence threshold", func(c *DeliberationConfig) { c.ConvergenceThreshold = -0.1 }, true},
		{"zero max rounds", func(c *DeliberationConfig) { c.MaxRounds = 0 }, true},
		{"negative voter cap", func(c *DeliberationConfig) { c.MaxVetoVoters = -1 }, true},
		{"zero voter caps allowed", func(c *DeliberationConfig) { c.MaxVetoVoters = 0; c.MaxAdvisoryVoters = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultDeliberationConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResilienceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ResilienceConfig)
		wantErr bool
	}{
		{"defaults are valid", func(c *ResilienceConfig) {}, false},
		{"zero spending cap", func(c *ResilienceConfig) { c.SpendingCap = 0 }, true},
		{"zero failure threshold", func(c *ResilienceConfig) { c.FailureThreshold = 0 }, true},
		{"zero max attempts", func(c *ResilienceConfig) { c.MaxAttempts = 0 }, true},
		{"zero request floor", func(c *ResilienceConfig) { c.MinRequestTokens = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultResilienceConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// MAP ROUND-TRIP TESTS
// =============================================================================

func TestDeliberationConfigFromMap(t *testing.T) {
	c := DeliberationConfigFromMap(map[string]any{
		"consensus_threshold":   0.75,
		"convergence_threshold": 0.01,
		"max_rounds":            float64(3), // JSON numbers decode as float64
		"max_advisory_voters":   2,
		"synthesis_worker":      "reviser",
		"unknown_key":           "ignored",
	})

	assert.Equal(t, 0.75, c.ConsensusThreshold)
	assert.Equal(t, 0.01, c.ConvergenceThreshold)
	assert.Equal(t, 3, c.MaxRounds)
	assert.Equal(t, 2, c.MaxAdvisoryVoters)
	assert.Equal(t, "reviser", c.SynthesisWorker)
	// Untouched keys keep defaults
	assert.Equal(t, 3, c.MaxVetoVoters)
}

func TestResilienceConfigFromMap(t *testing.T) {
	c := ResilienceConfigFromMap(map[string]any{
		"spending_cap":     25.0,
		"max_attempts":     float64(5),
		"cooldown_sec":     60,
		"min_request_tokens": 10,
	})

	assert.Equal(t, 25.0, c.SpendingCap)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.Equal(t, 60, c.CooldownSec)
	assert.Equal(t, 10, c.MinRequestTokens)
}

// =============================================================================
// GLOBAL CONFIG TESTS
// =============================================================================

func TestGlobalResilienceConfig(t *testing.T) {
	defer ResetResilienceConfig()

	ResetResilienceConfig()
	assert.Equal(t, DefaultResilienceConfig(), GetResilienceConfig())

	custom := DefaultResilienceConfig()
	custom.SpendingCap = 42.0
	SetResilienceConfig(custom)
	assert.Equal(t, 42.0, GetResilienceConfig().SpendingCap)

	ResetResilienceConfig()
	assert.Equal(t, 10.0, GetResilienceConfig().SpendingCap)
}

func TestGlobalDeliberationConfig(t *testing.T) {
	defer ResetDeliberationConfig()

	// Unset global returns defaults
	ResetDeliberationConfig()
	assert.Equal(t, DefaultDeliberationConfig(), GetDeliberationConfig())

	custom := DefaultDeliberationConfig()
	custom.MaxRounds = 7
	SetDeliberationConfig(custom)
	assert.Equal(t, 7, GetDeliberationConfig().MaxRounds)

	ResetDeliberationConfig()
	assert.Equal(t, 5, GetDeliberationConfig().MaxRounds)
}
