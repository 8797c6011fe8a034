package config

import (
	"fmt"

	"github.com/conclave-systems/deliberation/coreengine/typeutil"
)

// ResilienceConfig holds retry, circuit breaker, and budget policy.
//
// These values govern every worker call issued by the core; they are shared
// by all concurrent deliberation sessions in the process.
type ResilienceConfig struct {
	// Budget
	SpendingCap float64 `json:"spending_cap"` // Hard cap on cumulative spend (USD)

	// Circuit breaker
	FailureThreshold int `json:"failure_threshold"` // Failures within the window before the circuit opens
	FailureWindowSec int `json:"failure_window_sec"` // Rolling window for counting failures
	CooldownSec      int `json:"cooldown_sec"`       // Seconds before an open circuit is presumed closed

	// Retry
	MaxAttempts    int `json:"max_attempts"`     // Total attempts per logical call
	BackoffBaseSec int `json:"backoff_base_sec"` // Sleep before attempt n is base * 2^(n-1)

	// Adaptive request shrinking
	ShrinkSafetyMargin int `json:"shrink_safety_margin"` // Subtracted from the reported affordable size
	MinRequestTokens   int `json:"min_request_tokens"`   // Hard floor for the shrunken request size

	// Per-call timeout (seconds)
	CallTimeoutSec int `json:"call_timeout_sec"`
}

// DefaultResilienceConfig returns a ResilienceConfig with default values.
func DefaultResilienceConfig() *ResilienceConfig {
	return &ResilienceConfig{
		SpendingCap:        10.0,
		FailureThreshold:   5,
		FailureWindowSec:   300,
		CooldownSec:        120,
		MaxAttempts:        3,
		BackoffBaseSec:     1,
		ShrinkSafetyMargin: 100,
		MinRequestTokens:   50,
		CallTimeoutSec:     60,
	}
}

// Validate checks the config for values that indicate a configuration defect.
func (c *ResilienceConfig) Validate() error {
	if c.SpendingCap <= 0 {
		return fmt.Errorf("spending_cap must be > 0, got %v", c.SpendingCap)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.MinRequestTokens < 1 {
		return fmt.Errorf("min_request_tokens must be >= 1, got %d", c.MinRequestTokens)
	}
	return nil
}

// ResilienceConfigFromMap creates ResilienceConfig from a map.
// Unknown keys are ignored.
func ResilienceConfigFromMap(m map[string]any) *ResilienceConfig {
	c := DefaultResilienceConfig()

	c.SpendingCap = typeutil.SafeFloat64Default(m["spending_cap"], c.SpendingCap)
	intKeys := map[string]*int{
		"failure_threshold":    &c.FailureThreshold,
		"failure_window_sec":   &c.FailureWindowSec,
		"cooldown_sec":         &c.CooldownSec,
		"max_attempts":         &c.MaxAttempts,
		"backoff_base_sec":     &c.BackoffBaseSec,
		"shrink_safety_margin": &c.ShrinkSafetyMargin,
		"min_request_tokens":   &c.MinRequestTokens,
		"call_timeout_sec":     &c.CallTimeoutSec,
	}
	for key, dst := range intKeys {
		*dst = typeutil.SafeIntDefault(m[key], *dst)
	}

	return c
}

// =============================================================================
// GLOBAL CONFIG (set by deployment bootstrap)
// =============================================================================

var globalResilienceConfig *ResilienceConfig

// GetResilienceConfig gets the resilience configuration instance.
// Returns the injected config or defaults.
func GetResilienceConfig() *ResilienceConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalResilienceConfig == nil {
		return DefaultResilienceConfig()
	}
	return globalResilienceConfig
}

// SetResilienceConfig sets the resilience configuration instance.
// Called by the deployment bootstrap after parsing its environment.
func SetResilienceConfig(config *ResilienceConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalResilienceConfig = config
}

// ResetResilienceConfig resets the config to nil (useful for testing).
// After reset, GetResilienceConfig() will return defaults.
func ResetResilienceConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalResilienceConfig = nil
}

// ToMap converts config to a map.
func (c *ResilienceConfig) ToMap() map[string]any {
	return map[string]any{
		"spending_cap":         c.SpendingCap,
		"failure_threshold":    c.FailureThreshold,
		"failure_window_sec":   c.FailureWindowSec,
		"cooldown_sec":         c.CooldownSec,
		"max_attempts":         c.MaxAttempts,
		"backoff_base_sec":     c.BackoffBaseSec,
		"shrink_safety_margin": c.ShrinkSafetyMargin,
		"min_request_tokens":   c.MinRequestTokens,
		"call_timeout_sec":     c.CallTimeoutSec,
	}
}
