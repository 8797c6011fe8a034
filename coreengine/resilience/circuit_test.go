package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock drives the registry's injectable clock in tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(threshold int, window, cooldown time.Duration) (*CircuitRegistry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewCircuitRegistry(threshold, window, cooldown)
	r.now = clock.Now
	return r, clock
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	r, _ := newTestRegistry(3, 5*time.Minute, 2*time.Minute)

	assert.True(t, r.Closed("critic"))

	r.RecordFailure("critic")
	r.RecordFailure("critic")
	assert.True(t, r.Closed("critic"))
	assert.Equal(t, 2, r.FailureCount("critic"))

	r.RecordFailure("critic")
	assert.False(t, r.Closed("critic"))
	assert.Equal(t, CircuitOpen, r.State("critic"))
}

func TestCircuitCooldownAutoReset(t *testing.T) {
	r, clock := newTestRegistry(2, 5*time.Minute, 2*time.Minute)

	r.RecordFailure("critic")
	r.RecordFailure("critic")
	assert.False(t, r.Closed("critic"))

	// Before cooldown elapses, still blocked
	clock.Advance(time.Minute)
	assert.False(t, r.Closed("critic"))

	// Cooldown elapsed: presumed closed again without a probe call
	clock.Advance(time.Minute)
	assert.True(t, r.Closed("critic"))
	assert.Equal(t, CircuitClosed, r.State("critic"))
	assert.Equal(t, 0, r.FailureCount("critic"))
}

func TestCircuitSuccessResetsFailures(t *testing.T) {
	r, _ := newTestRegistry(3, 5*time.Minute, 2*time.Minute)

	r.RecordFailure("critic")
	r.RecordFailure("critic")
	r.RecordSuccess("critic")
	assert.Equal(t, 0, r.FailureCount("critic"))

	// The counter restarted, so two more failures do not open the circuit
	r.RecordFailure("critic")
	r.RecordFailure("critic")
	assert.True(t, r.Closed("critic"))
}

func TestCircuitRollingWindowPrunesOldFailures(t *testing.T) {
	r, clock := newTestRegistry(3, time.Minute, 2*time.Minute)

	r.RecordFailure("critic")
	r.RecordFailure("critic")

	// Old failures age out of the window
	clock.Advance(2 * time.Minute)
	r.RecordFailure("critic")
	assert.Equal(t, 1, r.FailureCount("critic"))
	assert.True(t, r.Closed("critic"))
}

func TestCircuitExplicitOpen(t *testing.T) {
	r, clock := newTestRegistry(5, 5*time.Minute, time.Minute)

	r.Open("critic")
	assert.False(t, r.Closed("critic"))

	clock.Advance(time.Minute)
	assert.True(t, r.Closed("critic"))
}

func TestCircuitsAreIndependentPerWorker(t *testing.T) {
	r, _ := newTestRegistry(1, 5*time.Minute, time.Minute)

	r.RecordFailure("critic")
	assert.False(t, r.Closed("critic"))
	assert.True(t, r.Closed("synthesizer"))
}
