package review

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/conclave-systems/deliberation/coreengine/config"
	"github.com/conclave-systems/deliberation/coreengine/persona"
	"github.com/conclave-systems/deliberation/coreengine/testutil"
	"github.com/conclave-systems/deliberation/coreengine/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ballotInvoker scripts per-persona ballots. It extracts the persona name
// from the ballot prompt so tests can direct each vote independently.
type ballotInvoker struct {
	ballots map[string]string // persona name -> worker output
	errs    map[string]error  // persona name -> invocation failure
	panics  map[string]bool   // persona name -> panic instead of returning

	mu     sync.Mutex
	polled []string
}

func newBallotInvoker() *ballotInvoker {
	return &ballotInvoker{
		ballots: make(map[string]string),
		errs:    make(map[string]error),
		panics:  make(map[string]bool),
	}
}

func (b *ballotInvoker) Invoke(ctx context.Context, workerID, prompt string, opts workers.CallOptions) (*workers.CallResult, error) {
	name := personaFromPrompt(prompt)

	b.mu.Lock()
	b.polled = append(b.polled, name)
	b.mu.Unlock()

	if b.panics[name] {
		panic("scripted provider panic")
	}
	if err, ok := b.errs[name]; ok {
		return nil, err
	}
	content, ok := b.ballots[name]
	if !ok {
		content = "APPROVE: no objection"
	}
	return &workers.CallResult{Content: content, Cost: 0.01}, nil
}

func (b *ballotInvoker) polledNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.polled))
	copy(out, b.polled)
	return out
}

func personaFromPrompt(prompt string) string {
	const marker = "You are "
	rest := strings.TrimPrefix(prompt, marker)
	if i := strings.Index(rest, "."); i >= 0 {
		return rest[:i]
	}
	return rest
}

// testRegistry is four personas: two vetoers, two advisors, cast weight 1.1.
func testRegistry() persona.Registry {
	return persona.Registry{
		{Name: "architect", Weight: 0.5, Veto: true, Directive: "Guard structural integrity"},
		{Name: "security", Weight: 0.3, Veto: true, Directive: "Reject anything that widens attack surface"},
		{Name: "pragmatist", Weight: 0.2, Directive: "Prefer the simplest workable change"},
		{Name: "stylist", Weight: 0.1, Directive: "Enforce house style"},
	}
}

func newTestReviewer(t *testing.T, invoker WorkerInvoker, cfg *config.DeliberationConfig) *Reviewer {
	t.Helper()
	r, err := NewReviewer(invoker, cfg, testutil.NewTestLogger())
	require.NoError(t, err)
	return r
}

// =============================================================================
// CONSTRUCTION TESTS
// =============================================================================

func TestNewReviewerRequiresInvoker(t *testing.T) {
	_, err := NewReviewer(nil, nil, testutil.NewTestLogger())
	assert.Error(t, err)
}

func TestNewReviewerRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultDeliberationConfig()
	cfg.ConsensusThreshold = 0

	_, err := NewReviewer(newBallotInvoker(), cfg, testutil.NewTestLogger())
	assert.Error(t, err)
}

func TestReviewRejectsMalformedRegistry(t *testing.T) {
	r := newTestReviewer(t, newBallotInvoker(), nil)

	bad := persona.Registry{
		{Name: "dup", Weight: 0.5},
		{Name: "dup", Weight: 0.5},
	}
	_, err := r.Review(context.Background(), "orig", "prop", bad)
	assert.Error(t, err)
}

// =============================================================================
// VETO TESTS
// =============================================================================

func TestReviewVetoShortCircuits(t *testing.T) {
	invoker := newBallotInvoker()
	invoker.ballots["architect"] = "REJECT: breaks the layering contract"
	r := newTestReviewer(t, invoker, nil)

	result, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)

	assert.True(t, result.Vetoed())
	assert.Equal(t, []string{"architect"}, result.VetoedBy)
	assert.Equal(t, VerdictRejected, result.Verdict)

	// Only the vetoing persona was polled; everyone after it was spared.
	assert.Equal(t, []string{"architect"}, invoker.polledNames())
	require.Len(t, result.Votes, 1)
	assert.True(t, result.Votes[0].Veto)
	assert.Contains(t, result.Votes[0].Reason, "layering")
}

func TestReviewSecondVetoerCanVeto(t *testing.T) {
	invoker := newBallotInvoker()
	invoker.ballots["security"] = "REJECT: widens the attack surface"
	r := newTestReviewer(t, invoker, nil)

	result, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)

	assert.Equal(t, []string{"security"}, result.VetoedBy)
	// Architect was polled first and approved; advisors were never reached.
	assert.Equal(t, []string{"architect", "security"}, invoker.polledNames())
	require.Len(t, result.Votes, 2)
}

func TestReviewAdvisoryRejectIsNotAVeto(t *testing.T) {
	invoker := newBallotInvoker()
	invoker.ballots["pragmatist"] = "REJECT: over-engineered"
	r := newTestReviewer(t, invoker, nil)

	result, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)

	assert.False(t, result.Vetoed())
	// 0.5 + 0.3 + 0.1 approving out of 1.1 cast
	assert.InDelta(t, 0.9/1.1, result.ConsensusRatio, 1e-9)
	assert.Equal(t, VerdictApproved, result.Verdict)
}

// =============================================================================
// TALLY TESTS
// =============================================================================

func TestReviewWeightedTally(t *testing.T) {
	// 0.5 + 0.2 approving out of 1.0 cast: 0.70 >= 0.66 passes.
	registry := persona.Registry{
		{Name: "architect", Weight: 0.5, Veto: true, Directive: "a"},
		{Name: "security", Weight: 0.3, Veto: true, Directive: "b"},
		{Name: "pragmatist", Weight: 0.2, Directive: "c"},
	}
	invoker := newBallotInvoker()
	invoker.ballots["security"] = "REJECT"
	// A veto reject would short-circuit; strip veto power to exercise the tally.
	registry[1].Veto = false

	r := newTestReviewer(t, invoker, nil)
	result, err := r.Review(context.Background(), "orig", "prop", registry)
	require.NoError(t, err)

	assert.InDelta(t, 0.70, result.ConsensusRatio, 1e-9)
	assert.Equal(t, VerdictApproved, result.Verdict)
}

func TestReviewBelowThresholdRejects(t *testing.T) {
	registry := persona.Registry{
		{Name: "architect", Weight: 0.5, Directive: "a"},
		{Name: "security", Weight: 0.5, Directive: "b"},
	}
	invoker := newBallotInvoker()
	invoker.ballots["security"] = "REJECT: no"

	r := newTestReviewer(t, invoker, nil)
	result, err := r.Review(context.Background(), "orig", "prop", registry)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.ConsensusRatio, 1e-9)
	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.False(t, result.Vetoed())
	assert.Equal(t, []string{"no"}, result.RejectionReasons())
}

func TestReviewNoVotersYieldsZeroRatio(t *testing.T) {
	cfg := config.DefaultDeliberationConfig()
	cfg.MaxVetoVoters = 0
	cfg.MaxAdvisoryVoters = 0
	invoker := newBallotInvoker()

	r := newTestReviewer(t, invoker, cfg)
	result, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)

	assert.Empty(t, result.Votes)
	assert.Zero(t, result.ConsensusRatio)
	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Empty(t, invoker.polledNames())
}

// =============================================================================
// LENIENCY TESTS
// =============================================================================

func TestReviewUnreachableAdvisorDefaultsToApprove(t *testing.T) {
	invoker := newBallotInvoker()
	invoker.errs["stylist"] = errors.New("worker pool drained")
	r := newTestReviewer(t, invoker, nil)

	result, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)
	assert.Equal(t, VerdictApproved, result.Verdict)

	var stylist *Vote
	for i := range result.Votes {
		if result.Votes[i].PersonaName == "stylist" {
			stylist = &result.Votes[i]
		}
	}
	require.NotNil(t, stylist)
	assert.True(t, stylist.Approve)
	assert.False(t, stylist.Reachable)
	assert.False(t, stylist.Veto)
}

func TestReviewUnreachableVetoerCannotVeto(t *testing.T) {
	invoker := newBallotInvoker()
	invoker.errs["architect"] = errors.New("status 503")
	r := newTestReviewer(t, invoker, nil)

	result, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)

	assert.False(t, result.Vetoed())
	assert.Equal(t, VerdictApproved, result.Verdict)
	assert.False(t, result.Votes[0].Reachable)
	// The default-approve vote still carries the persona's weight.
	assert.Equal(t, 0.5, result.Votes[0].Weight)
}

func TestReviewPanickingProviderBecomesLenientVote(t *testing.T) {
	invoker := newBallotInvoker()
	invoker.panics["pragmatist"] = true
	r := newTestReviewer(t, invoker, nil)

	result, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)
	assert.Equal(t, VerdictApproved, result.Verdict)

	for _, v := range result.Votes {
		if v.PersonaName == "pragmatist" {
			assert.True(t, v.Approve)
			assert.False(t, v.Reachable)
		}
	}
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

// cancellingInvoker cancels the round's context after a fixed number of
// calls, failing that call and every later one with the context's error.
type cancellingInvoker struct {
	cancel context.CancelFunc
	after  int

	mu    sync.Mutex
	calls int
}

func (c *cancellingInvoker) Invoke(ctx context.Context, workerID, prompt string, opts workers.CallOptions) (*workers.CallResult, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()

	if n >= c.after {
		c.cancel()
		return nil, ctx.Err()
	}
	return &workers.CallResult{Content: "APPROVE: fine", Cost: 0.01}, nil
}

func TestReviewCancelledContextPropagates(t *testing.T) {
	r := newTestReviewer(t, newBallotInvoker(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Review(ctx, "orig", "prop", testRegistry())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

func TestReviewCancellationMidRoundDoesNotApprove(t *testing.T) {
	// Unreachable-persona leniency must not turn a cancelled round into an
	// approval no persona was consulted for.
	ctx, cancel := context.WithCancel(context.Background())
	invoker := &cancellingInvoker{cancel: cancel, after: 1}
	r := newTestReviewer(t, invoker, nil)

	result, err := r.Review(ctx, "orig", "prop", testRegistry())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

func TestReviewCancellationDuringAdvisoryPhaseDoesNotApprove(t *testing.T) {
	// Veto phase clears, then the caller cancels while advisors are polled.
	ctx, cancel := context.WithCancel(context.Background())
	invoker := &cancellingInvoker{cancel: cancel, after: 3}
	r := newTestReviewer(t, invoker, nil)

	result, err := r.Review(ctx, "orig", "prop", testRegistry())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

// =============================================================================
// CAPS & ORDERING TESTS
// =============================================================================

func TestReviewHonorsParticipantCaps(t *testing.T) {
	cfg := config.DefaultDeliberationConfig()
	cfg.MaxVetoVoters = 1
	cfg.MaxAdvisoryVoters = 1
	cfg.ParallelAdvisoryPolls = false
	invoker := newBallotInvoker()

	r := newTestReviewer(t, invoker, cfg)
	result, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)

	// First vetoer and first advisor only, in registry order.
	assert.Equal(t, []string{"architect", "pragmatist"}, invoker.polledNames())
	require.Len(t, result.Votes, 2)
	assert.Equal(t, "architect", result.Votes[0].PersonaName)
	assert.Equal(t, "pragmatist", result.Votes[1].PersonaName)
}

func TestReviewParallelPollsPreserveVoteOrder(t *testing.T) {
	registry := persona.Registry{
		{Name: "a", Weight: 0.4, Directive: "x"},
		{Name: "b", Weight: 0.3, Directive: "y"},
		{Name: "c", Weight: 0.3, Directive: "z"},
	}
	cfg := config.DefaultDeliberationConfig()
	cfg.ParallelAdvisoryPolls = true

	r := newTestReviewer(t, newBallotInvoker(), cfg)
	result, err := r.Review(context.Background(), "orig", "prop", registry)
	require.NoError(t, err)

	require.Len(t, result.Votes, 3)
	assert.Equal(t, "a", result.Votes[0].PersonaName)
	assert.Equal(t, "b", result.Votes[1].PersonaName)
	assert.Equal(t, "c", result.Votes[2].PersonaName)
}

func TestReviewIsDeterministicForScriptedBallots(t *testing.T) {
	invoker := newBallotInvoker()
	invoker.ballots["pragmatist"] = "REJECT: too clever"

	r := newTestReviewer(t, invoker, nil)

	first, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)
	second, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)

	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Equal(t, first.ConsensusRatio, second.ConsensusRatio)
	assert.Equal(t, first.Votes, second.Votes)
}

// =============================================================================
// COST TESTS
// =============================================================================

func TestReviewAggregatesRoundCost(t *testing.T) {
	invoker := newBallotInvoker()
	r := newTestReviewer(t, invoker, nil)

	result, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)

	// Four polls at 0.01 each.
	assert.InDelta(t, 0.04, result.Cost, 1e-9)
}

func TestReviewUnreachableVoteCostsNothing(t *testing.T) {
	invoker := newBallotInvoker()
	invoker.errs["stylist"] = errors.New("timeout")
	r := newTestReviewer(t, invoker, nil)

	result, err := r.Review(context.Background(), "orig", "prop", testRegistry())
	require.NoError(t, err)

	assert.InDelta(t, 0.03, result.Cost, 1e-9)
}

// =============================================================================
// BALLOT PARSING TESTS
// =============================================================================

func TestParseBallot(t *testing.T) {
	tests := []struct {
		name    string
		content string
		approve bool
	}{
		{"plain approve", "APPROVE", true},
		{"approve with reason", "APPROVE: solid change", true},
		{"lowercase", "approve - fine by me", true},
		{"approved variant", "Approved. Ship it.", true},
		{"reject", "REJECT: breaks compatibility", false},
		{"empty", "", false},
		{"garbage", "I am not sure what to think", false},
		{"approve mentioned later", "I cannot APPROVE this", false},
		{"leading whitespace", "  APPROVE\nlooks good", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			approve, _ := parseBallot(tt.content)
			assert.Equal(t, tt.approve, approve)
		})
	}
}

func TestParseBallotExtractsReason(t *testing.T) {
	approve, reason := parseBallot("REJECT: introduces a data race")
	assert.False(t, approve)
	assert.Equal(t, "introduces a data race", reason)
}

func TestBuildBallotPromptIncludesDirectiveAndTexts(t *testing.T) {
	p := persona.Persona{Name: "security", Weight: 0.3, Directive: "Reject unsafe input handling"}
	prompt := buildBallotPrompt(p, "the original", "the proposal")

	assert.Contains(t, prompt, "You are security.")
	assert.Contains(t, prompt, "Reject unsafe input handling")
	assert.Contains(t, prompt, "the original")
	assert.Contains(t, prompt, "the proposal")
	assert.Contains(t, prompt, "APPROVE or REJECT")
}
