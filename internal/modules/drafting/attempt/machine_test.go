package attempt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MaxTimeoutAttempts:      6,
		MaxDraftAttempts:        3,
		DefaultMaxTokens:        8000,
		MinMaxTokens:            1500,
		TokenDecay:              0.75,
		ForceSplitAfterTimeouts: 0,
	}
}

// applyPatch simulates the job system: merge the patch and read state back.
func applyPatch(t *testing.T, payload map[string]any, patch map[string]any) map[string]any {
	t.Helper()
	for k, v := range patch {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestRepeatedTimeoutsShrinkBudgetUntilCeiling(t *testing.T) {
	p := testPolicy()
	payload := map[string]any{"book_id": "b"}

	var budgets []int
	for i := 1; i <= 6; i++ {
		c := FromPayload(payload)
		out, err := p.OnTimeout(c, "draft", false)
		require.NoError(t, err, "timeout %d is within the ceiling", i)
		require.Equal(t, KindYield, out.Kind)
		assert.Equal(t, i, out.Next.TimeoutAttempts)
		budgets = append(budgets, out.Next.MaxTokens)
		payload = applyPatch(t, payload, out.Patch())
	}
	assert.Equal(t, []int{6000, 4500, 3375, 2531, 1898, 1500}, budgets)
	for i := 1; i < 4; i++ {
		assert.Less(t, budgets[i], budgets[i-1])
	}

	_, err := p.OnTimeout(FromPayload(payload), "draft", false)
	require.Error(t, err)
	assert.Equal(t, ErrExhausted, KindOf(err))
	assert.Equal(t, "b", payload["book_id"])
}

func TestTimeoutsForceSplitWhenEligible(t *testing.T) {
	p := testPolicy()
	p.ForceSplitAfterTimeouts = 2

	out, err := p.OnTimeout(Context{}, "draft", true)
	require.NoError(t, err)
	assert.False(t, out.Next.ForceSplit)

	out, err = p.OnTimeout(out.Next, "draft", true)
	require.NoError(t, err)
	assert.True(t, out.Next.ForceSplit)
	assert.Contains(t, out.Message, "split mode")

	out, err = p.OnTimeout(Context{TimeoutAttempts: 4}, "draft", false)
	require.NoError(t, err)
	assert.False(t, out.Next.ForceSplit)
}

func TestValidationFailuresAreIndependentOfTimeouts(t *testing.T) {
	p := testPolicy()
	c := Context{TimeoutAttempts: 2, MaxTokens: 4500}
	hints := []Hint{{Rule: "outline", Message: "outline mismatch: got=1, expected=2"}}

	out, err := p.OnValidationFailure(c, "validate", hints)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Next.DraftAttempts)
	assert.Equal(t, 2, out.Next.TimeoutAttempts)
	assert.Equal(t, 4500, out.Next.MaxTokens)
	assert.Equal(t, hints, out.Next.MustFix)
	assert.Contains(t, out.Message, "got=1, expected=2")

	_, err = p.OnValidationFailure(Context{DraftAttempts: 3}, "validate", hints)
	require.Error(t, err)
	assert.Equal(t, ErrExhausted, KindOf(err))
	assert.ErrorContains(t, err, "outline")
}

func TestPayloadRoundTripKeepsHints(t *testing.T) {
	c := Context{
		TimeoutAttempts: 1,
		DraftAttempts:   2,
		MaxTokens:       6000,
		LastFailure:     "density",
		MustFix:         []Hint{{Rule: "box_placement", Title: "3.1.2 Zorg", Field: "praktijkHtml", Message: "missing"}},
		ForceSplit:      true,
		NextTitle:       "3.1.3 Nazorg",
	}
	back := FromPayload(applyPatch(t, map[string]any{}, c.Patch()))
	assert.Equal(t, c, back)

	assert.Equal(t, Context{}, FromPayload(map[string]any{}))
}

func TestOnNodeDoneResetsDraftState(t *testing.T) {
	p := testPolicy()
	c := Context{DraftAttempts: 2, TimeoutAttempts: 1, MustFix: []Hint{{Rule: "density"}}, LastFailure: "x"}
	out := p.OnNodeDone(c, 2, 8, "3.1.3 Nazorg")
	assert.Equal(t, KindYield, out.Kind)
	assert.Zero(t, out.Next.DraftAttempts)
	assert.Empty(t, out.Next.MustFix)
	assert.Equal(t, 1, out.Next.TimeoutAttempts)
	assert.Equal(t, "3.1.3 Nazorg", out.Next.NextTitle)
}

func TestBudgetDefault(t *testing.T) {
	p := testPolicy()
	assert.Equal(t, 8000, p.Budget(Context{}))
	assert.Equal(t, 2000, p.Budget(Context{MaxTokens: 2000}))
}

func TestFinalFailureSurvivesNodeCompletion(t *testing.T) {
	p := testPolicy()
	hints := []Hint{{Rule: "emphasis", Message: "too few emphasized terms"}}
	c := Context{}
	for i := 1; i <= 3; i++ {
		out, err := p.OnFinalFailure(c, "final_validate", hints)
		require.NoError(t, err)
		assert.Equal(t, i, out.Next.FinalAttempts)
		assert.Equal(t, 1, out.Next.DraftAttempts)
		c = p.OnNodeDone(out.Next, 8, 8, "").Next
		assert.Zero(t, c.DraftAttempts)
		assert.Equal(t, i, c.FinalAttempts)
	}
	_, err := p.OnFinalFailure(c, "final_validate", hints)
	assert.Equal(t, ErrExhausted, KindOf(err))
}
