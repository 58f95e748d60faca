package supervision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajlab/ojd/internal/runbook"
)

func TestNextActionBudgetsEachStepBeforeAdvancingTheChain(t *testing.T) {
	chain := []runbook.ActionConfig{
		{Action: "nudge", Attempts: 2, Message: "keep going"},
		{Action: "escalate"},
	}
	attempts := map[string]int{}

	r, ok := NextAction("idle", chain, attempts)
	require.True(t, ok)
	assert.Equal(t, "nudge", r.Action.Action)
	attempts[r.AttemptKey]++

	r, ok = NextAction("idle", chain, attempts)
	require.True(t, ok)
	assert.Equal(t, "nudge", r.Action.Action, "budget of 2 not yet exhausted")
	attempts[r.AttemptKey]++

	r, ok = NextAction("idle", chain, attempts)
	require.True(t, ok)
	assert.Equal(t, "escalate", r.Action.Action, "nudge budget exhausted, chain advances")
}

func TestNextActionExhaustedChainEscalates(t *testing.T) {
	chain := []runbook.ActionConfig{{Action: "fail", Attempts: 1}}
	attempts := map[string]int{attemptKey("dead", 0): 1}

	_, ok := NextAction("dead", chain, attempts)
	assert.False(t, ok)
}

func TestNextActionDefaultsToOneAttempt(t *testing.T) {
	chain := []runbook.ActionConfig{{Action: "gate", Run: "exit 0"}}
	attempts := map[string]int{}

	r, ok := NextAction("dead", chain, attempts)
	require.True(t, ok)
	attempts[r.AttemptKey]++

	_, ok = NextAction("dead", chain, attempts)
	assert.False(t, ok)
}

func TestPromptSourceRanking(t *testing.T) {
	assert.Equal(t, "Approval", PromptSource("approval"))
	assert.Equal(t, "Question", PromptSource("question"))
	assert.Equal(t, "Plan", PromptSource("plan"))
	assert.Equal(t, "Approval", PromptSource(""))
}
