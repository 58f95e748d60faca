package runtime

import (
	"testing"

	"github.com/ajlab/ojd/internal/runbook"
	"github.com/stretchr/testify/assert"
)

func TestDeriveStopModeEmptyChainAllows(t *testing.T) {
	assert.Equal(t, "allow", deriveStopMode(nil))
}

func TestDeriveStopModeDoneOrFailAllows(t *testing.T) {
	assert.Equal(t, "allow", deriveStopMode([]runbook.ActionConfig{{Action: "done"}}))
	assert.Equal(t, "allow", deriveStopMode([]runbook.ActionConfig{{Action: "fail"}}))
}

func TestDeriveStopModeAutoPassesThrough(t *testing.T) {
	assert.Equal(t, "auto", deriveStopMode([]runbook.ActionConfig{{Action: "auto"}}))
}

func TestDeriveStopModeEscalationChainGates(t *testing.T) {
	for _, action := range []string{"nudge", "gate", "resume", "escalate"} {
		assert.Equal(t, "gate", deriveStopMode([]runbook.ActionConfig{{Action: action}}), action)
	}
}

func TestResolveAgentSpawnFallsBackToAgentNameWhenRunbookMissing(t *testing.T) {
	rt := &Runtime{Runbooks: runbook.NewCache()}
	kind, agentRuntime, stop, prime := rt.resolveAgentSpawn("missing-hash", "coder")
	assert.Equal(t, "coder", kind)
	assert.Equal(t, "coop", agentRuntime)
	assert.Equal(t, "gate", stop)
	assert.Equal(t, "", prime)
}

func TestResolveAgentSpawnUsesRunbookAgentDefinition(t *testing.T) {
	rb := &runbook.Runbook{
		Hash: "h1",
		Agents: map[string]runbook.Agent{
			"coder": {Kind: "claude", Start: "begin", OnIdle: []runbook.ActionConfig{{Action: "escalate"}}},
		},
	}
	cache := runbook.NewCache()
	cache.Put(rb)
	rt := &Runtime{Runbooks: cache}

	kind, agentRuntime, stop, prime := rt.resolveAgentSpawn("h1", "coder")
	assert.Equal(t, "claude", kind)
	assert.Equal(t, "coop", agentRuntime, "an agent with no runtime declaration runs as a coop subprocess")
	assert.Equal(t, "gate", stop)
	assert.Equal(t, "begin", prime)
}

func TestResolveAgentSpawnHonorsDeclaredRuntime(t *testing.T) {
	rb := &runbook.Runbook{
		Hash: "h2",
		Agents: map[string]runbook.Agent{
			"builder": {Kind: "claude", Runtime: "docker"},
		},
	}
	cache := runbook.NewCache()
	cache.Put(rb)
	rt := &Runtime{Runbooks: cache}

	_, agentRuntime, _, _ := rt.resolveAgentSpawn("h2", "builder")
	assert.Equal(t, "docker", agentRuntime)
}
