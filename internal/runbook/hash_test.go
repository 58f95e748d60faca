package runbook

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"
)

// TestHashRoundTripLaw exercises the hash round-trip law:
// hash(parse(serialize(parse(r)))) == hash(parse(r)). Serializing a
// runbook and re-parsing it must never change its content address.
func TestHashRoundTripLaw(t *testing.T) {
	r := &Runbook{
		Version: 1,
		Jobs: map[string]Job{
			"build": {Steps: []Step{
				{Name: "compile", Run: &RunTarget{Shell: "make"}, OnFail: "failed"},
				{Name: "test", Run: &RunTarget{Shell: "make test"}},
			}},
		},
		Agents: map[string]Agent{
			"coder": {Kind: "claude", Start: "begin", OnIdle: []ActionConfig{{Action: "escalate", Cooldown: "30s"}}},
		},
		Queues: map[string]Queue{
			"bugs": {Type: QueuePersisted},
		},
		Workers: map[string]Worker{
			"fixer": {Queue: "bugs", Job: "build", Concurrency: 2, Retry: &RetrySpec{Attempts: 3, Cooldown: "10s"}},
		},
	}

	h1, err := Hash(r)
	require.NoError(t, err)

	serialized, err := toml.Marshal(r)
	require.NoError(t, err)

	var r2 Runbook
	require.NoError(t, toml.Unmarshal(serialized, &r2))

	h2, err := Hash(&r2)
	require.NoError(t, err)

	require.Equal(t, h1, h2, "hash must be stable across a serialize/parse round trip")
}

// A hash is only a function of content: two structurally identical
// runbooks built independently hash the same.
func TestHashIsDeterministicAcrossEquivalentValues(t *testing.T) {
	build := func() *Runbook {
		return &Runbook{
			Version: 1,
			Jobs: map[string]Job{
				"build": {Steps: []Step{{Name: "run", Run: &RunTarget{Shell: "echo hi"}}}},
			},
		}
	}
	h1, err := Hash(build())
	require.NoError(t, err)
	h2, err := Hash(build())
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

// A change to runbook content changes the hash.
func TestHashChangesWithContent(t *testing.T) {
	a := &Runbook{Jobs: map[string]Job{"build": {Steps: []Step{{Name: "run", Run: &RunTarget{Shell: "echo a"}}}}}}
	b := &Runbook{Jobs: map[string]Job{"build": {Steps: []Step{{Name: "run", Run: &RunTarget{Shell: "echo b"}}}}}}
	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)
}
