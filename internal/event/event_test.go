package event

import (
	"reflect"
	"testing"

	"github.com/ajlab/ojd/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEveryRegisteredKindRoundTrips drives the WAL's serialize/deserialize
// law across every event kind registered with the package: encoding
// a zero-value instance and decoding it back must reproduce an
// equivalent value and the original Kind string, for every variant the
// WAL might ever need to replay.
func TestEveryRegisteredKindRoundTrips(t *testing.T) {
	require.NotEmpty(t, registry, "the event registry must not be empty")
	for kind, factory := range registry {
		kind, factory := kind, factory
		t.Run(kind, func(t *testing.T) {
			original := factory()
			assert.Equal(t, kind, original.Kind())

			env, err := Encode(original)
			require.NoError(t, err)
			assert.Equal(t, kind, env.Kind)

			decoded, err := Decode(env)
			require.NoError(t, err)
			assert.True(t, reflect.DeepEqual(original, decoded), "round trip mismatch for %s: %+v != %+v", kind, original, decoded)
		})
	}
}

// TestPopulatedInstancesRoundTrip exercises a representative sample of
// event kinds with populated fields (not just zero values), covering
// the kinds the runtime scenarios actually emit.
func TestPopulatedInstancesRoundTrip(t *testing.T) {
	cases := []Event{
		&JobCreated{
			ID: ids.NewJobID(), Kind_: "build", Name: "build", Project: "proj", Cwd: "/tmp",
			RunbookHash: "abc123", Vars: map[string]string{"branch": "main"}, CreatedAtMs: 42,
		},
		&ShellExited{Owner: "job:abc", Step: "run", ExitCode: 1, Stdout: "out", Stderr: "err"},
		&StepFailed{JobID: ids.NewJobID(), Step: "run", Error: "boom"},
		&AgentPrompt{AgentID: ids.NewAgentID(), Type: PromptQuestion, Context: "which path?", Options: []string{"a", "b"}},
		&AgentSignal{AgentID: ids.NewAgentID(), Kind_: SignalEscalate, Message: "need help"},
		&DecisionCreated{
			ID: ids.NewDecisionID(), AgentID: "agent-1", OwnerKind: "job", OwnerID: "job-1",
			Source: "Question", Context: "ctx", Options: []string{"x"}, CreatedAtMs: 7, Project: "proj",
		},
		&DecisionResolve{ID: ids.NewDecisionID(), Choices: []string{"yes"}, Message: "ok"},
		&QueuePushed{Queue: "bugs", Project: "proj", ItemID: "item-1", Data: map[string]string{"k": "v"}, PushedAt: 99},
		&WorkerStarted{
			Name: "fixer", Project: "proj", ProjectPath: "/repo", RunbookHash: "h1",
			Concurrency: 2, QueueName: "bugs", QueueType: "persisted", JobKind: "build",
			RetryAttempts: 3, RetryCooldown: "10s",
		},
		&TimerStart{ID: "queue_retry:proj:bugs:item-1"},
	}

	for _, original := range cases {
		t.Run(original.Kind(), func(t *testing.T) {
			env, err := Encode(original)
			require.NoError(t, err)

			decoded, err := Decode(env)
			require.NoError(t, err)
			assert.Equal(t, original, decoded)
		})
	}
}

// Decoding an envelope with an unregistered kind fails loudly rather
// than silently dropping the event.
func TestDecodeUnknownKindErrors(t *testing.T) {
	_, err := Decode(Envelope{Kind: "NotARealEvent", Payload: []byte(`{}`)})
	assert.Error(t, err)
}
