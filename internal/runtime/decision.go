package runtime

import (
	"strings"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/state"
)

// onDecisionResolve is the client-initiated request: a decision that's
// already resolved or superseded is a no-op so a double-submit (e.g. a
// race between two CLI clients) can't resolve it twice.
func (rt *Runtime) onDecisionResolve(e *event.DecisionResolve, nowMs int64) []effect.Effect {
	d := rt.State.Decisions[string(e.ID)]
	if d == nil || d.Resolved || d.SupersededBy != "" {
		return nil
	}
	return []effect.Effect{effect.Emit{Event: &event.DecisionResolved{
		ID: e.ID, Choices: e.Choices, Message: e.Message, ResolvedAtMs: nowMs,
	}}}
}

// onDecisionResolved delivers the human's answer to the waiting agent:
// the choice/message becomes the agent's next input, same as any other
// nudge. The owner's own transition out of Waiting already happened when
// state.Apply folded the resolution in.
func (rt *Runtime) onDecisionResolved(e *event.DecisionResolved, nowMs int64) []effect.Effect {
	d := rt.State.Decisions[string(e.ID)]
	if d == nil {
		return nil
	}
	agentID := rt.currentAgentID(d.Owner)
	if agentID == "" {
		return nil
	}
	rec := rt.State.Agents[agentID]
	if rec == nil {
		return nil
	}
	switch rec.Status {
	case state.AgentExited, state.AgentGone, state.AgentFailed:
		return nil // nothing left to deliver the answer to
	}
	msg := e.Message
	if msg == "" && len(e.Choices) > 0 {
		msg = strings.Join(e.Choices, ", ")
	}
	return []effect.Effect{effect.SendToAgent{AgentID: agentID, Input: msg}}
}
