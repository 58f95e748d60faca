// Package supervision implements the pure policy decisions behind agent
// supervision: mapping a liveness/idle/dead/approval trigger onto the
// next ActionConfig in a runbook-declared chain, and mapping an agent
// Prompt's type onto the Decision source it should create. Kept free of
// state/event/effect imports so it is trivially unit-testable against
// bare runbook.ActionConfig values.
package supervision

import (
	"strconv"

	"github.com/ajlab/ojd/internal/runbook"
)

// Resolved is the next action to take for a trigger, along with the
// attempt-counter key the caller should increment in the owner's
// ActionAttempts map after firing it.
type Resolved struct {
	Action     runbook.ActionConfig
	AttemptKey string
	ChainPos   int
}

// NextAction walks chain in order, returning the first action whose
// attempt budget (Attempts, default 1) isn't exhausted yet, by the
// counts recorded in attempts (keyed by the AttemptKey this function
// itself produces). ok is false once every action in the chain has
// exhausted its budget, signalling escalation (once the chain
// exhausts, the caller escalates).
func NextAction(trigger string, chain []runbook.ActionConfig, attempts map[string]int) (Resolved, bool) {
	for i, ac := range chain {
		key := attemptKey(trigger, i)
		budget := ac.Attempts
		if budget <= 0 {
			budget = 1
		}
		if attempts[key] < budget {
			return Resolved{Action: ac, AttemptKey: key, ChainPos: i}, true
		}
	}
	return Resolved{}, false
}

func attemptKey(trigger string, pos int) string {
	return trigger + ":" + strconv.Itoa(pos)
}

// PromptSource maps an agent Prompt's structured type onto the Decision
// source it should create when the on_approval chain escalates or is
// unconfigured (Question/Plan are more specific than Approval
// for the supersession rule).
func PromptSource(promptType string) string {
	switch promptType {
	case "question":
		return "Question"
	case "plan":
		return "Plan"
	default:
		return "Approval"
	}
}
