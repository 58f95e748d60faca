package runtime

import (
	"time"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/state"
)

// defaultCronInterval is used when a cron's declared interval fails to
// parse, so a misconfigured runbook still fires on a sane cadence
// instead of never re-arming.
const defaultCronInterval = 30 * time.Second

func parseInterval(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultCronInterval
	}
	return d
}

// onCronStarted arms the recurring timer that drives this cron's firings.
func (rt *Runtime) onCronStarted(e *event.CronStarted) []effect.Effect {
	return []effect.Effect{effect.SetTimer{
		ID:       string(ids.TimerKey("cron", e.Project, e.Name)),
		Duration: parseInterval(e.Interval),
	}}
}

// fireCron runs on the cron's own timer tick: if under its
// concurrency cap, generate a fresh owner id and fire CronFired+CronOnce
// for it, then always re-arm the timer regardless of whether this tick
// actually fired (a cron at its concurrency cap keeps ticking so it can
// pick up slack the moment a slot frees).
func (rt *Runtime) fireCron(project, name string, nowMs int64) []effect.Effect {
	c := rt.State.Crons[state.ScopedName(project, name)]
	if c == nil {
		return nil
	}
	var effects []effect.Effect
	if c.Status == state.CronRunning && len(c.ActiveOwners) < c.Concurrency {
		ownerID := string(ids.NewJobID())
		effects = append(effects,
			effect.Emit{Event: &event.CronFired{Cron: name, Owner: ownerID, Project: project}},
			effect.Emit{Event: &event.CronOnce{Cron: name, Project: project, OwnerID: ownerID}},
		)
	}
	if c.Status == state.CronRunning {
		effects = append(effects, effect.SetTimer{
			ID: string(ids.TimerKey("cron", project, name)), Duration: parseInterval(c.Interval),
		})
	}
	return effects
}

// onCronOnce carries out the firing that state.applyCronEvent already
// recorded by owner id: create the job/crew, or fire the shell command,
// named by the cron's target. Re-delivery for an owner id whose job/crew
// already exists is a no-op; a shell firing has no entity to check, so a
// re-delivered shell CronOnce runs the command again.
func (rt *Runtime) onCronOnce(e *event.CronOnce, nowMs int64) []effect.Effect {
	c := rt.State.Crons[state.ScopedName(e.Project, e.Cron)]
	if c == nil {
		return nil
	}
	switch c.TargetKind {
	case "job":
		if rt.State.Jobs[e.OwnerID] != nil {
			return nil
		}
		return []effect.Effect{effect.Emit{Event: &event.JobCreated{
			ID: ids.JobID(e.OwnerID), Kind_: c.TargetName, Name: c.TargetName,
			Project: c.Project, Cwd: c.ProjectPath, RunbookHash: c.RunbookHash,
			Vars: map[string]string{}, CronName: c.Name, CreatedAtMs: nowMs,
		}}}
	case "agent":
		if rt.State.Crew[e.OwnerID] != nil {
			return nil
		}
		return []effect.Effect{effect.Emit{Event: &event.CrewCreated{
			ID: ids.CrewID(e.OwnerID), AgentName: c.TargetName, CommandName: "cron:" + c.Name,
			Project: c.Project, Cwd: c.ProjectPath, RunbookHash: c.RunbookHash,
			Vars: map[string]string{}, CronName: c.Name, CreatedAtMs: nowMs,
		}}}
	default: // "shell"
		// Shell firings have no job/crew entity; the owner tag carries
		// enough for state.Apply to release the concurrency slot when
		// the ShellExited lands.
		owner := "cron:" + state.ScopedName(c.Project, c.Name) + ":" + e.OwnerID
		return []effect.Effect{effect.Shell{Owner: owner, Step: "cron", Command: c.TargetName, Cwd: c.ProjectPath}}
	}
}
