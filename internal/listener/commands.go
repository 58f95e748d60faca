package listener

import (
	"time"

	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/ojerr"
	"github.com/ajlab/ojd/internal/runbook"
)

// resolveRunbook discovers, loads, and caches the project's runbook,
// reusing the already-cached copy when its content hash is unchanged.
func (l *Listener) resolveRunbook(project, cwd string) (*runbook.Runbook, error) {
	path, err := runbook.Discover(cwd)
	if err != nil {
		return nil, err
	}
	rb, err := (runbook.TOMLLoader{}).Load(path)
	if err != nil {
		return nil, err
	}
	if existing, ok := l.RT.Runbooks.Get(rb.Hash); ok {
		return existing, nil
	}
	l.RT.Runbooks.Put(rb)
	l.RT.Submit(&event.RunbookLoaded{Hash: rb.Hash, Path: path, Project: project})
	return rb, nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

// runCommand resolves req.Command against the project's runbook and
// submits the JobCreated/CrewCreated event that starts it, or runs an
// ad-hoc shell step directly via the synthesized cmd: job.
func (l *Listener) runCommand(req RunCommandRequest) (any, error) {
	rb, err := l.resolveRunbook(req.Project, req.Cwd)
	if err != nil {
		return nil, err
	}

	cmd, ok := rb.Commands[req.Command]
	if !ok {
		return nil, ojerr.NotFound("command", req.Command)
	}

	l.RT.Submit(&event.CommandRun{Project: req.Project, ProjectPath: req.Cwd, Command: req.Command})

	if cmd.Run != nil && cmd.Run.Kind() == "agent" {
		id := ids.NewCrewID()
		l.RT.Submit(&event.CrewCreated{
			ID: id, AgentName: cmd.Run.Agent, CommandName: req.Command,
			Project: req.Project, Cwd: req.Cwd, RunbookHash: rb.Hash,
			Vars: req.Vars, CreatedAtMs: nowMs(),
		})
		return map[string]string{"crew_id": string(id)}, nil
	}

	kind, ok := rb.ResolveCommand(req.Command)
	if !ok {
		return nil, ojerr.Validation("command %q has no runnable target", req.Command)
	}
	id := ids.NewJobID()
	l.RT.Submit(&event.JobCreated{
		ID: id, Kind_: kind, Name: req.Command,
		Project: req.Project, Cwd: req.Cwd, RunbookHash: rb.Hash,
		Vars: req.Vars, CreatedAtMs: nowMs(),
	})
	return map[string]string{"job_id": string(id)}, nil
}
