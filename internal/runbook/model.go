// Package runbook models the declarative document that defines
// commands/jobs/agents/queues/workers/crons. The grammar itself is
// an external collaborator; this package owns the in-memory
// model, content-addressing, and a default TOML loader so the daemon can
// cache runbooks by hash without depending on the full external
// parser.
package runbook

// Runbook is the parsed, content-addressed document.
type Runbook struct {
	Hash     string             `toml:"-"`
	Version  int                `toml:"version"`
	Commands map[string]Command `toml:"command"`
	Jobs     map[string]Job      `toml:"job"`
	Agents   map[string]Agent    `toml:"agent"`
	Queues   map[string]Queue    `toml:"queue"`
	Workers  map[string]Worker   `toml:"worker"`
	Crons    map[string]Cron     `toml:"cron"`
}

// Command declares a `command.X` namespace. Commands forbid `input.*`
// references in Run.
type Command struct {
	Run     *RunTarget `toml:"run"`
	Job     string     `toml:"job,omitempty"`
}

// RunTarget is the polymorphic `run` value on a step or command: a shell
// string, { agent = name }, { job = name }, or { pipeline = name }.
type RunTarget struct {
	Shell    string `toml:"shell,omitempty"`
	Agent    string `toml:"agent,omitempty"`
	Job      string `toml:"job,omitempty"`
	Pipeline string `toml:"pipeline,omitempty"`
}

// Kind reports which of the four run-target forms is populated.
func (r *RunTarget) Kind() string {
	switch {
	case r == nil:
		return ""
	case r.Agent != "":
		return "agent"
	case r.Job != "":
		return "job"
	case r.Pipeline != "":
		return "pipeline"
	default:
		return "shell"
	}
}

// Job declares an ordered sequence of Steps.
type Job struct {
	Steps []Step `toml:"step"`
}

// Step is one ordered step of a Job.
type Step struct {
	Name     string     `toml:"name"`
	Run      *RunTarget `toml:"run"`
	OnDone   string     `toml:"on_done,omitempty"`
	OnFail   string     `toml:"on_fail,omitempty"`
	OnCancel string     `toml:"on_cancel,omitempty"`
}

// ByName finds a step by name.
func (j Job) ByName(name string) (Step, bool) {
	for _, s := range j.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// Next returns the step following `name` in declaration order, or ("",
// false) if `name` is last or not found.
func (j Job) Next(name string) (string, bool) {
	for i, s := range j.Steps {
		if s.Name == name {
			if i+1 < len(j.Steps) {
				return j.Steps[i+1].Name, true
			}
			return "", false
		}
	}
	return "", false
}

// ActionConfig is one action in an on_idle/on_dead/on_approval chain.
type ActionConfig struct {
	Action   string `toml:"action"` // done|fail|nudge|gate|resume|escalate
	Attempts int    `toml:"attempts,omitempty"`
	Cooldown string `toml:"cooldown,omitempty"`
	Message  string `toml:"message,omitempty"`
	Run      string `toml:"run,omitempty"`
}

// Agent declares an `agent.X` definition consumed by agent steps and
// `command.run = { agent = X }`.
type Agent struct {
	Kind       string         `toml:"kind"`              // the agent-host --agent kind
	Runtime    string         `toml:"runtime,omitempty"` // coop (default) | docker | k8s
	Start      string         `toml:"start,omitempty"`
	OnIdle     []ActionConfig `toml:"on_idle,omitempty"`
	OnDead     []ActionConfig `toml:"on_dead,omitempty"`
	OnApproval []ActionConfig `toml:"on_approval,omitempty"`
}

// QueueType distinguishes persisted (daemon-stored) from external
// (shell-listed) queues.
type QueueType string

const (
	QueuePersisted QueueType = "persisted"
	QueueExternal  QueueType = "external"
)

// Queue declares a `queue.X` definition.
type Queue struct {
	Type QueueType `toml:"type"`
	List string    `toml:"list,omitempty"` // external only
	Take string    `toml:"take,omitempty"` // external only
}

// RetrySpec configures worker retry-with-cooldown.
type RetrySpec struct {
	Attempts int    `toml:"attempts"`
	Cooldown string `toml:"cooldown"`
}

// Worker declares a `worker.X` binding a queue to a job kind.
type Worker struct {
	Queue       string     `toml:"queue"`
	Job         string     `toml:"job"`
	Concurrency int        `toml:"concurrency"`
	Retry       *RetrySpec `toml:"retry,omitempty"`
}

// CronTarget is the polymorphic target of a cron firing: a job, shell
// command, or standalone agent.
type CronTarget struct {
	Job   string `toml:"job,omitempty"`
	Shell string `toml:"shell,omitempty"`
	Agent string `toml:"agent,omitempty"`
}

// Kind reports which of the three target forms is populated.
func (t CronTarget) Kind() string {
	switch {
	case t.Job != "":
		return "job"
	case t.Agent != "":
		return "agent"
	default:
		return "shell"
	}
}

// Cron declares a `cron.X` periodic trigger.
type Cron struct {
	Interval    string     `toml:"interval"`
	Target      CronTarget `toml:"target"`
	Concurrency int        `toml:"concurrency"`
}

// Normalize fills in defaults (concurrency=1 for workers/crons without an
// explicit value) so callers don't need to special-case zero values, and
// synthesizes an implicit one-step job for every `command.X` whose `run`
// is a bare shell string, so RunCommand can always resolve to a job kind
// regardless of whether the command wraps a named job, an agent, or an
// ad-hoc shell string.
func (r *Runbook) Normalize() {
	for name, w := range r.Workers {
		if w.Concurrency <= 0 {
			w.Concurrency = 1
			r.Workers[name] = w
		}
	}
	for name, c := range r.Crons {
		if c.Concurrency <= 0 {
			c.Concurrency = 1
			r.Crons[name] = c
		}
	}
	r.synthesizeCommandJobs()
}

// CommandJobPrefix tags the implicit jobs Normalize synthesizes, so
// ResolveCommand can recognize and the listener's job list can label
// them distinctly from runbook-declared jobs.
const CommandJobPrefix = "cmd:"

func (r *Runbook) synthesizeCommandJobs() {
	for name, cmd := range r.Commands {
		if cmd.Run == nil || cmd.Run.Kind() != "shell" {
			continue
		}
		kind := CommandJobPrefix + name
		if _, exists := r.Jobs[kind]; exists {
			continue
		}
		if r.Jobs == nil {
			r.Jobs = make(map[string]Job)
		}
		r.Jobs[kind] = Job{Steps: []Step{{Name: "run", Run: cmd.Run}}}
	}
}

// ResolveCommand returns the job kind a `command.X` invocation should
// create: X's own `job` binding when set, the synthesized `cmd:X` job
// for a bare shell command, or ("", false) when X names an agent
// directly (handled as a Crew, not a Job).
func (r *Runbook) ResolveCommand(name string) (jobKind string, ok bool) {
	cmd, ok := r.Commands[name]
	if !ok {
		return "", false
	}
	if cmd.Job != "" {
		return cmd.Job, true
	}
	switch cmd.Run.Kind() {
	case "job":
		return cmd.Run.Job, true
	case "shell":
		return CommandJobPrefix + name, true
	default:
		return "", false
	}
}
