package runbook

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/ajlab/ojd/internal/ojerr"
)

// Discover walks upward from dir looking for a single `*.oj.toml` file,
// the convention a project's runbook is expected to live under.
// It stops at the first directory containing exactly one match.
func Discover(dir string) (string, error) {
	cur := dir
	for {
		matches, err := filepath.Glob(filepath.Join(cur, "*.oj.toml"))
		if err != nil {
			return "", ojerr.Runbook(cur, err)
		}
		if len(matches) == 1 {
			return matches[0], nil
		}
		if len(matches) > 1 {
			return "", ojerr.Runbook(cur, fmt.Errorf("multiple runbook files found: %v", matches))
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", ojerr.Runbook(dir, fmt.Errorf("no *.oj.toml runbook found above %s", dir))
		}
		cur = parent
	}
}

// Loader parses a runbook document from disk. The default implementation
// speaks TOML via github.com/pelletier/go-toml/v2; a richer external
// parser (HCL/JSON) can be substituted by implementing this
// interface.
type Loader interface {
	Load(path string) (*Runbook, error)
}

// TOMLLoader is the default Loader.
type TOMLLoader struct{}

// Load reads and parses a TOML runbook file, then content-addresses it.
func (TOMLLoader) Load(path string) (*Runbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ojerr.Runbook(path, fmt.Errorf("read: %w", err))
	}

	var rb Runbook
	if err := toml.Unmarshal(data, &rb); err != nil {
		return nil, ojerr.Runbook(path, fmt.Errorf("parse: %w", err))
	}
	rb.Normalize()

	if err := validate(&rb); err != nil {
		return nil, ojerr.Runbook(path, err)
	}

	hash, err := Hash(&rb)
	if err != nil {
		return nil, ojerr.Runbook(path, fmt.Errorf("hash: %w", err))
	}
	rb.Hash = hash
	return &rb, nil
}

// validate enforces the runbook's semantic rules: commands may not
// reference `input.*` in their run target, and every step's on_done/
// on_fail/on_cancel target must either be a sibling step name or one of
// the four reserved terminal names.
func validate(rb *Runbook) error {
	for name, cmd := range rb.Commands {
		if cmd.Run != nil && cmd.Run.Shell != "" && containsInputRef(cmd.Run.Shell) {
			return fmt.Errorf("command %q: input.* is forbidden in command.run", name)
		}
	}
	for name, agent := range rb.Agents {
		switch agent.Runtime {
		case "", "coop", "docker", "k8s":
		default:
			return fmt.Errorf("agent %q: unknown runtime %q", name, agent.Runtime)
		}
	}
	for name, job := range rb.Jobs {
		seen := make(map[string]bool, len(job.Steps))
		for _, s := range job.Steps {
			seen[s.Name] = true
		}
		for _, s := range job.Steps {
			for _, target := range []string{s.OnDone, s.OnFail, s.OnCancel} {
				if target == "" || isTerminalStep(target) || seen[target] {
					continue
				}
				return fmt.Errorf("job %q: step %q references unknown step %q", name, s.Name, target)
			}
		}
	}
	return nil
}

func isTerminalStep(step string) bool {
	switch step {
	case "done", "failed", "cancelled", "suspended":
		return true
	default:
		return false
	}
}

func containsInputRef(shell string) bool {
	const needle = "input."
	for i := 0; i+len(needle) <= len(shell); i++ {
		if shell[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
