package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"go.uber.org/zap"
)

// maxCapturedOutput bounds how much of a step's stdout/stderr gets
// carried into the WAL via ShellExited; output beyond it is dropped.
const maxCapturedOutput = 64 * 1024

// runShell fires a job step's subprocess under the "shell"
// timeout budget, or execs into a running container when Container is
// set (docker-runtime jobs).
func (ex *Executor) runShell(parent context.Context, e effect.Shell) {
	ex.background(func() { ex.runShellSync(parent, e) })
}

func (ex *Executor) runShellSync(parent context.Context, e effect.Shell) {
	if !ex.acquireProc(parent) {
		return
	}
	defer ex.procs.Release(1)

	timeout := ex.Cfg.Timeouts.Duration("shell", 15*time.Minute)
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if e.Container != "" {
		args := append([]string{"exec", e.Container, "sh", "-c"}, e.Command)
		cmd = exec.CommandContext(ctx, "docker", args...)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", e.Command)
	}
	cmd.Dir = e.Cwd
	cmd.Env = mergeEnv(e.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := exitCode(err)
	if err != nil && code == -1 {
		ex.Log.Warn("shell step failed to start",
			zap.String("owner", e.Owner), zap.String("step", e.Step), zap.Error(err))
	}

	ex.RT.Submit(&event.ShellExited{
		Owner:    e.Owner,
		Step:     e.Step,
		ExitCode: code,
		Stdout:   truncate(stdout.String(), maxCapturedOutput),
		Stderr:   truncate(stderr.String(), maxCapturedOutput),
	})
}

// exitCode extracts a process exit status from an *exec.Cmd error,
// following the conventional -1 for "never ran" (timeout, missing
// binary) rather than panicking on a non-ExitError.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
