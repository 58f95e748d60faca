package executor

import (
	"context"
	"os/exec"
	"runtime"
	"time"

	"github.com/ajlab/ojd/internal/effect"
	"go.uber.org/zap"
)

// notify fires a best-effort desktop notification. Failures are
// logged, never surfaced as events: nothing in the runtime depends on a
// notification having been seen.
func (ex *Executor) notify(parent context.Context, e effect.Notify) {
	ex.background(func() {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()

		cmd := notifyCommand(ctx, e.Title, e.Message)
		if cmd == nil {
			return
		}
		if err := cmd.Run(); err != nil {
			ex.Log.Debug("notify failed", zap.String("title", e.Title), zap.Error(err))
		}
	})
}

func notifyCommand(ctx context.Context, title, message string) *exec.Cmd {
	switch runtime.GOOS {
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return nil
		}
		return exec.CommandContext(ctx, "notify-send", title, message)
	case "darwin":
		script := `display notification "` + escapeAppleScript(message) + `" with title "` + escapeAppleScript(title) + `"`
		return exec.CommandContext(ctx, "osascript", "-e", script)
	default:
		return nil
	}
}

func escapeAppleScript(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '"' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
