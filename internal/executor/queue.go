package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"go.uber.org/zap"
)

// pollQueue runs an external queue's `list` shell command and turns its
// output into a WorkerPollComplete. Each stdout line is a JSON object; the
// "id" key (or, failing that, the whole line) becomes the item id, and
// every other key's value, scalar or not, becomes string-coerced (%v) item data so it
// can be injected as job vars.
func (ex *Executor) pollQueue(parent context.Context, e effect.PollQueue) {
	ex.background(func() {
		if !ex.acquireProc(parent) {
			return
		}
		defer ex.procs.Release(1)

		timeout := ex.Cfg.Timeouts.Duration("queue_poll", 30*time.Second)
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		items, err := ex.runListCommand(ctx, e)
		if err != nil {
			ex.Log.Warn("queue list command failed",
				zap.String("worker", e.WorkerName), zap.Error(err))
			items = nil
		}

		ex.RT.Submit(&event.WorkerPollComplete{
			Name:    e.WorkerName,
			Project: e.Project,
			Items:   items,
		})
	})
}

func (ex *Executor) runListCommand(ctx context.Context, e effect.PollQueue) ([]event.PolledItem, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", e.ListCommand)
	cmd.Dir = e.Cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("list command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var items []event.PolledItem
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		items = append(items, parsePolledLine(line))
	}
	return items, scanner.Err()
}

func parsePolledLine(line string) event.PolledItem {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return event.PolledItem{ID: line}
	}

	item := event.PolledItem{Data: make(map[string]string, len(raw))}
	if id, ok := raw["id"].(string); ok {
		item.ID = id
	}
	for k, v := range raw {
		if k == "id" {
			continue
		}
		item.Data[k] = fmt.Sprintf("%v", v)
	}
	if item.ID == "" {
		item.ID = line
	}
	return item
}
