package executor

import (
	"context"
	"time"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/ojerr"
	"github.com/ajlab/ojd/internal/workspace"
	"go.uber.org/zap"
)

// createWorkspace provisions the filesystem/VCS half of a Workspace.
// WorkspaceCreated has already been applied synchronously by the
// handler that produced this effect; this only needs to do the slow part
// and report WorkspaceReady or WorkspaceFailed.
func (ex *Executor) createWorkspace(parent context.Context, e effect.CreateWorkspace) {
	ex.background(func() {
		timeout := ex.Cfg.Timeouts.Duration("workspace_op", 2*time.Minute)
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		if e.Type == "worktree" {
			if _, ok := ex.Workspaces.(workspace.WorktreeProvisioner); !ok {
				ex.RT.Submit(&event.WorkspaceFailed{
					ID:     ids.WorkspaceID(e.ID),
					Reason: ojerr.AdapterFailure("workspace", errNoWorktreeProvisioner).Error(),
				})
				return
			}
		}

		err := ex.Workspaces.Create(ctx, workspace.CreateRequest{
			Path: e.Path, Type: e.Type, Project: e.Project, Cwd: e.Cwd, Branch: e.Branch,
		})
		if err != nil {
			ex.Log.Error("workspace create failed", zap.String("id", e.ID), zap.Error(err))
			ex.RT.Submit(&event.WorkspaceFailed{
				ID:     ids.WorkspaceID(e.ID),
				Reason: ojerr.AdapterFailure("workspace", err).Error(),
			})
			return
		}
		ex.RT.Submit(&event.WorkspaceReady{ID: ids.WorkspaceID(e.ID)})
	})
}

func (ex *Executor) deleteWorkspace(parent context.Context, e effect.DeleteWorkspace) {
	ex.background(func() {
		timeout := ex.Cfg.Timeouts.Duration("workspace_op", 2*time.Minute)
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		// Best effort: a removal failure (e.g. path already gone) still
		// lands WorkspaceDeleted so the owning job/crew isn't stuck.
		if err := ex.Workspaces.Remove(ctx, e.Path); err != nil {
			ex.Log.Warn("workspace remove failed", zap.String("id", e.ID), zap.Error(err))
		}
		ex.RT.Submit(&event.WorkspaceDeleted{ID: ids.WorkspaceID(e.ID)})
	})
}
