// Package workspace owns the Workspace entity's filesystem-facing half:
// the actual directory (or worktree) create/remove calls behind a
// Provisioner interface. Git worktree and subprocess
// primitives are external collaborators, so this package never shells
// out to git itself; it models the contract a real worktree-primitives
// package would satisfy.
package workspace

import (
	"context"
	"fmt"
	"os"
)

// Provisioner performs the filesystem/VCS side of a workspace's
// lifecycle. Create must be idempotent: calling it twice for the same
// path is not an error.
type Provisioner interface {
	Create(ctx context.Context, req CreateRequest) error
	Remove(ctx context.Context, path string) error
}

// CreateRequest carries everything a Provisioner needs to materialize a
// workspace (type, project, cwd).
type CreateRequest struct {
	Path    string
	Type    string // "folder" | "worktree"
	Project string
	Cwd     string
	Branch  string
}

// FolderProvisioner is the default, collaborator-free provisioner: a
// plain directory under the daemon's state dir.
type FolderProvisioner struct{}

func NewFolderProvisioner() *FolderProvisioner { return &FolderProvisioner{} }

func (FolderProvisioner) Create(ctx context.Context, req CreateRequest) error {
	if err := os.MkdirAll(req.Path, 0o755); err != nil {
		return fmt.Errorf("workspace: mkdir %s: %w", req.Path, err)
	}
	return nil
}

func (FolderProvisioner) Remove(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("workspace: remove %s: %w", path, err)
	}
	return nil
}

// WorktreeProvisioner is the contract a real git-worktree-primitives
// package would implement for workspace_type=worktree. No
// concrete implementation ships in this repo; callers configuring
// workspace_type=worktree without one get a clear AdapterFailure instead
// of silently falling back to plain folders.
type WorktreeProvisioner interface {
	Provisioner
}
