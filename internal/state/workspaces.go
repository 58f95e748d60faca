package state

import "github.com/ajlab/ojd/internal/event"

// WorkspaceStatus is Workspace.status.
type WorkspaceStatus string

const (
	WorkspaceCreating WorkspaceStatus = "creating"
	WorkspaceReady    WorkspaceStatus = "ready"
	WorkspaceCleaning WorkspaceStatus = "cleaning"
	WorkspaceDeleted  WorkspaceStatus = "deleted"
	WorkspaceFailed   WorkspaceStatus = "failed"
)

// WorkspaceType is Workspace.workspace_type. Folder is the default.
type WorkspaceType string

const (
	WorkspaceFolder   WorkspaceType = "folder"
	WorkspaceWorktree WorkspaceType = "worktree"
)

// Workspace is the provisioned working directory for a job/crew.
type Workspace struct {
	ID     string
	Path   string
	Branch string
	Owner  Owner
	Status WorkspaceStatus
	Type   WorkspaceType
}

func applyWorkspaceEvent(s *MaterializedState, ev event.Event) bool {
	switch e := ev.(type) {
	case *event.WorkspaceCreated:
		id := string(e.ID)
		owner := ownerOfString(e.Owner)
		if _, exists := s.Workspaces[id]; !exists {
			wsType := WorkspaceFolder
			if e.Type == string(WorkspaceWorktree) {
				wsType = WorkspaceWorktree
			}
			s.Workspaces[id] = &Workspace{
				ID: id, Path: e.Path, Branch: e.Branch,
				Owner: owner, Status: WorkspaceCreating, Type: wsType,
			}
		}
		// Record the workspace on its owning job so resume and agent
		// respawn find the same path after a replay. Monotonic: a job
		// keeps its first workspace.
		if owner.Kind == OwnerKindJob {
			if job := s.Jobs[owner.ID]; job != nil && job.WorkspaceID == "" {
				job.WorkspaceID = id
				job.WorkspacePath = e.Path
			}
		}
		return true

	case *event.WorkspaceReady:
		if ws := s.Workspaces[string(e.ID)]; ws != nil {
			ws.Status = WorkspaceReady
		}
		return true

	case *event.WorkspaceCleaning:
		if ws := s.Workspaces[string(e.ID)]; ws != nil && ws.Status != WorkspaceDeleted {
			ws.Status = WorkspaceCleaning
		}
		return true

	case *event.WorkspaceFailed:
		if ws := s.Workspaces[string(e.ID)]; ws != nil {
			ws.Status = WorkspaceFailed
		}
		return true

	case *event.WorkspaceDeleted:
		if ws := s.Workspaces[string(e.ID)]; ws != nil {
			ws.Status = WorkspaceDeleted
		}
		return true

	default:
		return false
	}
}

// ownerOfString parses an owner string encoded as "kind:id" (the
// encoding used when an Effect only carries a flattened owner string).
func ownerOfString(owner string) Owner {
	for i := 0; i < len(owner); i++ {
		if owner[i] == ':' {
			return Owner{Kind: OwnerKind(owner[:i]), ID: owner[i+1:]}
		}
	}
	return Owner{Kind: OwnerKindJob, ID: owner}
}
