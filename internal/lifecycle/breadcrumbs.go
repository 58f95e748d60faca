package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajlab/ojd/internal/state"
)

// crumb is the on-disk shape of a job breadcrumb
// (`logs/<job-id>.crumb.json`). It is intentionally a thin summary,
// not a full job snapshot: the only thing that matters after a crash is
// "this job existed and was last seen at this step".
type crumb struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Step      string `json:"step"`
	StepPhase string `json:"step_phase"`
	Project   string `json:"project"`
	UpdatedAt int64  `json:"updated_at_ms"`
}

// Breadcrumbs atomically replaces a per-job marker file on every job
// transition and deletes it once the job reaches a terminal step, so
// ScanOrphans can find jobs whose breadcrumb survived a crash that
// happened between the side effect and the WAL write.
type Breadcrumbs struct {
	dir string
}

// NewBreadcrumbs prepares the breadcrumb directory (`<state_dir>/logs`).
func NewBreadcrumbs(stateDir string) (*Breadcrumbs, error) {
	dir := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Breadcrumbs{dir: dir}, nil
}

func (b *Breadcrumbs) path(jobID string) string {
	return filepath.Join(b.dir, jobID+".crumb.json")
}

// Observe is wired as runtime.Runtime.JobObserver: it is called with the
// job's row immediately after each job-lifecycle event (see
// runtime.jobIDOfEvent), nil once the job has been deleted.
func (b *Breadcrumbs) Observe(job *state.Job) {
	if job == nil {
		return
	}
	if job.IsTerminal() {
		_ = os.Remove(b.path(job.ID))
		return
	}
	c := crumb{
		ID: job.ID, Kind: job.KindName, Step: job.Step,
		StepPhase: string(job.StepStatus.Phase), Project: job.Project,
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	tmp := b.path(job.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, b.path(job.ID))
}

// ScanOrphans compares every breadcrumb on disk against live jobs and
// returns the IDs of jobs whose breadcrumb exists but whose state row is
// missing: a crash between the breadcrumb write and the WAL append, or a
// state directory replaced out from under a running daemon.
func ScanOrphans(stateDir string, st *state.MaterializedState) ([]string, error) {
	dir := filepath.Join(stateDir, "logs")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var orphans []string
	st.View(func(s *state.MaterializedState) {
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".crumb.json") {
				continue
			}
			id := strings.TrimSuffix(ent.Name(), ".crumb.json")
			if _, ok := s.Jobs[id]; !ok {
				orphans = append(orphans, id)
			}
		}
	})
	return orphans, nil
}
