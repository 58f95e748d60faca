package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ajlab/ojd/internal/state"
)

func TestBreadcrumbsObserveWritesAndRemoves(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBreadcrumbs(dir)
	if err != nil {
		t.Fatalf("NewBreadcrumbs: %v", err)
	}

	job := &state.Job{ID: "j1", KindName: "build", Step: "compile",
		StepStatus: state.StepStatus{Phase: state.StepRunning}, Project: "p"}
	b.Observe(job)

	path := filepath.Join(dir, "logs", "j1.crumb.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected breadcrumb file, got: %v", err)
	}

	job.Step = "done"
	job.StepStatus = state.StepStatus{Phase: state.StepCompleted}
	b.Observe(job)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected breadcrumb to be removed on terminal step, stat err: %v", err)
	}
}

func TestBreadcrumbsObserveNilJobIsNoop(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBreadcrumbs(dir)
	if err != nil {
		t.Fatalf("NewBreadcrumbs: %v", err)
	}
	b.Observe(nil) // must not panic
}

func TestScanOrphansFindsDanglingBreadcrumb(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBreadcrumbs(dir)
	if err != nil {
		t.Fatalf("NewBreadcrumbs: %v", err)
	}
	job := &state.Job{ID: "orphan1", Step: "compile", StepStatus: state.StepStatus{Phase: state.StepRunning}}
	b.Observe(job)

	st := state.New() // no jobs registered: orphan1's row is "missing"
	orphans, err := ScanOrphans(dir, st)
	if err != nil {
		t.Fatalf("ScanOrphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != "orphan1" {
		t.Fatalf("expected [orphan1], got %v", orphans)
	}
}

func TestScanOrphansEmptyWhenJobPresent(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBreadcrumbs(dir)
	if err != nil {
		t.Fatalf("NewBreadcrumbs: %v", err)
	}
	job := &state.Job{ID: "j2", Step: "compile", StepStatus: state.StepStatus{Phase: state.StepRunning}}
	b.Observe(job)

	st := state.New()
	st.Jobs["j2"] = job
	orphans, err := ScanOrphans(dir, st)
	if err != nil {
		t.Fatalf("ScanOrphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected no orphans, got %v", orphans)
	}
}

func TestScanOrphansMissingDirIsEmpty(t *testing.T) {
	dir := t.TempDir()
	st := state.New()
	orphans, err := ScanOrphans(filepath.Join(dir, "nonexistent"), st)
	if err != nil {
		t.Fatalf("ScanOrphans: %v", err)
	}
	if orphans != nil {
		t.Fatalf("expected nil, got %v", orphans)
	}
}
