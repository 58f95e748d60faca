package listener

import (
	"testing"

	"github.com/ajlab/ojd/internal/ojerr"
	"github.com/ajlab/ojd/internal/runbook"
	"github.com/ajlab/ojd/internal/state"
	"github.com/stretchr/testify/assert"
)

func TestCategoryOfKnownError(t *testing.T) {
	assert.Equal(t, ojerr.CategoryNotFound, categoryOf(ojerr.NotFound("job", "x")))
}

func TestCategoryOfNilFallsBackToFatal(t *testing.T) {
	assert.Equal(t, ojerr.CategoryFatal, categoryOf(nil))
}

func TestCronTargetNameJob(t *testing.T) {
	assert.Equal(t, "build", cronTargetName(runbook.CronTarget{Job: "build"}))
}

func TestCronTargetNameAgent(t *testing.T) {
	assert.Equal(t, "watcher", cronTargetName(runbook.CronTarget{Agent: "watcher"}))
}

func TestCronTargetNameShell(t *testing.T) {
	assert.Equal(t, "echo hi", cronTargetName(runbook.CronTarget{Shell: "echo hi"}))
}

func TestToJobView(t *testing.T) {
	j := &state.Job{ID: "j1", KindName: "build", Name: "build", Project: "p", Step: "compile",
		StepStatus: state.StepStatus{Phase: state.StepRunning}, CreatedAtMs: 42}
	v := toJobView(j)
	assert.Equal(t, "j1", v.ID)
	assert.Equal(t, "compile", v.Step)
	assert.Equal(t, "running", v.StepPhase)
}

func TestOwnerProjectJob(t *testing.T) {
	s := state.New()
	s.Jobs["j1"] = &state.Job{ID: "j1", Project: "proj-a"}
	assert.Equal(t, "proj-a", ownerProject(s, state.OwnerOfJob("j1")))
}

func TestOwnerProjectUnknownReturnsEmpty(t *testing.T) {
	s := state.New()
	assert.Equal(t, "", ownerProject(s, state.OwnerOfJob("missing")))
}
