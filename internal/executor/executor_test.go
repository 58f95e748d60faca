package executor

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/ajlab/ojd/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodeFromExitError(t *testing.T) {
	err := exec.Command("sh", "-c", "exit 7").Run()
	require.Error(t, err)
	assert.Equal(t, 7, exitCode(err))
}

func TestExitCodeNilIsZero(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
}

func TestExitCodeNonExitErrorIsMinusOne(t *testing.T) {
	assert.Equal(t, -1, exitCode(errors.New("binary not found")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
}

func TestMergeEnvEmptyReturnsNil(t *testing.T) {
	assert.Nil(t, mergeEnv(nil))
}

func TestMergeEnvAppendsOverOsEnviron(t *testing.T) {
	env := mergeEnv(map[string]string{"FOO": "bar"})
	assert.Contains(t, env, "FOO=bar")
}

func TestParsePolledLineJSON(t *testing.T) {
	item := parsePolledLine(`{"id":"item-1","priority":"high","count":3}`)
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, "high", item.Data["priority"])
	assert.Equal(t, "3", item.Data["count"])
}

func TestParsePolledLineFallsBackToRawLine(t *testing.T) {
	item := parsePolledLine("not-json")
	assert.Equal(t, event.PolledItem{ID: "not-json"}, item)
}

func TestNonEmpty(t *testing.T) {
	assert.Equal(t, "kind", nonEmpty("", "kind"))
	assert.Equal(t, "explicit", nonEmpty("explicit", "kind"))
}
