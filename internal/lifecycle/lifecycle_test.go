package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ajlab/ojd/internal/common/config"
	"github.com/ajlab/ojd/internal/common/logger"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console", OutputPath: "stderr"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	cfg := &config.Config{StateDir: t.TempDir()}
	return &Manager{Cfg: cfg, Log: log}
}

func TestAcquireLockThenReleaseAllowsReacquire(t *testing.T) {
	m := testManager(t)
	if err := m.AcquireLock(); err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	m.ReleaseLock()

	m2 := &Manager{Cfg: m.Cfg, Log: m.Log}
	if err := m2.AcquireLock(); err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	m2.ReleaseLock()
}

func TestAcquireLockFailsWhileHeld(t *testing.T) {
	m := testManager(t)
	if err := m.AcquireLock(); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer m.ReleaseLock()

	other := &Manager{Cfg: m.Cfg, Log: m.Log}
	if err := other.AcquireLock(); err == nil {
		t.Fatal("expected second AcquireLock to fail while the first holds the lock")
	}

	// the contended lock file must survive untouched
	if _, err := os.Stat(m.lockPath()); err != nil {
		t.Fatalf("lock file should still exist: %v", err)
	}
}

func TestWriteVersionStamp(t *testing.T) {
	m := testManager(t)
	if err := m.WriteVersionStamp(); err != nil {
		t.Fatalf("WriteVersionStamp: %v", err)
	}
	if _, err := os.Stat(m.versionPath()); err != nil {
		t.Fatalf("expected version stamp file: %v", err)
	}
}

func TestSockPath(t *testing.T) {
	m := testManager(t)
	want := filepath.Join(m.Cfg.StateDir, "oj.sock")
	if got := m.SockPath(); got != want {
		t.Fatalf("SockPath() = %q, want %q", got, want)
	}
}
