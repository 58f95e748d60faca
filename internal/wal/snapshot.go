package wal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SnapshotBackend persists and loads the periodic state snapshot.
// Save/Load are keyed by the WAL sequence number the snapshot was taken
// at, so Replay can skip every record up to and including it. The
// payload is opaque pre-marshaled JSON: the caller encodes it under the
// state read lock, keeping the slow disk write outside any lock.
type SnapshotBackend interface {
	Save(seq uint64, atMs int64, data []byte) error
	Load() (seq uint64, data []byte, ok bool, err error)
	Close() error
}

type fileEnvelope struct {
	Seq  uint64          `json:"seq"`
	AtMs int64           `json:"at_ms"`
	Data json.RawMessage `json:"data"`
}

// FileBackend is the default snapshot store: a single JSON file,
// `<state_dir>/snapshot.json`, replaced atomically via a temp-file
// rename so a crash mid-write never corrupts the prior snapshot.
type FileBackend struct {
	path string
}

func NewFileBackend(stateDir string) *FileBackend {
	return &FileBackend{path: filepath.Join(stateDir, "snapshot.json")}
}

func (b *FileBackend) Save(seq uint64, atMs int64, data []byte) error {
	raw, err := json.Marshal(fileEnvelope{Seq: seq, AtMs: atMs, Data: data})
	if err != nil {
		return fmt.Errorf("wal: marshal snapshot envelope: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("wal: write snapshot temp file: %w", err)
	}
	return os.Rename(tmp, b.path)
}

func (b *FileBackend) Load() (uint64, []byte, bool, error) {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("wal: read snapshot: %w", err)
	}
	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, nil, false, fmt.Errorf("wal: decode snapshot: %w", err)
	}
	return env.Seq, env.Data, true, nil
}

func (b *FileBackend) Close() error { return nil }

// SQLiteBackend stores snapshot history in a SQLite database
// (`github.com/mattn/go-sqlite3`), one row per save, so operators can
// query snapshot history outside the daemon. Load returns the most
// recent row.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(stateDir string) (*SQLiteBackend, error) {
	path := filepath.Join(stateDir, "snapshot.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("wal: open sqlite snapshot db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			at_ms INTEGER NOT NULL,
			data BLOB NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("wal: init sqlite snapshot schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Save(seq uint64, atMs int64, data []byte) error {
	_, err := b.db.Exec(`INSERT OR REPLACE INTO snapshots (seq, at_ms, data) VALUES (?, ?, ?)`,
		int64(seq), atMs, data)
	if err != nil {
		return fmt.Errorf("wal: insert sqlite snapshot: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Load() (uint64, []byte, bool, error) {
	row := b.db.QueryRow(`SELECT seq, data FROM snapshots ORDER BY seq DESC LIMIT 1`)
	var seq int64
	var data []byte
	if err := row.Scan(&seq, &data); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("wal: query sqlite snapshot: %w", err)
	}
	return uint64(seq), data, true, nil
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

// OpenBackend selects a SnapshotBackend by name ("file" or "sqlite",
// per the `snapshot.backend` config key).
func OpenBackend(kind, stateDir string) (SnapshotBackend, error) {
	switch kind {
	case "", "file":
		return NewFileBackend(stateDir), nil
	case "sqlite":
		return NewSQLiteBackend(stateDir)
	default:
		return nil, fmt.Errorf("wal: unknown snapshot backend %q", kind)
	}
}
