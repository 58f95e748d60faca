// Package wal implements the daemon's append-only event journal:
// the durable, ordered source of truth that Replay folds into
// MaterializedState on startup. Writes are fsynced before Append
// returns, so an event is never visible to a client before it is
// durable.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ajlab/ojd/internal/event"
)

// Store is the WAL writer/reader for one daemon instance's state dir
// (`<state_dir>/wal/log.jsonl`).
type Store struct {
	mu   sync.Mutex
	path string
	file *os.File
	seq  uint64
}

// Open opens (creating if absent) the WAL file under dir and positions
// seq at the highest sequence number found by a quick scan, so the next
// Append continues the existing log rather than restarting from zero.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "log.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	s := &Store{path: path, file: f}
	lastSeq, err := scanLastSeq(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.seq = lastSeq
	return s, nil
}

func scanLastSeq(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("wal: scan %s: %w", path, err)
	}
	defer f.Close()

	var last uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var env event.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			continue // tolerate a torn trailing line from a crash mid-write
		}
		if env.Seq > last {
			last = env.Seq
		}
	}
	return last, scanner.Err()
}

// Append assigns ev the next sequence number, writes it as a JSON line,
// and fsyncs before returning (WAL writes must be fsync-durable
// before the event is considered applied or replied to a client).
func (s *Store) Append(ev event.Event, atMs int64) (event.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := event.Encode(ev)
	if err != nil {
		return event.Envelope{}, err
	}
	s.seq++
	env.Seq = s.seq
	env.AtMs = atMs

	line, err := json.Marshal(env)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("wal: marshal envelope: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return event.Envelope{}, fmt.Errorf("wal: write: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return event.Envelope{}, fmt.Errorf("wal: fsync: %w", err)
	}
	return env, nil
}

// Dir returns the directory this store's log lives in, usable as the
// Replay argument.
func (s *Store) Dir() string {
	return filepath.Dir(s.path)
}

// Seq returns the sequence number of the last record appended, the
// watermark a periodic snapshot is taken at.
func (s *Store) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Close fsyncs and closes the underlying file (called during graceful
// shutdown, after the event loop has drained).
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

// Replay reads every record from seq 0 up to the end of the log and
// invokes fn(envelope, event) in order. Records with a sequence number
// less than or equal to afterSeq are skipped, supporting
// snapshot-plus-tail replay.
func Replay(dir string, afterSeq uint64, fn func(event.Envelope, event.Event) error) error {
	path := filepath.Join(dir, "log.jsonl")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("wal: replay open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var env event.Envelope
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("wal: replay decode envelope at byte offset: %w", err)
		}
		if env.Seq <= afterSeq {
			continue
		}
		ev, err := event.Decode(env)
		if err != nil {
			return fmt.Errorf("wal: replay decode event seq %d: %w", env.Seq, err)
		}
		if err := fn(env, ev); err != nil {
			return err
		}
	}
	return scanner.Err()
}
