// Package statestore persists Session and Worker records under a per-user
// directory rooted at HAL9000_HOME (spec §4.3). Writes are write-tmp-then-
// rename so readers never observe a torn file; a per-file ".lock" sidecar
// (an exclusive flock(2) lock via gofrs/flock) serializes writers across the Pool Manager and
// per-request Session API.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hellblazer/hal-9000/internal/orcherr"
)

// Store is the single source of truth for Session and Worker records.
type Store struct {
	root string
}

// Open creates the state directories (mode 0700) under home if missing and
// returns a Store rooted there.
func Open(home string) (*Store, error) {
	s := &Store{root: home}
	for _, dir := range []string{
		s.sessionsDir(),
		s.workersDir(WorkerWarm),
		s.workersDir(WorkerClaimed),
		s.workersDir(WorkerBusy),
		s.workersDir(WorkerIdle),
		s.logsDir(),
	} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, orcherr.New(orcherr.Internal, "statestore.Open", err)
		}
	}
	return s, nil
}

func (s *Store) sessionsDir() string                 { return filepath.Join(s.root, "sessions") }
func (s *Store) workersDir(st WorkerState) string     { return filepath.Join(s.root, "pool", "workers", string(st)) }
func (s *Store) workersRoot() string                  { return filepath.Join(s.root, "pool", "workers") }
func (s *Store) logsDir() string                      { return filepath.Join(s.root, "logs") }
func (s *Store) PoolManagerPIDFile() string           { return filepath.Join(s.root, "pool", "pool-manager.pid") }

func sessionPath(dir, id string) string { return filepath.Join(dir, id+".json") }

// --- generic write-tmp-then-rename + read-modify-write-unknown-fields ---

func writeAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	lock, err := acquireLock(path)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func readRaw(path string) (map[string]any, bool, error) {
	// #nosec G304 -- path is built from HAL9000_HOME-rooted directories.
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// --- Session operations ---

// PutSession writes a session record, preserving any unknown fields already
// on disk (forward compatibility, spec §6).
func (s *Store) PutSession(sess *Session) error {
	path := sessionPath(s.sessionsDir(), sess.ID)
	merged, err := mergeUnknown(path, sess)
	if err != nil {
		return orcherr.New(orcherr.Internal, "statestore.PutSession", err)
	}
	if err := writeAtomic(path, merged); err != nil {
		return orcherr.New(orcherr.Internal, "statestore.PutSession", err)
	}
	return nil
}

// GetSession loads a session by id. Reads are side-effect-free.
func (s *Store) GetSession(id string) (*Session, error) {
	path := sessionPath(s.sessionsDir(), id)
	// #nosec G304
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, orcherr.New(orcherr.NotFound, "statestore.GetSession", fmt.Errorf("session %q not found", id))
		}
		return nil, orcherr.New(orcherr.Internal, "statestore.GetSession", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.GetSession", err)
	}
	sess.Extra = extraFields(raw, sessionKnownFields)
	return &sess, nil
}

// ListSessions enumerates every session record.
func (s *Store) ListSessions() ([]*Session, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.New(orcherr.Internal, "statestore.ListSessions", err)
	}
	var out []*Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		sess, err := s.GetSession(id)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteSession removes a session record (destroyed only on explicit request, spec §3).
func (s *Store) DeleteSession(id string) error {
	path := sessionPath(s.sessionsDir(), id)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return orcherr.New(orcherr.NotFound, "statestore.DeleteSession", fmt.Errorf("session %q not found", id))
		}
		return orcherr.New(orcherr.Internal, "statestore.DeleteSession", err)
	}
	_ = os.Remove(path + ".lock")
	return nil
}

var sessionKnownFields = fieldNamesOf(Session{})
var workerKnownFields = fieldNamesOf(Worker{})
