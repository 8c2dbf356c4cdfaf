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

// PutWorker writes a worker record into the directory for its current State.
func (s *Store) PutWorker(w *Worker) error {
	path := sessionPath(s.workersDir(w.State), w.Name)
	merged, err := mergeUnknown(path, w)
	if err != nil {
		return orcherr.New(orcherr.Internal, "statestore.PutWorker", err)
	}
	if err := writeAtomic(path, merged); err != nil {
		return orcherr.New(orcherr.Internal, "statestore.PutWorker", err)
	}
	return nil
}

// GetWorker finds a worker by name across all state directories.
func (s *Store) GetWorker(name string) (*Worker, error) {
	for _, st := range allWorkerStates {
		path := sessionPath(s.workersDir(st), name)
		// #nosec G304
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, orcherr.New(orcherr.Internal, "statestore.GetWorker", err)
		}
		var w Worker
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, orcherr.New(orcherr.Internal, "statestore.GetWorker", err)
		}
		w.Extra = extraFields(raw, workerKnownFields)
		return &w, nil
	}
	return nil, orcherr.New(orcherr.NotFound, "statestore.GetWorker", fmt.Errorf("worker %q not found", name))
}

var allWorkerStates = []WorkerState{WorkerWarm, WorkerClaimed, WorkerBusy, WorkerIdle, WorkerReaped}

// ListWorkers enumerates worker records, optionally filtered by state (pass
// "" for all states).
func (s *Store) ListWorkers(filter WorkerState) ([]*Worker, error) {
	var states []WorkerState
	if filter == "" {
		states = allWorkerStates
	} else {
		states = []WorkerState{filter}
	}
	var out []*Worker
	for _, st := range states {
		entries, err := os.ReadDir(s.workersDir(st))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, orcherr.New(orcherr.Internal, "statestore.ListWorkers", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			name := strings.TrimSuffix(e.Name(), ".json")
			w, err := s.readWorkerFrom(st, name)
			if err != nil {
				continue
			}
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) readWorkerFrom(st WorkerState, name string) (*Worker, error) {
	path := sessionPath(s.workersDir(st), name)
	// #nosec G304
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var w Worker
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	w.Extra = extraFields(raw, workerKnownFields)
	return &w, nil
}

// DeleteWorker removes a worker record from whichever state directory holds it.
func (s *Store) DeleteWorker(name string) error {
	for _, st := range allWorkerStates {
		path := sessionPath(s.workersDir(st), name)
		if err := os.Remove(path); err == nil {
			_ = os.Remove(path + ".lock")
			return nil
		} else if !os.IsNotExist(err) {
			return orcherr.New(orcherr.Internal, "statestore.DeleteWorker", err)
		}
	}
	return orcherr.New(orcherr.NotFound, "statestore.DeleteWorker", fmt.Errorf("worker %q not found", name))
}

// ClaimWorker atomically promotes a warm worker to claimed by renaming its
// file from the warm/ directory into claimed/ (spec §4.3, §4.8, §8 invariant
// 4). If two requests race for the same worker, exactly one rename succeeds;
// the loser gets orcherr.Conflict and must fall through to a cold spawn.
func (s *Store) ClaimWorker(workerName, sessionID string) (*Worker, error) {
	srcPath := sessionPath(s.workersDir(WorkerWarm), workerName)
	dstPath := sessionPath(s.workersDir(WorkerClaimed), workerName)

	lock, err := acquireLock(srcPath)
	if err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	defer func() { _ = lock.Unlock() }()

	// #nosec G304
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, orcherr.New(orcherr.Conflict, "statestore.ClaimWorker",
				fmt.Errorf("worker %q is no longer warm", workerName))
		}
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	var w Worker
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	w.State = WorkerClaimed
	w.SessionID = sessionID

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o700); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	// Write the updated record to a temp file in the destination dir, then a
	// single rename both moves it between state directories and makes the
	// claim atomic/visible; finally drop the source.
	// Re-encode from the raw record so unknown fields survive the move.
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	merged["state"] = WorkerClaimed
	merged["session_id"] = sessionID
	updated, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	updated = append(updated, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(dstPath), filepath.Base(dstPath)+".tmp-*")
	if err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(updated); err != nil {
		_ = tmp.Close()
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	if err := os.Rename(tmp.Name(), dstPath); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		return nil, orcherr.New(orcherr.Internal, "statestore.ClaimWorker", err)
	}
	_ = os.Remove(srcPath + ".lock")
	return &w, nil
}

// TransitionWorker moves a worker record between state directories (e.g.
// claimed -> busy, busy -> idle, idle -> reaped), updating its State field.
func (s *Store) TransitionWorker(name string, from, to WorkerState) (*Worker, error) {
	srcPath := sessionPath(s.workersDir(from), name)
	dstPath := sessionPath(s.workersDir(to), name)

	lock, err := acquireLock(srcPath)
	if err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.TransitionWorker", err)
	}
	defer func() { _ = lock.Unlock() }()

	// #nosec G304
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, orcherr.New(orcherr.NotFound, "statestore.TransitionWorker",
				fmt.Errorf("worker %q not in state %q", name, from))
		}
		return nil, orcherr.New(orcherr.Internal, "statestore.TransitionWorker", err)
	}
	var w Worker
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.TransitionWorker", err)
	}
	w.State = to
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o700); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.TransitionWorker", err)
	}
	// Re-encode from the raw record so unknown fields survive the move.
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.TransitionWorker", err)
	}
	merged["state"] = to
	if err := writeAtomic(dstPath, merged); err != nil {
		return nil, orcherr.New(orcherr.Internal, "statestore.TransitionWorker", err)
	}
	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		return nil, orcherr.New(orcherr.Internal, "statestore.TransitionWorker", err)
	}
	_ = os.Remove(srcPath + ".lock")
	return &w, nil
}
