package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hellblazer/hal-9000/internal/orcherr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutGetSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sess := &Session{
		SchemaVersion:  1,
		ID:             "hal-9000-proj-abcd1234",
		ProjectPath:    "/tmp/proj",
		Profile:        "base",
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		ResourceLimits: DefaultResourceLimits(),
	}
	if err := s.PutSession(sess); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ProjectPath != sess.ProjectPath || got.Profile != sess.Profile {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, sess)
	}
	// put(get(id)) == get(id)
	if err := s.PutSession(got); err != nil {
		t.Fatalf("PutSession(got): %v", err)
	}
	again, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession again: %v", err)
	}
	if again.ProjectPath != got.ProjectPath {
		t.Fatalf("put(get(id)) != get(id)")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSession("nope"); !orcherr.Is(err, orcherr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUnknownFieldsPreservedOnReadModifyWrite(t *testing.T) {
	s := newTestStore(t)
	path := sessionPath(s.sessionsDir(), "sess-x")
	raw := `{"schema_version":1,"id":"sess-x","project_path":"/tmp/x","profile":"base","created_at":"2026-01-01T00:00:00Z","resource_limits":{"memory":"4g","cpus":2,"pids":100},"future_field":"kept"}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	sess, err := s.GetSession("sess-x")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Extra["future_field"] != "kept" {
		t.Fatalf("expected unknown field preserved, got %+v", sess.Extra)
	}
	sess.Profile = "node"
	if err := s.PutSession(sess); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	// #nosec G304
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(after, &m); err != nil {
		t.Fatal(err)
	}
	if m["future_field"] != "kept" {
		t.Fatalf("expected future_field to survive read-modify-write, got %+v", m)
	}
}

func TestAtomicWritesNoTornFile(t *testing.T) {
	s := newTestStore(t)
	path := sessionPath(s.sessionsDir(), "race")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := &Session{
				SchemaVersion: 1, ID: "race", ProjectPath: "/tmp/race",
				Profile: "base", CreatedAt: time.Now().UTC(),
				ResourceLimits: DefaultResourceLimits(),
			}
			_ = s.PutSession(sess)
		}(i)
	}
	wg.Wait()
	// #nosec G304
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		t.Fatalf("expected fully-formed JSON, never a torn file: %v", err)
	}
}

func TestClaimWorkerExclusivity(t *testing.T) {
	s := newTestStore(t)
	w := &Worker{
		SchemaVersion: 1, Name: "warm-1", State: WorkerWarm,
		ImageRef: "ghcr.io/hellblazer/hal-9000:worker", NetworkMode: "container:parent",
		CreatedAt:      time.Now().UTC(),
		ResourceLimits: DefaultResourceLimits(),
	}
	if err := s.PutWorker(w); err != nil {
		t.Fatalf("PutWorker: %v", err)
	}

	const n = 10
	var successes int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.ClaimWorker("warm-1", "sess-race"); err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}(i)
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one claim to succeed, got %d", successes)
	}

	claimed, err := s.GetWorker("warm-1")
	if err != nil {
		t.Fatalf("GetWorker after claim: %v", err)
	}
	if claimed.State != WorkerClaimed {
		t.Fatalf("expected claimed state, got %q", claimed.State)
	}

	// warm file must be gone
	if _, err := os.Stat(sessionPath(s.workersDir(WorkerWarm), "warm-1")); !os.IsNotExist(err) {
		t.Fatalf("expected warm file removed after claim")
	}
}

func TestClaimWorkerMissingIsConflict(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ClaimWorker("ghost", "sess-1"); !orcherr.Is(err, orcherr.Conflict) {
		t.Fatalf("expected Conflict for missing warm worker, got %v", err)
	}
}

func TestListWorkersFilter(t *testing.T) {
	s := newTestStore(t)
	for i, name := range []string{"warm-a", "warm-b"} {
		w := &Worker{
			SchemaVersion: 1, Name: name, State: WorkerWarm,
			ImageRef: "img", NetworkMode: "container:parent",
			CreatedAt:      time.Now().UTC().Add(time.Duration(i) * time.Second),
			ResourceLimits: DefaultResourceLimits(),
		}
		if err := s.PutWorker(w); err != nil {
			t.Fatal(err)
		}
	}
	warm, err := s.ListWorkers(WorkerWarm)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(warm) != 2 {
		t.Fatalf("expected 2 warm workers, got %d", len(warm))
	}
	if warm[0].Name != "warm-a" {
		t.Fatalf("expected FIFO order by created_at, got %q first", warm[0].Name)
	}
}

func TestDeleteSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteSession("missing"); !orcherr.Is(err, orcherr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestOpenCreatesDirsWithRestrictivePermissions(t *testing.T) {
	home := t.TempDir()
	if _, err := Open(home); err != nil {
		t.Fatalf("Open: %v", err)
	}
	info, err := os.Stat(filepath.Join(home, "sessions"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Fatalf("expected 0700, got %o", info.Mode().Perm())
	}
}
