package spawner

import (
	"context"
	"testing"
	"time"

	"github.com/hellblazer/hal-9000/internal/allowlist"
	"github.com/hellblazer/hal-9000/internal/faketest"
	"github.com/hellblazer/hal-9000/internal/orcherr"
	"github.com/hellblazer/hal-9000/internal/statestore"
)

func testAllowlist(t *testing.T) *allowlist.Allowlist {
	t.Helper()
	al, err := allowlist.Load(t.TempDir())
	if err != nil {
		t.Fatalf("allowlist.Load: %v", err)
	}
	return al
}

func testStore(t *testing.T) *statestore.Store {
	t.Helper()
	st, err := statestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	return st
}

func TestSpawnPooledLandsInWarm(t *testing.T) {
	eng := faketest.NewEngine()
	s := New(eng, testStore(t), testAllowlist(t), "parent-123")

	w, err := s.Spawn(context.Background(), Options{
		ProjectPath: t.TempDir(),
		Profile:     "python",
		Pooled:      true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if w.State != statestore.WorkerWarm {
		t.Fatalf("expected warm state, got %v", w.State)
	}
	if w.NetworkMode != "container:parent-123" {
		t.Fatalf("expected parent-attached network mode, got %q", w.NetworkMode)
	}
	if len(eng.RunCalls) != 1 {
		t.Fatalf("expected exactly one Run call, got %d", len(eng.RunCalls))
	}
	if eng.RunCalls[0].Image != w.ImageRef {
		t.Fatalf("recorded Run image %q does not match worker image %q", eng.RunCalls[0].Image, w.ImageRef)
	}
	for _, m := range eng.RunCalls[0].Mounts {
		if m.Source == "/var/run/docker.sock" || m.Target == "/var/run/docker.sock" {
			t.Fatalf("worker spec must never mount the docker socket")
		}
	}

	got, err := s.Store.GetWorker(w.Name)
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if got.ContainerID != w.ContainerID {
		t.Fatalf("persisted worker does not match returned worker")
	}
}

func TestSpawnClaimedRecordsSessionID(t *testing.T) {
	eng := faketest.NewEngine()
	s := New(eng, testStore(t), testAllowlist(t), "")

	w, err := s.Spawn(context.Background(), Options{
		ProjectPath: t.TempDir(),
		Profile:     "node",
		SessionID:   "sess-1",
		Pooled:      false,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if w.State != statestore.WorkerClaimed {
		t.Fatalf("expected claimed state, got %v", w.State)
	}
	if w.SessionID != "sess-1" {
		t.Fatalf("expected session id to be recorded, got %q", w.SessionID)
	}
	if w.NetworkMode != "bridge" {
		t.Fatalf("expected bridge network mode with no parent container, got %q", w.NetworkMode)
	}
}

func TestSpawnRejectsUnknownProfile(t *testing.T) {
	eng := faketest.NewEngine()
	s := New(eng, testStore(t), testAllowlist(t), "")

	_, err := s.Spawn(context.Background(), Options{ProjectPath: t.TempDir(), Profile: "rust"})
	if orcherr.KindOf(err) != orcherr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if len(eng.RunCalls) != 0 {
		t.Fatalf("engine must not be called before validation passes")
	}
}

func TestSpawnRejectsImageNotInAllowlist(t *testing.T) {
	eng := faketest.NewEngine()
	s := New(eng, testStore(t), testAllowlist(t), "")

	_, err := s.Spawn(context.Background(), Options{
		ProjectPath: t.TempDir(),
		Profile:     "python",
		ImageRef:    "evil.example.com/not-allowed:latest",
	})
	if orcherr.KindOf(err) != orcherr.PolicyDenied {
		t.Fatalf("expected PolicyDenied, got %v", err)
	}
	if len(eng.RunCalls) != 0 {
		t.Fatalf("engine must not be called for a disallowed image")
	}
}

func TestSpawnWrapsEngineFailure(t *testing.T) {
	eng := faketest.NewEngine()
	eng.RunErr = context.DeadlineExceeded
	s := New(eng, testStore(t), testAllowlist(t), "")

	_, err := s.Spawn(context.Background(), Options{ProjectPath: t.TempDir(), Profile: "base"})
	if orcherr.KindOf(err) != orcherr.EngineError {
		t.Fatalf("expected EngineError, got %v", err)
	}
}

func TestReclaimStopsRemovesAndDeletes(t *testing.T) {
	eng := faketest.NewEngine()
	store := testStore(t)
	s := New(eng, store, testAllowlist(t), "")

	w, err := s.Spawn(context.Background(), Options{ProjectPath: t.TempDir(), Profile: "base"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := s.Reclaim(context.Background(), w); err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if _, err := store.GetWorker(w.Name); orcherr.KindOf(err) != orcherr.NotFound {
		t.Fatalf("expected worker record to be gone after reclaim")
	}
	if eng.RunningCount() != 0 {
		t.Fatalf("expected no running containers after reclaim")
	}
}

func TestReclaimIsIdempotentOnMissingContainer(t *testing.T) {
	eng := faketest.NewEngine()
	store := testStore(t)
	s := New(eng, store, testAllowlist(t), "")

	w := &statestore.Worker{Name: "ghost-worker", State: statestore.WorkerWarm, ContainerID: "does-not-exist", CreatedAt: time.Now()}
	if err := store.PutWorker(w); err != nil {
		t.Fatalf("PutWorker: %v", err)
	}
	if err := s.Reclaim(context.Background(), w); err != nil {
		t.Fatalf("Reclaim should tolerate an already-gone container: %v", err)
	}
}
