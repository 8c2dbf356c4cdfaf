package pool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hellblazer/hal-9000/internal/allowlist"
	"github.com/hellblazer/hal-9000/internal/faketest"
	"github.com/hellblazer/hal-9000/internal/spawner"
	"github.com/hellblazer/hal-9000/internal/statestore"
)

func testManager(t *testing.T, cfg Config) (*Manager, *faketest.Engine, *statestore.Store) {
	t.Helper()
	eng := faketest.NewEngine()
	store, err := statestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	al, err := allowlist.Load(t.TempDir())
	if err != nil {
		t.Fatalf("allowlist.Load: %v", err)
	}
	sp := spawner.New(eng, store, al, "")
	if cfg.ProjectPath == "" {
		cfg.ProjectPath = t.TempDir()
	}
	if cfg.Profile == "" {
		cfg.Profile = "base"
	}
	return New(store, sp, cfg), eng, store
}

func TestTickScalesUpToMinWarm(t *testing.T) {
	m, eng, store := testManager(t, Config{MinWarm: 3, MaxWarm: 5, IdleTimeout: time.Minute})
	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	warm, err := store.ListWorkers(statestore.WorkerWarm)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(warm) != 3 {
		t.Fatalf("expected 3 warm workers, got %d", len(warm))
	}
	if eng.RunningCount() != 3 {
		t.Fatalf("expected 3 running containers, got %d", eng.RunningCount())
	}
}

func TestTickScalesDownToMaxWarm(t *testing.T) {
	m, eng, store := testManager(t, Config{MinWarm: 0, MaxWarm: 2, IdleTimeout: time.Minute})
	for i := 0; i < 4; i++ {
		if _, err := m.Spawn.Spawn(context.Background(), spawner.Options{
			ProjectPath: t.TempDir(), Profile: "base", Pooled: true,
		}); err != nil {
			t.Fatalf("seed Spawn: %v", err)
		}
	}
	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	warm, err := store.ListWorkers(statestore.WorkerWarm)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(warm) != 2 {
		t.Fatalf("expected 2 warm workers after scale-down, got %d", len(warm))
	}
	if eng.RunningCount() != 2 {
		t.Fatalf("expected 2 running containers after scale-down, got %d", eng.RunningCount())
	}
}

func TestScaleDownRemovesOldestFirst(t *testing.T) {
	m, _, store := testManager(t, Config{MinWarm: 0, MaxWarm: 1, IdleTimeout: time.Minute})
	clock := time.Unix(1_700_000_000, 0)
	var names []string
	for i := 0; i < 3; i++ {
		w, err := m.Spawn.Spawn(context.Background(), spawner.Options{
			ProjectPath: t.TempDir(), Profile: "base", Pooled: true,
		})
		if err != nil {
			t.Fatalf("seed Spawn: %v", err)
		}
		w.CreatedAt = clock.Add(time.Duration(i) * time.Minute)
		if err := store.PutWorker(w); err != nil {
			t.Fatalf("PutWorker: %v", err)
		}
		names = append(names, w.Name)
	}
	if err := m.scaleDown(context.Background()); err != nil {
		t.Fatalf("scaleDown: %v", err)
	}
	remaining, err := store.ListWorkers(statestore.WorkerWarm)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Name != names[2] {
		t.Fatalf("expected only the newest worker %q to remain, got %+v", names[2], remaining)
	}
}

func TestReconcileDropsVanishedContainers(t *testing.T) {
	m, eng, store := testManager(t, Config{MinWarm: 0, MaxWarm: 5, IdleTimeout: time.Minute})
	w, err := m.Spawn.Spawn(context.Background(), spawner.Options{ProjectPath: t.TempDir(), Profile: "base", Pooled: true})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	delete(eng.Containers, w.ContainerID)

	if err := m.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := store.GetWorker(w.Name); err == nil {
		t.Fatalf("expected worker record to be dropped after its container vanished")
	}
}

func TestReapRemovesPastIdleTimeout(t *testing.T) {
	m, eng, store := testManager(t, Config{MinWarm: 0, MaxWarm: 5, IdleTimeout: 2 * time.Second})
	w, err := m.Spawn.Spawn(context.Background(), spawner.Options{ProjectPath: t.TempDir(), Profile: "base", Pooled: true})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	w.LastAttachedAt = time.Now().Add(-time.Hour)
	if err := store.PutWorker(w); err != nil {
		t.Fatalf("PutWorker: %v", err)
	}
	if _, err := store.TransitionWorker(w.Name, statestore.WorkerWarm, statestore.WorkerIdle); err != nil {
		t.Fatalf("TransitionWorker: %v", err)
	}

	if err := m.reap(context.Background()); err != nil {
		t.Fatalf("reap: %v", err)
	}
	if _, err := store.GetWorker(w.Name); err == nil {
		t.Fatalf("expected idle worker to be reaped")
	}
	if eng.RunningCount() != 0 {
		t.Fatalf("expected container to be removed after reap")
	}
}

func TestStatusCountsPerState(t *testing.T) {
	m, _, _ := testManager(t, Config{MinWarm: 2, MaxWarm: 5, IdleTimeout: time.Minute})
	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	st, err := m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Warm != 2 {
		t.Fatalf("expected 2 warm workers in status, got %+v", st)
	}
}

// TestScaleUpWithWiredPlaceholderProjectPath constructs the Manager the same
// way cmd/hal9000d/wire.go's buildApp does: a real placeholder directory
// under the home dir, not a per-test TempDir override. This guards against
// ProjectPath silently staying "" in production wiring and every scale-up
// bind-mount being rejected by the real engine.
func TestScaleUpWithWiredPlaceholderProjectPath(t *testing.T) {
	home := t.TempDir()
	placeholder := filepath.Join(home, "warm-placeholder")
	if err := os.MkdirAll(placeholder, 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	eng := faketest.NewEngine()
	store, err := statestore.Open(home)
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	al, err := allowlist.Load(home)
	if err != nil {
		t.Fatalf("allowlist.Load: %v", err)
	}
	sp := spawner.New(eng, store, al, "")
	m := New(store, sp, Config{MinWarm: 2, MaxWarm: 5, IdleTimeout: time.Minute, Profile: "base", ProjectPath: placeholder})

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick with wired placeholder ProjectPath: %v", err)
	}
	warm, err := store.ListWorkers(statestore.WorkerWarm)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(warm) != 2 {
		t.Fatalf("expected 2 warm workers, got %d", len(warm))
	}
	if len(eng.RunCalls) != 2 {
		t.Fatalf("expected 2 Run calls, got %d", len(eng.RunCalls))
	}
	for _, call := range eng.RunCalls {
		if call.Mounts[0].Source != placeholder {
			t.Fatalf("expected warm worker bind-mount source %q, got %q", placeholder, call.Mounts[0].Source)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m, _, _ := testManager(t, Config{MinWarm: 0, MaxWarm: 1, IdleTimeout: time.Minute, CheckInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
}
