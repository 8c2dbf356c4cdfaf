package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/hellblazer/hal-9000/internal/allowlist"
	"github.com/hellblazer/hal-9000/internal/bootstrap"
	"github.com/hellblazer/hal-9000/internal/config"
	"github.com/hellblazer/hal-9000/internal/coordinator"
	"github.com/hellblazer/hal-9000/internal/engine"
	"github.com/hellblazer/hal-9000/internal/obslog"
	"github.com/hellblazer/hal-9000/internal/orcherr"
	"github.com/hellblazer/hal-9000/internal/pool"
	"github.com/hellblazer/hal-9000/internal/sessionapi"
	"github.com/hellblazer/hal-9000/internal/sharedservices"
	"github.com/hellblazer/hal-9000/internal/spawner"
	"github.com/hellblazer/hal-9000/internal/statestore"
)

// app bundles every wired component so daemon/spawn/attach/list/pool
// commands share one construction path (spec §5: single OS process).
type app struct {
	cfg    config.Config
	engine engine.Client
	store  *statestore.Store
	allow  *allowlist.Allowlist
	spawn  *spawner.Spawner
	pool   *pool.Manager
	coord  *coordinator.Coordinator
	shared *sharedservices.Service
	boot   *bootstrap.Bootstrap
	api    *sessionapi.API
}

// buildApp loads configuration and constructs every component. The
// orchestrator's own container ID (for NetworkMode "container:<id>") comes
// from HAL9000_PARENT_CONTAINER_ID, set by the image's entrypoint; an empty
// value means the daemon runs directly on the host network (e.g. local dev).
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	obslog.SetDebug(os.Getenv("HAL9000_DEBUG") == "true")

	eng, err := engine.NewDockerClient(time.Duration(cfg.EngineCallTimeoutSec) * time.Second)
	if err != nil {
		return nil, err
	}
	store, err := statestore.Open(cfg.Home)
	if err != nil {
		return nil, err
	}
	allow, err := allowlist.Load(cfg.Home)
	if err != nil {
		return nil, err
	}

	// WORKER_IMAGE defaults to the allowlist's first entry (spec §6) when the
	// operator hasn't pinned one explicitly.
	if cfg.WorkerImage == "" {
		cfg.WorkerImage = allow.Default()
	}

	parentID := parentContainerID()
	sp := spawner.New(eng, store, allow, parentID)
	sp.DefaultImageRef = cfg.WorkerImage

	warmPlaceholder := filepath.Join(cfg.Home, "warm-placeholder")
	if err := os.MkdirAll(warmPlaceholder, 0o700); err != nil {
		return nil, orcherr.New(orcherr.Internal, "buildApp", err)
	}

	mgr := pool.New(store, sp, pool.Config{
		MinWarm:       cfg.MinWarmWorkers,
		MaxWarm:       cfg.MaxWarmWorkers,
		IdleTimeout:   time.Duration(cfg.IdleTimeoutSec) * time.Second,
		CheckInterval: time.Duration(cfg.CheckIntervalSec) * time.Second,
		Profile:       "base",
		ProjectPath:   warmPlaceholder,
	})
	coord := coordinator.New(eng, store)

	shared := sharedservices.New(sharedservices.Config{
		BinaryPath: cfg.ChromaDBBinary,
		Host:       cfg.ChromaDBHost,
		Port:       cfg.ChromaDBPort,
		DataDir:    cfg.ChromaDBDataDir,
	})
	boot := bootstrap.New(eng, store, shared, mgr, allow, cfg)

	api := sessionapi.New(store, sp, mgr, coord, allow)

	return &app{
		cfg: cfg, engine: eng, store: store, allow: allow,
		spawn: sp, pool: mgr, coord: coord, shared: shared, boot: boot, api: api,
	}, nil
}
