// Package spawner creates Worker containers (spec §4.7, C7): it builds a
// validated engine.RunSpec, asks the engine to run it, and records the
// resulting container as a Worker in the state store. Grounded on the
// teacher's BuildDyadSpecs/CreateDyad pair (shared/docker/dyad.go) and its
// host-mount helpers (shared/docker/si_mounts.go), adapted from a two-member
// dyad spec to a single worker container attached to the parent's network
// namespace.
package spawner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hellblazer/hal-9000/internal/allowlist"
	"github.com/hellblazer/hal-9000/internal/engine"
	"github.com/hellblazer/hal-9000/internal/namederive"
	"github.com/hellblazer/hal-9000/internal/obslog"
	"github.com/hellblazer/hal-9000/internal/orcherr"
	"github.com/hellblazer/hal-9000/internal/statestore"
	"github.com/hellblazer/hal-9000/internal/validator"
)

var log = obslog.For("spawner")

// Spawner builds and tracks Worker containers.
type Spawner struct {
	Engine          engine.Client
	Store           *statestore.Store
	Allow           *allowlist.Allowlist
	ParentID        string // the orchestrator's own container ID; "" when running on the host
	StopGrace       time.Duration
	DefaultImageRef string // WORKER_IMAGE (spec §6); consulted before Allow.ForProfile
}

// New builds a Spawner. parentContainerID is the orchestrator's own
// container ID, used for NetworkMode "container:<parent-id>" (spec §4.7);
// pass "" when the daemon runs directly on the host network.
func New(eng engine.Client, store *statestore.Store, allow *allowlist.Allowlist, parentContainerID string) *Spawner {
	return &Spawner{Engine: eng, Store: store, Allow: allow, ParentID: parentContainerID, StopGrace: 10 * time.Second}
}

// Options describes one worker to spawn.
type Options struct {
	ProjectPath    string // canonical, already validated by validator.CheckProjectPath
	Profile        string
	ImageRef       string // "" picks Spawner.DefaultImageRef, else allowlist.ForProfile(Profile)
	SessionID      string // "" for a pooled (warm) worker with no session yet
	ResourceLimits statestore.ResourceLimits
	Pooled         bool // true: land in the warm/ state; false: land in claimed/
}

// tmuxSocketDir is the bind-mounted directory holding each worker's tmux
// server socket, reached from the host/coordinator side via docker exec
// rather than a host tmux client (SPEC_FULL.md §4, C9).
const tmuxSocketDir = "/var/run/hal9000-tmux"

// Spawn validates opts, runs a new container through the engine, and
// persists the resulting Worker record. On any failure after the container
// is created, Spawn removes it before returning (spec §4.7 rollback).
func (s *Spawner) Spawn(ctx context.Context, opts Options) (*statestore.Worker, error) {
	if err := validator.CheckProfile(opts.Profile); err != nil {
		return nil, err
	}
	canonicalPath, err := validator.CheckProjectPath(opts.ProjectPath)
	if err != nil {
		return nil, err
	}
	imageRef := opts.ImageRef
	if imageRef == "" {
		imageRef = s.DefaultImageRef
	}
	if imageRef == "" {
		resolved, ok := s.Allow.ForProfile(opts.Profile)
		if !ok {
			return nil, orcherr.New(orcherr.InvalidArgument, "spawner.Spawn",
				fmt.Errorf("no allowlisted image for profile %q", opts.Profile))
		}
		imageRef = resolved
	}
	if err := validator.CheckImageRef(imageRef, s.Allow.Entries()); err != nil {
		return nil, err
	}

	name := "hal9000-worker-" + uuid.NewString()[:8]
	if err := validator.CheckWorkerName(name); err != nil {
		return nil, orcherr.New(orcherr.Internal, "spawner.Spawn", fmt.Errorf("generated worker name invalid: %w", err))
	}

	limits := opts.ResourceLimits
	if limits == (statestore.ResourceLimits{}) {
		limits = statestore.DefaultResourceLimits()
	}

	networkMode := "bridge"
	if s.ParentID != "" {
		networkMode = "container:" + s.ParentID
	}

	socketDir := tmuxSocketDir + "/" + name
	spec := engine.RunSpec{
		Name:        name,
		Image:       imageRef,
		// The image's own entrypoint starts a detached tmux session named after
		// the worker, whose sole pane runs the assistant CLI; the spawner never
		// launches tmux itself, it only tells the entrypoint which socket
		// directory and session name to use (HAL9000_WORKER_NAME below).
		Entrypoint: []string{"tini", "-s", "--", "/usr/local/bin/hal9000-worker-init"},
		Cmd:        []string{"--socket-dir", tmuxSocketDir, "--session", name},
		NetworkMode: networkMode,
		User:        "10000:10000",
		Mounts: []engine.Mount{
			{Source: canonicalPath, Target: "/workspace", ReadOnly: false, Propagation: "rprivate"},
			{Source: socketDir, Target: tmuxSocketDir, ReadOnly: false, Propagation: "rprivate"},
		},
		Env: []string{
			"HAL9000_WORKER_NAME=" + name,
			"HAL9000_PROFILE=" + opts.Profile,
			"HOME=/home/worker",
		},
		Labels: map[string]string{
			"hal9000.worker":  name,
			"hal9000.profile": opts.Profile,
		},
		Memory:    limits.Memory,
		CPUs:      limits.CPUs,
		PidsLimit: limits.Pids,
	}
	// No docker-socket mount is ever added here (spec §4.7 security posture);
	// unlike the teacher's DockerSocketMount-gated dyad, worker containers
	// never get engine access of their own.

	containerID, err := s.Engine.Run(ctx, spec)
	if err != nil {
		return nil, orcherr.New(orcherr.EngineError, "spawner.Spawn", err)
	}

	state := statestore.WorkerClaimed
	if opts.Pooled {
		state = statestore.WorkerWarm
	}
	w := &statestore.Worker{
		SchemaVersion:  1,
		Name:           name,
		State:          state,
		ImageRef:       imageRef,
		NetworkMode:    networkMode,
		TmuxSocketPath: socketDir,
		ResourceLimits: limits,
		ContainerID:    containerID,
		SessionID:      opts.SessionID,
		CreatedAt:      nowFunc(),
	}
	if err := s.Store.PutWorker(w); err != nil {
		log.Error().Err(err).Str("worker", name).Msg("rolling back container after state write failure")
		if rmErr := s.Engine.Rm(ctx, containerID, true); rmErr != nil {
			log.Error().Err(rmErr).Str("worker", name).Msg("rollback removal also failed")
		}
		return nil, orcherr.New(orcherr.Internal, "spawner.Spawn", err)
	}
	log.Info().Str("worker", name).Str("image", imageRef).Msg("spawned worker")
	return w, nil
}

// Reclaim stops and removes a worker's container and deletes its record
// (spec §4.8's terminal "reaped" transition after a grace period).
func (s *Spawner) Reclaim(ctx context.Context, w *statestore.Worker) error {
	if w.ContainerID != "" {
		if err := s.Engine.Stop(ctx, w.ContainerID, s.StopGrace); err != nil && orcherr.KindOf(err) != orcherr.NotFound {
			return orcherr.New(orcherr.EngineError, "spawner.Reclaim", err)
		}
		if err := s.Engine.Rm(ctx, w.ContainerID, true); err != nil && orcherr.KindOf(err) != orcherr.NotFound {
			return orcherr.New(orcherr.EngineError, "spawner.Reclaim", err)
		}
	}
	if err := s.Store.DeleteWorker(w.Name); err != nil && orcherr.KindOf(err) != orcherr.NotFound {
		return orcherr.New(orcherr.Internal, "spawner.Reclaim", err)
	}
	return nil
}

// DeriveSessionWorkerName returns namederive.Derive(projectPath), the
// deterministic session ID for a project path. Spawn does not use it: worker
// containers are named "hal9000-worker-<uuid8>", and sessionapi finds a
// session's worker through the worker record's SessionID.
func DeriveSessionWorkerName(projectPath string) string {
	return namederive.Derive(projectPath)
}

// nowFunc is overridden in tests to make CreatedAt deterministic.
var nowFunc = time.Now
