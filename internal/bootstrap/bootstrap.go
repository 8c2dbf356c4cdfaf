// Package bootstrap runs the parent's one-time startup sequence (spec §4.5,
// C5): preflight checks, a parallel warm-up phase, a readiness gate on the
// Shared Services heartbeat, then launching background services. Grounded
// on the teacher's check-then-run-then-report preflight idiom
// (tools/si/image_preflight.go), generalized from a one-shot shell-script
// preflight to this process's engine-socket probe and directory preflight.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hellblazer/hal-9000/internal/allowlist"
	"github.com/hellblazer/hal-9000/internal/config"
	"github.com/hellblazer/hal-9000/internal/engine"
	"github.com/hellblazer/hal-9000/internal/obslog"
	"github.com/hellblazer/hal-9000/internal/orcherr"
	"github.com/hellblazer/hal-9000/internal/pool"
	"github.com/hellblazer/hal-9000/internal/sharedservices"
	"github.com/hellblazer/hal-9000/internal/statestore"
	"github.com/hellblazer/hal-9000/internal/validator"
)

var log = obslog.For("bootstrap")

// DefaultReadinessDeadline is the §4.5 readiness gate's hard deadline.
const DefaultReadinessDeadline = 30 * time.Second

// Bootstrap wires the components C5 starts, in the order spec §4.5 names.
type Bootstrap struct {
	Engine            engine.Client
	Store             *statestore.Store
	Shared            *sharedservices.Service
	Pool              *pool.Manager
	Allow             *allowlist.Allowlist
	Cfg               config.Config
	ReadinessDeadline time.Duration
}

// New builds a Bootstrap with the default readiness deadline.
func New(eng engine.Client, store *statestore.Store, shared *sharedservices.Service, mgr *pool.Manager, allow *allowlist.Allowlist, cfg config.Config) *Bootstrap {
	return &Bootstrap{Engine: eng, Store: store, Shared: shared, Pool: mgr, Allow: allow, Cfg: cfg, ReadinessDeadline: DefaultReadinessDeadline}
}

func (b *Bootstrap) markerPath() string { return filepath.Join(b.Cfg.Home, "bootstrap.pid") }

// MarkerPath exposes the bootstrap marker's location for `daemon stop`/`daemon
// status` to read the parent's PID without redoing bootstrap.
func (b *Bootstrap) MarkerPath() string { return b.markerPath() }

// RunningPID returns the parent's PID and true if its bootstrap marker names
// a still-alive process.
func (b *Bootstrap) RunningPID() (int, bool) {
	pid, ok := readMarkerPID(b.markerPath())
	if !ok {
		return 0, false
	}
	return pid, unix.Kill(pid, 0) == nil
}

// Run executes the four phases. It is idempotent: if a marker recorded by a
// still-alive process already exists, Run returns nil without redoing work
// (spec §4.5 "rerunning against an already-started parent detects and exits
// cleanly").
func (b *Bootstrap) Run(ctx context.Context) error {
	if alreadyStarted(b.markerPath()) {
		log.Info().Msg("bootstrap: parent already started, nothing to do")
		return nil
	}

	if err := b.preflight(ctx); err != nil {
		return err
	}
	if err := b.warmUp(ctx); err != nil {
		return err
	}
	if err := b.readinessGate(ctx); err != nil {
		return err
	}
	b.backgroundServices(ctx)

	if err := writeMarker(b.markerPath()); err != nil {
		log.Warn().Err(err).Msg("failed to write bootstrap marker; future restarts will redo bootstrap")
	}
	return nil
}

// preflight creates state directories (statestore.Open already did this at
// construction), verifies the engine socket responds, and rejects a
// configured WORKER_IMAGE that isn't allowlisted before the parent is ever
// reported healthy (spec §6 WORKER_IMAGE, scenario S4: "bootstrap fails with
// PolicyDenied; parent not healthy").
func (b *Bootstrap) preflight(ctx context.Context) error {
	if err := b.Engine.Ping(ctx); err != nil {
		return orcherr.New(orcherr.EngineUnavailable, "bootstrap.preflight", err)
	}
	if b.Cfg.WorkerImage != "" && b.Allow != nil {
		if err := validator.CheckImageRef(b.Cfg.WorkerImage, b.Allow.Entries()); err != nil {
			return err
		}
	}
	return nil
}

// warmUp starts Shared Services and a worker-image pull concurrently. A
// Shared Services start failure is fatal; an image-pull failure is only a
// warning (spec §4.5 phase 2).
func (b *Bootstrap) warmUp(ctx context.Context) error {
	var wg sync.WaitGroup
	var sharedErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		sharedErr = b.Shared.Start(ctx)
	}()

	if !b.Cfg.SkipImagePull {
		pull := func() {
			image := b.Cfg.WorkerImage
			if image == "" {
				return
			}
			if err := b.Engine.Pull(ctx, image); err != nil {
				log.Warn().Err(err).Msg("background worker image pull failed")
			}
		}
		if b.Cfg.LazyImagePull {
			go pull()
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pull()
			}()
		}
	}

	wg.Wait()
	if sharedErr != nil {
		return orcherr.New(orcherr.Internal, "bootstrap.warmUp", fmt.Errorf("shared services failed to start: %w", sharedErr))
	}
	return nil
}

// readinessGate blocks on the Shared Services heartbeat within the deadline.
func (b *Bootstrap) readinessGate(ctx context.Context) error {
	deadline := b.ReadinessDeadline
	if deadline <= 0 {
		deadline = DefaultReadinessDeadline
	}
	gateCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	if err := b.Shared.WaitReady(gateCtx); err != nil {
		return orcherr.New(orcherr.Timeout, "bootstrap.readinessGate", err)
	}
	return nil
}

// backgroundServices launches the Pool Manager loop and the Shared Services
// heartbeat poller as goroutines if configured, matching §5's "no shared
// mutable data other than the State Store" (both talk to it independently).
func (b *Bootstrap) backgroundServices(ctx context.Context) {
	go b.Shared.RunHeartbeat(ctx)
	if b.Cfg.EnablePoolManager && b.Pool != nil {
		go b.Pool.Run(ctx)
	}
}

func alreadyStarted(markerPath string) bool {
	pid, ok := readMarkerPID(markerPath)
	if !ok {
		return false
	}
	// Signal 0 checks liveness without actually delivering a signal.
	return unix.Kill(pid, 0) == nil
}

func readMarkerPID(markerPath string) (int, bool) {
	// #nosec G304 -- path is derived from HAL9000_HOME, a trusted local setting.
	raw, err := os.ReadFile(markerPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func writeMarker(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}
