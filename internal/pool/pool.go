// Package pool runs the warm-worker pool reconciliation loop (spec §4.8,
// C8): a single periodic tick that reconciles dead workers, scales the warm
// set toward [min_warm, max_warm], and reaps idle-timed-out workers. Shaped
// after the reconcile/replenish/claim split in the pack's Hortator
// warm-pool controller (other_examples, warm_pool.go), adapted from a
// Kubernetes reconciler's list-and-patch cycle to this engine's
// inspect-and-file-rename cycle.
package pool

import (
	"context"
	"sort"
	"time"

	"github.com/hellblazer/hal-9000/internal/obslog"
	"github.com/hellblazer/hal-9000/internal/orcherr"
	"github.com/hellblazer/hal-9000/internal/spawner"
	"github.com/hellblazer/hal-9000/internal/statestore"
)

var log = obslog.For("pool")

// Config governs tick behavior (spec §6 env vars).
type Config struct {
	MinWarm       int
	MaxWarm       int
	IdleTimeout   time.Duration
	CheckInterval time.Duration
	Profile       string // profile used when spawning warm workers
	ProjectPath   string // placeholder workspace mount for not-yet-claimed warm workers
}

// Manager owns pool counters; it mutates Worker records only through the
// State Store (spec §3 ownership note).
type Manager struct {
	Store *statestore.Store
	Spawn *spawner.Spawner
	Cfg   Config
	Clock func() time.Time // seamed for tests
}

// New builds a Manager with the real wall clock.
func New(store *statestore.Store, sp *spawner.Spawner, cfg Config) *Manager {
	return &Manager{Store: store, Spawn: sp, Cfg: cfg, Clock: time.Now}
}

// Run blocks, ticking every Cfg.CheckInterval until ctx is canceled. Per-tick
// failures are logged and the loop continues (spec §7 propagation policy);
// only ctx cancellation stops it.
func (m *Manager) Run(ctx context.Context) {
	interval := m.Cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pool manager stopping")
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("pool tick failed")
			}
		}
	}
}

// Tick runs one reconciliation pass: reconcile, scale up, scale down, reap.
func (m *Manager) Tick(ctx context.Context) error {
	if err := m.reconcile(ctx); err != nil {
		return err
	}
	if err := m.scaleUp(ctx); err != nil {
		return err
	}
	if err := m.scaleDown(ctx); err != nil {
		return err
	}
	return m.reap(ctx)
}

// reconcile drops Worker records whose container no longer exists; reap()
// separately retires idle workers past idle_timeout.
func (m *Manager) reconcile(ctx context.Context) error {
	workers, err := m.Store.ListWorkers("")
	if err != nil {
		return err
	}
	for _, w := range workers {
		if w.ContainerID == "" {
			continue
		}
		if _, err := m.Spawn.Engine.Inspect(ctx, w.ContainerID); err != nil {
			if orcherr.KindOf(err) == orcherr.NotFound {
				log.Warn().Str("worker", w.Name).Msg("dropping worker record for vanished container")
				if delErr := m.Store.DeleteWorker(w.Name); delErr != nil && orcherr.KindOf(delErr) != orcherr.NotFound {
					return delErr
				}
				continue
			}
			return err
		}
	}
	return nil
}

func (m *Manager) warmWorkers() ([]*statestore.Worker, error) {
	workers, err := m.Store.ListWorkers(statestore.WorkerWarm)
	if err != nil {
		return nil, err
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].CreatedAt.Before(workers[j].CreatedAt) })
	return workers, nil
}

// scaleUp spawns pooled workers until the warm set reaches min_warm.
func (m *Manager) scaleUp(ctx context.Context) error {
	warm, err := m.warmWorkers()
	if err != nil {
		return err
	}
	for len(warm) < m.Cfg.MinWarm {
		w, err := m.Spawn.Spawn(ctx, spawner.Options{
			ProjectPath: m.Cfg.ProjectPath,
			Profile:     m.Cfg.Profile,
			Pooled:      true,
		})
		if err != nil {
			return err
		}
		warm = append(warm, w)
		log.Info().Str("worker", w.Name).Msg("scaled up warm pool")
	}
	return nil
}

// scaleDown stops and removes the oldest warm workers until the warm set
// reaches max_warm.
func (m *Manager) scaleDown(ctx context.Context) error {
	warm, err := m.warmWorkers()
	if err != nil {
		return err
	}
	for len(warm) > m.Cfg.MaxWarm {
		oldest := warm[0]
		if err := m.Spawn.Reclaim(ctx, oldest); err != nil {
			return err
		}
		log.Info().Str("worker", oldest.Name).Msg("scaled down warm pool")
		warm = warm[1:]
	}
	return nil
}

// reap stops and removes workers in idle past idle_timeout.
func (m *Manager) reap(ctx context.Context) error {
	idle, err := m.Store.ListWorkers(statestore.WorkerIdle)
	if err != nil {
		return err
	}
	for _, w := range idle {
		if w.LastAttachedAt.IsZero() || m.Clock().Sub(w.LastAttachedAt) <= m.Cfg.IdleTimeout {
			continue
		}
		if err := m.Spawn.Reclaim(ctx, w); err != nil {
			return err
		}
		log.Info().Str("worker", w.Name).Msg("reaped idle worker")
	}
	return nil
}

// Scale sets MinWarm/MaxWarm for `pool scale N` (spec §6 CLI surface); it does
// not itself spawn or reclaim — the next Tick converges to the new target.
func (m *Manager) Scale(minWarm, maxWarm int) {
	m.Cfg.MinWarm = minWarm
	m.Cfg.MaxWarm = maxWarm
}

// Status reports current pool counts for `daemon status`/`pool status`.
type Status struct {
	Warm, Claimed, Busy, Idle int
}

func (m *Manager) Status() (Status, error) {
	var st Status
	for state, dst := range map[statestore.WorkerState]*int{
		statestore.WorkerWarm:    &st.Warm,
		statestore.WorkerClaimed: &st.Claimed,
		statestore.WorkerBusy:    &st.Busy,
		statestore.WorkerIdle:    &st.Idle,
	} {
		workers, err := m.Store.ListWorkers(state)
		if err != nil {
			return Status{}, err
		}
		*dst = len(workers)
	}
	return st, nil
}
