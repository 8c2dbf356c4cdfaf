// Package coordinator routes attach/send/list/stop commands to workers via
// the tmux session living inside each worker container (spec §4.9, C9).
// Adapted from the teacher's dyadTmuxRun/dyadTmuxAttach/validateTmuxArgs
// (tools/si/dyad.go): the same validated, NUL-free tmux argv construction,
// but run through engine.Exec (a docker exec equivalent) instead of a
// host-side os/exec.Command("tmux", ...), since the tmux server lives inside
// the container, not on the parent's host.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hellblazer/hal-9000/internal/engine"
	"github.com/hellblazer/hal-9000/internal/obslog"
	"github.com/hellblazer/hal-9000/internal/orcherr"
	"github.com/hellblazer/hal-9000/internal/statestore"
)

var log = obslog.For("coordinator")

// Coordinator serializes commands per worker while leaving different
// workers fully independent (spec §4.9 concurrency note).
type Coordinator struct {
	Engine    engine.Client
	Store     *statestore.Store
	StopGrace time.Duration

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	nowFunc func() time.Time
}

// New builds a Coordinator.
func New(eng engine.Client, store *statestore.Store) *Coordinator {
	return &Coordinator{
		Engine:    eng,
		Store:     store,
		StopGrace: 10 * time.Second,
		locks:     make(map[string]*sync.Mutex),
		nowFunc:   time.Now,
	}
}

func (c *Coordinator) lockFor(worker string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[worker]
	if !ok {
		l = &sync.Mutex{}
		c.locks[worker] = l
	}
	return l
}

// ListWorkers returns every tracked worker (spec §4.9 `list`).
func (c *Coordinator) ListWorkers() ([]*statestore.Worker, error) {
	return c.Store.ListWorkers("")
}

// Attach streams stdin/stdout/stderr to the worker's tmux session via
// engine.Exec, blocking until the session is detached or closed. On return
// it transitions the worker claimed/busy -> idle and stamps last_attached_at
// (spec §4.8 state diagram).
func (c *Coordinator) Attach(ctx context.Context, workerName string, stdin io.Reader, stdout, stderr io.Writer) error {
	lock := c.lockFor(workerName)
	lock.Lock()
	defer lock.Unlock()

	w, err := c.Store.GetWorker(workerName)
	if err != nil {
		return err
	}
	if w.ContainerID == "" {
		return orcherr.New(orcherr.Conflict, "coordinator.Attach", fmt.Errorf("worker %q has no container", workerName))
	}
	if w.State == statestore.WorkerClaimed {
		if _, err := c.Store.TransitionWorker(workerName, statestore.WorkerClaimed, statestore.WorkerBusy); err != nil {
			return err
		}
	}

	args, err := tmuxArgs("attach-session", "-t", tmuxSessionName(workerName))
	if err != nil {
		return orcherr.New(orcherr.Internal, "coordinator.Attach", err)
	}
	err = c.Engine.Exec(ctx, w.ContainerID, args, engine.ExecOptions{Tty: true}, stdin, stdout, stderr)

	if transErr := c.markIdle(workerName); transErr != nil {
		log.Error().Err(transErr).Str("worker", workerName).Msg("failed to mark worker idle after detach")
	}
	if err != nil {
		return orcherr.New(orcherr.EngineError, "coordinator.Attach", err)
	}
	return nil
}

func (c *Coordinator) markIdle(workerName string) error {
	w, err := c.Store.GetWorker(workerName)
	if err != nil {
		return err
	}
	w.LastAttachedAt = c.nowFunc()
	if err := c.Store.PutWorker(w); err != nil {
		return err
	}
	if w.State == statestore.WorkerBusy {
		if _, err := c.Store.TransitionWorker(workerName, statestore.WorkerBusy, statestore.WorkerIdle); err != nil {
			return err
		}
	}
	return nil
}

// Send injects keystrokes into a worker's tmux session without attaching
// (spec §4.9 `send`), via `tmux send-keys`.
func (c *Coordinator) Send(ctx context.Context, workerName, keys string) error {
	lock := c.lockFor(workerName)
	lock.Lock()
	defer lock.Unlock()

	w, err := c.Store.GetWorker(workerName)
	if err != nil {
		return err
	}
	args, err := tmuxArgs("send-keys", "-t", tmuxSessionName(workerName), keys, "Enter")
	if err != nil {
		return orcherr.New(orcherr.Internal, "coordinator.Send", err)
	}
	if err := c.Engine.Exec(ctx, w.ContainerID, args, engine.ExecOptions{}, nil, io.Discard, io.Discard); err != nil {
		return orcherr.New(orcherr.EngineError, "coordinator.Send", err)
	}
	return nil
}

// Stop detaches (if needed), then stops and removes a worker's container
// after StopGrace, and deletes its record.
func (c *Coordinator) Stop(ctx context.Context, workerName string) error {
	lock := c.lockFor(workerName)
	lock.Lock()
	defer lock.Unlock()

	w, err := c.Store.GetWorker(workerName)
	if err != nil {
		return err
	}
	if w.ContainerID != "" {
		if err := c.Engine.Stop(ctx, w.ContainerID, c.StopGrace); err != nil && orcherr.KindOf(err) != orcherr.NotFound {
			return orcherr.New(orcherr.EngineError, "coordinator.Stop", err)
		}
		if err := c.Engine.Rm(ctx, w.ContainerID, true); err != nil && orcherr.KindOf(err) != orcherr.NotFound {
			return orcherr.New(orcherr.EngineError, "coordinator.Stop", err)
		}
	}
	if err := c.Store.DeleteWorker(workerName); err != nil && orcherr.KindOf(err) != orcherr.NotFound {
		return err
	}
	log.Info().Str("worker", workerName).Msg("worker stopped")
	return nil
}

func tmuxSessionName(workerName string) string { return workerName }

// tmuxArgs validates a tmux argv for the NUL-byte rule the teacher's
// validateTmuxArgs enforces, then returns it as a full `tmux <args...>` argv.
func tmuxArgs(args ...string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("tmux args required")
	}
	for _, arg := range args {
		if strings.ContainsRune(arg, 0) {
			return nil, fmt.Errorf("invalid tmux argument: contains NUL byte")
		}
	}
	return append([]string{"tmux"}, args...), nil
}
