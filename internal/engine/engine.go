// Package engine is a thin, typed wrapper over the container-engine CLI/API
// (spec §4.4). It is the only component that talks to the engine socket; it
// adds no string interpolation of user input into argv, and every argument
// it forwards has already passed through internal/validator.
package engine

import (
	"context"
	"io"
	"time"
)

// Mount is a single bind mount for a worker container.
type Mount struct {
	Source      string
	Target      string
	ReadOnly    bool
	Propagation string // e.g. "rprivate"
}

// RunSpec describes a container to create (spec §4.7, §3 Worker fields).
type RunSpec struct {
	Name        string
	Image       string
	Cmd         []string
	Entrypoint  []string
	NetworkMode string // "container:<parent-id>"
	Mounts      []Mount
	Env         []string
	Labels      map[string]string
	User        string // non-root UID inside the image

	Memory   string  // e.g. "4g"
	CPUs     float64 // e.g. 2.0
	PidsLimit int
}

// ExecOptions configures a one-shot or interactive exec call.
type ExecOptions struct {
	Tty        bool
	WorkingDir string
}

// ContainerInfo is the subset of engine inspect output the orchestrator needs.
type ContainerInfo struct {
	ID      string
	Name    string
	Running bool
	Labels  map[string]string
}

// Stats is the subset of engine stats output Client.Stats returns. No CLI
// command reads it: `daemon status` and `list` do not show per-container stats.
type Stats struct {
	MemoryUsageBytes uint64
	CPUPercent       float64
	Pids             uint64
}

// Client is the tagged-capability set {run, exec, inspect, rename, stop, rm,
// pull, volume-create, stats} (spec §9 design note: a single handler over a
// tagged variant). One implementation talks to the real engine; faketest
// provides a test double.
type Client interface {
	Ping(ctx context.Context) error
	Run(ctx context.Context, spec RunSpec) (containerID string, err error)
	Exec(ctx context.Context, containerID string, cmd []string, opts ExecOptions, stdin io.Reader, stdout, stderr io.Writer) error
	Inspect(ctx context.Context, containerID string) (ContainerInfo, error)
	ContainerByName(ctx context.Context, name string) (id string, info *ContainerInfo, err error)
	Rename(ctx context.Context, containerID, newName string) error
	Stop(ctx context.Context, containerID string, timeout time.Duration) error
	Rm(ctx context.Context, containerID string, force bool) error
	Pull(ctx context.Context, imageRef string) error
	VolumeCreate(ctx context.Context, name string, labels map[string]string) (string, error)
	Stats(ctx context.Context, containerID string) (Stats, error)
	Close() error
}

// DefaultCallTimeout is engine_call_timeout's default (spec §6).
const DefaultCallTimeout = 30 * time.Second
