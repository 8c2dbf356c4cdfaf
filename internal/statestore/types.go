package statestore

import "time"

// WorkerState is one of the states in the Worker lifecycle (spec §3, §4.8).
type WorkerState string

const (
	WorkerWarm    WorkerState = "warm"
	WorkerClaimed WorkerState = "claimed"
	WorkerBusy    WorkerState = "busy"
	WorkerIdle    WorkerState = "idle"
	WorkerReaped  WorkerState = "reaped"
)

// ResourceLimits mirrors the engine's memory/cpus/pids-limit knobs.
type ResourceLimits struct {
	Memory string  `json:"memory"`
	CPUs   float64 `json:"cpus"`
	Pids   int     `json:"pids"`
}

// DefaultResourceLimits are the spec §3 defaults.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{Memory: "4g", CPUs: 2.0, Pids: 100}
}

// Session is one project-path-to-worker mapping for the user (spec §3).
type Session struct {
	SchemaVersion  int            `json:"schema_version"`
	ID             string         `json:"id"`
	ProjectPath    string         `json:"project_path"`
	Profile        string         `json:"profile"`
	ContainerID    string         `json:"container_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAttachedAt time.Time      `json:"last_attached_at,omitempty"`
	ResourceLimits ResourceLimits `json:"resource_limits"`

	// Unknown fields round-tripped on read-modify-write (spec §6 forward
	// compatibility). Populated by Get, merged back in on Put.
	Extra map[string]any `json:"-"`
}

// Worker is one container holding a tmux session hosting the assistant CLI.
type Worker struct {
	SchemaVersion    int            `json:"schema_version"`
	Name             string         `json:"name"`
	State            WorkerState    `json:"state"`
	ImageRef         string         `json:"image_ref"`
	NetworkMode      string         `json:"network_mode"`
	TmuxSocketPath   string         `json:"tmux_socket_path"`
	ResourceLimits   ResourceLimits `json:"resource_limits"`
	ContainerID      string         `json:"container_id,omitempty"`
	SessionID        string         `json:"session_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	LastAttachedAt   time.Time      `json:"last_attached_at,omitempty"`

	Extra map[string]any `json:"-"`
}
