// Package faketest provides an in-memory engine.Client double, the test
// seam called for by spec §9's "tagged variant over EngineCall... the test
// double replaces the handler."
package faketest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hellblazer/hal-9000/internal/engine"
	"github.com/hellblazer/hal-9000/internal/orcherr"
)

// Engine is a fake engine.Client backed by an in-memory container table.
// It records every Run call so tests can assert the allowlist-closure and
// validator-precedence invariants (spec §8, invariants 2 and 3).
type Engine struct {
	mu sync.Mutex

	Containers map[string]*container
	RunCalls   []engine.RunSpec
	PingErr    error
	nextID     int

	// RunErr, when set, is returned by every Run call instead of creating a container.
	RunErr error
}

type container struct {
	id      string
	name    string
	image   string
	running bool
	labels  map[string]string
}

// NewEngine returns an empty fake engine.
func NewEngine() *Engine {
	return &Engine{Containers: map[string]*container{}}
}

func (e *Engine) Ping(context.Context) error { return e.PingErr }

func (e *Engine) Run(_ context.Context, spec engine.RunSpec) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.RunCalls = append(e.RunCalls, spec)
	if e.RunErr != nil {
		return "", e.RunErr
	}
	e.nextID++
	id := fmt.Sprintf("fake-%d", e.nextID)
	e.Containers[id] = &container{id: id, name: spec.Name, image: spec.Image, running: true, labels: spec.Labels}
	return id, nil
}

func (e *Engine) Exec(context.Context, string, []string, engine.ExecOptions, io.Reader, io.Writer, io.Writer) error {
	return nil
}

func (e *Engine) Inspect(_ context.Context, containerID string) (engine.ContainerInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.Containers[containerID]
	if !ok {
		return engine.ContainerInfo{}, orcherr.New(orcherr.NotFound, "faketest.Inspect", fmt.Errorf("no such container"))
	}
	return engine.ContainerInfo{ID: c.id, Name: c.name, Running: c.running, Labels: c.labels}, nil
}

func (e *Engine) ContainerByName(_ context.Context, name string) (string, *engine.ContainerInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.Containers {
		if c.name == name {
			info := engine.ContainerInfo{ID: c.id, Name: c.name, Running: c.running, Labels: c.labels}
			return c.id, &info, nil
		}
	}
	return "", nil, nil
}

func (e *Engine) Rename(_ context.Context, containerID, newName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.Containers[containerID]
	if !ok {
		return orcherr.New(orcherr.NotFound, "faketest.Rename", fmt.Errorf("no such container"))
	}
	c.name = newName
	return nil
}

func (e *Engine) Stop(_ context.Context, containerID string, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.Containers[containerID]
	if !ok {
		return orcherr.New(orcherr.NotFound, "faketest.Stop", fmt.Errorf("no such container"))
	}
	c.running = false
	return nil
}

func (e *Engine) Rm(_ context.Context, containerID string, _ bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.Containers[containerID]; !ok {
		return orcherr.New(orcherr.NotFound, "faketest.Rm", fmt.Errorf("no such container"))
	}
	delete(e.Containers, containerID)
	return nil
}

func (e *Engine) Pull(context.Context, string) error { return nil }

func (e *Engine) VolumeCreate(context.Context, string, map[string]string) (string, error) {
	return "fake-volume", nil
}

func (e *Engine) Stats(context.Context, string) (engine.Stats, error) {
	return engine.Stats{}, nil
}

func (e *Engine) Close() error { return nil }

// RunningCount returns the number of containers currently marked running.
func (e *Engine) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.Containers {
		if c.running {
			n++
		}
	}
	return n
}

var _ engine.Client = (*Engine)(nil)
