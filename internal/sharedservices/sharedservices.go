// Package sharedservices launches and health-checks the vector-index server
// (spec §4.6, C6). The server program itself is an external collaborator
// (spec §1 Non-goals enumerate it as out of scope); this package only
// starts it as a subprocess bound to the parent's network namespace and
// polls its heartbeat. Grounded on the teacher's 2s-timeout docker Ping
// (agents/shared/docker/client.go) for the probe shape, reimplemented here
// over stdlib net/http since no pack library adds anything over
// http.Client.Get with a timeout; the bind port itself is validated with
// docker/go-connections/nat, the same package the teacher's dyad.go and
// codex.go use to build nat.Port/nat.PortBinding values.
package sharedservices

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/hellblazer/hal-9000/internal/obslog"
	"github.com/hellblazer/hal-9000/internal/orcherr"
)

var log = obslog.For("sharedservices")

// State is the heartbeat-derived status (spec §4.6: starting -> ok -> failed).
type State string

const (
	StateStarting State = "starting"
	StateOK       State = "ok"
	StateFailed   State = "failed"
)

// Config configures the vector-index subprocess and its heartbeat probe.
type Config struct {
	BinaryPath         string // path to the vector-index server binary
	Args               []string
	Host               string
	Port               int
	DataDir            string
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	MaxConsecutiveMiss int
}

// Service supervises one vector-index subprocess and reports its State.
type Service struct {
	cfg Config

	mu     sync.RWMutex
	state  State
	cmd    *exec.Cmd
	client *http.Client
}

// New builds a Service in StateStarting.
func New(cfg Config) *Service {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 2 * time.Second
	}
	if cfg.MaxConsecutiveMiss <= 0 {
		cfg.MaxConsecutiveMiss = 3
	}
	return &Service{
		cfg:    cfg,
		state:  StateStarting,
		client: &http.Client{Timeout: cfg.HeartbeatTimeout},
	}
}

// bindPort validates cfg.Port as a well-formed TCP port spec the same way
// the engine itself would (docker/go-connections/nat backs container port
// bindings throughout the teacher's dyad code), and returns its normalized
// decimal form for both the subprocess argv and the heartbeat URL.
func (s *Service) bindPort() (string, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(s.cfg.Port))
	if err != nil {
		return "", orcherr.New(orcherr.InvalidArgument, "sharedservices.bindPort", err)
	}
	return port.Port(), nil
}

// Start launches the subprocess bound to <Host>:<port> (0.0.0.0 when Host is
// empty) and returns once the process has been started (not once it is
// healthy; see WaitReady).
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.BinaryPath == "" {
		return orcherr.New(orcherr.InvalidArgument, "sharedservices.Start", fmt.Errorf("binary path is required"))
	}
	port, err := s.bindPort()
	if err != nil {
		return err
	}
	host := s.cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	args := append([]string{}, s.cfg.Args...)
	args = append(args, "--host", host, "--port", port, "--path", s.cfg.DataDir)
	cmd := exec.CommandContext(ctx, s.cfg.BinaryPath, args...)
	if err := cmd.Start(); err != nil {
		return orcherr.New(orcherr.Internal, "sharedservices.Start", err)
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warn().Err(err).Msg("vector-index subprocess exited")
		}
	}()
	return nil
}

// heartbeatURL is the probe endpoint reached over the shared loopback
// namespace (spec §4.6: workers and the parent both see localhost:<port>).
func (s *Service) heartbeatURL() string {
	port, err := s.bindPort()
	if err != nil {
		port = strconv.Itoa(s.cfg.Port)
	}
	return fmt.Sprintf("http://127.0.0.1:%s/api/v2/heartbeat", port)
}

func (s *Service) probeOnce(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.heartbeatURL(), nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// WaitReady blocks until the heartbeat returns OK or deadline elapses,
// transitioning StateStarting -> StateOK (spec §4.5 readiness gate, default
// 30s deadline set by the caller via ctx).
func (s *Service) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.probeOnce(ctx) {
			s.setState(StateOK)
			return nil
		}
		select {
		case <-ctx.Done():
			return orcherr.New(orcherr.Timeout, "sharedservices.WaitReady", ctx.Err())
		case <-ticker.C:
		}
	}
}

// RunHeartbeat polls the probe at HeartbeatInterval until ctx is canceled,
// moving ok -> failed after MaxConsecutiveMiss consecutive misses and back
// to ok on the next success.
func (s *Service) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.probeOnce(ctx) {
				misses = 0
				s.setState(StateOK)
				continue
			}
			misses++
			if misses >= s.cfg.MaxConsecutiveMiss {
				s.setState(StateFailed)
				log.Error().Int("misses", misses).Msg("vector-index heartbeat failed")
			}
		}
	}
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// State reports the current heartbeat-derived status.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stop terminates the subprocess, if running.
func (s *Service) Stop() error {
	s.mu.RLock()
	cmd := s.cmd
	s.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return orcherr.New(orcherr.Internal, "sharedservices.Stop", err)
	}
	return nil
}
