package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/hellblazer/hal-9000/internal/orcherr"
)

// dockerClient is the real Client implementation, adapted from the shared
// Docker SDK wrapper: it negotiates the API version, pings on construction,
// and times every call out at callTimeout (spec §4.4), except the attached
// stream of an Exec.
type dockerClient struct {
	api         *client.Client
	callTimeout time.Duration
}

// NewDockerClient connects to the engine over DOCKER_HOST or the default
// socket and verifies it responds before returning.
func NewDockerClient(callTimeout time.Duration) (Client, error) {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, orcherr.New(orcherr.EngineUnavailable, "engine.NewDockerClient", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, orcherr.New(orcherr.EngineUnavailable, "engine.NewDockerClient", err)
	}
	return &dockerClient{api: cli, callTimeout: callTimeout}, nil
}

func (c *dockerClient) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.callTimeout)
}

func (c *dockerClient) Close() error { return c.api.Close() }

func (c *dockerClient) Ping(parent context.Context) error {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	if _, err := c.api.Ping(ctx); err != nil {
		return orcherr.New(orcherr.EngineUnavailable, "engine.Ping", err)
	}
	return nil
}

func (c *dockerClient) Run(parent context.Context, spec RunSpec) (string, error) {
	ctx, cancel := c.ctx(parent)
	defer cancel()

	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Entrypoint: spec.Entrypoint,
		Env:        spec.Env,
		Labels:     spec.Labels,
		User:       spec.User,
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mm := mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
		if m.Propagation != "" {
			mm.BindOptions = &mount.BindOptions{Propagation: mount.Propagation(m.Propagation)}
		}
		mounts = append(mounts, mm)
	}

	hostCfg := &container.HostConfig{
		NetworkMode: containerNetworkMode(spec.NetworkMode),
		Mounts:      mounts,
		Resources: container.Resources{
			Memory:     memoryBytes(spec.Memory),
			NanoCPUs:   int64(spec.CPUs * 1e9),
			PidsLimit:  pidsLimitPtr(spec.PidsLimit),
		},
	}

	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return "", orcherr.New(orcherr.EngineError, "engine.Run(create)", err)
	}
	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Partial creation: the container exists but never started. Surface
		// the original error after best-effort cleanup (spec §4.7, §7).
		_ = c.api.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		return "", orcherr.New(orcherr.EngineError, "engine.Run(start)", err)
	}
	return resp.ID, nil
}

func containerNetworkMode(mode string) container.NetworkMode {
	return container.NetworkMode(mode)
}

func memoryBytes(spec string) int64 {
	spec = strings.TrimSpace(strings.ToLower(spec))
	if spec == "" {
		return 0
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(spec, "g"):
		mult = 1 << 30
		spec = strings.TrimSuffix(spec, "g")
	case strings.HasSuffix(spec, "m"):
		mult = 1 << 20
		spec = strings.TrimSuffix(spec, "m")
	case strings.HasSuffix(spec, "k"):
		mult = 1 << 10
		spec = strings.TrimSuffix(spec, "k")
	}
	n, err := strconv.ParseFloat(spec, 64)
	if err != nil {
		return 0
	}
	return int64(n * float64(mult))
}

func pidsLimitPtr(n int) *int64 {
	if n <= 0 {
		return nil
	}
	v := int64(n)
	return &v
}

func (c *dockerClient) Exec(parent context.Context, containerID string, cmd []string, opts ExecOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	if strings.TrimSpace(containerID) == "" {
		return orcherr.New(orcherr.InvalidArgument, "engine.Exec", fmt.Errorf("container id required"))
	}
	if len(cmd) == 0 {
		return orcherr.New(orcherr.InvalidArgument, "engine.Exec", fmt.Errorf("command required"))
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	// Attach streams can legitimately run for the lifetime of an interactive
	// session (spec §5 "blocking operations intentionally block"), so this
	// call is deliberately NOT wrapped in callTimeout — only the create and
	// inspect steps are.
	createCtx, cancel := c.ctx(parent)
	execResp, err := c.api.ContainerExecCreate(createCtx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: !opts.Tty,
		AttachStdin:  stdin != nil,
		Cmd:          cmd,
		WorkingDir:   opts.WorkingDir,
		Tty:          opts.Tty,
	})
	cancel()
	if err != nil {
		return orcherr.New(orcherr.EngineError, "engine.Exec(create)", err)
	}

	attach, err := c.api.ContainerExecAttach(parent, execResp.ID, types.ExecStartCheck{Tty: opts.Tty})
	if err != nil {
		return orcherr.New(orcherr.EngineError, "engine.Exec(attach)", err)
	}
	defer attach.Close()

	errCh := make(chan error, 1)
	go func() {
		if stdin == nil {
			errCh <- nil
			return
		}
		_, err := io.Copy(attach.Conn, stdin)
		if cw, ok := attach.Conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		errCh <- err
	}()

	if opts.Tty {
		_, err = io.Copy(stdout, attach.Reader)
	} else {
		_, err = stdcopy.StdCopy(stdout, stderr, attach.Reader)
	}
	if err != nil {
		return orcherr.New(orcherr.EngineError, "engine.Exec(copy)", err)
	}
	if ioErr := <-errCh; ioErr != nil {
		return orcherr.New(orcherr.EngineError, "engine.Exec(stdin)", ioErr)
	}

	inspectCtx, cancel := c.ctx(parent)
	inspect, err := c.api.ContainerExecInspect(inspectCtx, execResp.ID)
	cancel()
	if err != nil {
		return orcherr.New(orcherr.EngineError, "engine.Exec(inspect)", err)
	}
	if inspect.ExitCode != 0 {
		return orcherr.New(orcherr.EngineError, "engine.Exec", fmt.Errorf("exit code %d", inspect.ExitCode))
	}
	return nil
}

func (c *dockerClient) Inspect(parent context.Context, containerID string) (ContainerInfo, error) {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	info, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerInfo{}, orcherr.New(orcherr.NotFound, "engine.Inspect", err)
		}
		return ContainerInfo{}, orcherr.New(orcherr.EngineError, "engine.Inspect", err)
	}
	running := info.State != nil && info.State.Running
	return ContainerInfo{ID: info.ID, Name: strings.TrimPrefix(info.Name, "/"), Running: running, Labels: info.Config.Labels}, nil
}

func (c *dockerClient) ContainerByName(parent context.Context, name string) (string, *ContainerInfo, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil, orcherr.New(orcherr.InvalidArgument, "engine.ContainerByName", fmt.Errorf("name required"))
	}
	ctx, cancel := c.ctx(parent)
	defer cancel()
	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil, nil
		}
		return "", nil, orcherr.New(orcherr.EngineError, "engine.ContainerByName", err)
	}
	running := info.State != nil && info.State.Running
	out := &ContainerInfo{ID: info.ID, Name: strings.TrimPrefix(info.Name, "/"), Running: running, Labels: info.Config.Labels}
	return info.ID, out, nil
}

func (c *dockerClient) Rename(parent context.Context, containerID, newName string) error {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	if err := c.api.ContainerRename(ctx, containerID, newName); err != nil {
		return orcherr.New(orcherr.EngineError, "engine.Rename", err)
	}
	return nil
}

func (c *dockerClient) Stop(parent context.Context, containerID string, timeout time.Duration) error {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	seconds := int(timeout.Seconds())
	if err := c.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return orcherr.New(orcherr.EngineError, "engine.Stop", err)
	}
	return nil
}

func (c *dockerClient) Rm(parent context.Context, containerID string, force bool) error {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	if err := c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force, RemoveVolumes: true}); err != nil {
		return orcherr.New(orcherr.EngineError, "engine.Rm", err)
	}
	return nil
}

func (c *dockerClient) Pull(parent context.Context, imageRef string) error {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	rc, err := c.api.ImagePull(ctx, imageRef, types.ImagePullOptions{})
	if err != nil {
		return orcherr.New(orcherr.EngineError, "engine.Pull", err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return orcherr.New(orcherr.EngineError, "engine.Pull", err)
	}
	return nil
}

func (c *dockerClient) VolumeCreate(parent context.Context, name string, labels map[string]string) (string, error) {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	list, err := c.api.VolumeList(ctx, volume.ListOptions{})
	if err == nil {
		for _, v := range list.Volumes {
			if v.Name == name {
				return v.Name, nil
			}
		}
	}
	resp, err := c.api.VolumeCreate(ctx, volume.CreateOptions{Name: name, Labels: labels})
	if err != nil {
		return "", orcherr.New(orcherr.EngineError, "engine.VolumeCreate", err)
	}
	return resp.Name, nil
}

func (c *dockerClient) Stats(parent context.Context, containerID string) (Stats, error) {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	resp, err := c.api.ContainerStats(ctx, containerID, false)
	if err != nil {
		return Stats{}, orcherr.New(orcherr.EngineError, "engine.Stats", err)
	}
	defer resp.Body.Close()
	var raw container.StatsResponse
	if err := decodeJSON(resp.Body, &raw); err != nil {
		return Stats{}, orcherr.New(orcherr.Internal, "engine.Stats", err)
	}
	cpuPercent := cpuPercentFrom(raw)
	return Stats{
		MemoryUsageBytes: raw.MemoryStats.Usage,
		CPUPercent:       cpuPercent,
		Pids:             raw.PidsStats.Current,
	}, nil
}

func cpuPercentFrom(s container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if sysDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	onlineCPUs := float64(s.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return (cpuDelta / sysDelta) * onlineCPUs * 100.0
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
