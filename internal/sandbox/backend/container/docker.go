package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"codesandbox/internal/sandbox/limiter"
	"codesandbox/pkg/utils/logger"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const labelSubmission = "codesandbox.submission"

// DockerConfig controls the docker runtime adapter.
type DockerConfig struct {
	Host        string  `yaml:"host"`
	CPUs        float64 `yaml:"cpus"`
	TmpfsSizeMB int64   `yaml:"tmpfsSizeMB"`
}

// DockerRuntime implements Runtime with the docker engine API.
type DockerRuntime struct {
	cli      *client.Client
	nanoCPUs int64
	tmpfs    string
	images   sync.Map
}

// NewDockerRuntime connects to the docker daemon and verifies it answers.
func NewDockerRuntime(ctx context.Context, cfg DockerConfig) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("ping docker daemon: %w", err)
	}
	if cfg.CPUs <= 0 {
		cfg.CPUs = 1
	}
	if cfg.TmpfsSizeMB <= 0 {
		cfg.TmpfsSizeMB = 64
	}
	return &DockerRuntime{
		cli:      cli,
		nanoCPUs: int64(cfg.CPUs * 1e9),
		tmpfs:    fmt.Sprintf("rw,nosuid,nodev,size=%dm,mode=1777", cfg.TmpfsSizeMB),
	}, nil
}

// Close releases the client.
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

func (d *DockerRuntime) EnsureImage(ctx context.Context, ref string, pull bool) error {
	if _, ok := d.images.Load(ref); ok {
		return nil
	}
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		d.images.Store(ref, struct{}{})
		return nil
	}
	if !pull {
		return fmt.Errorf("image %s not present: %w", ref, err)
	}

	logger.Info(ctx, "pulling docker image", zap.String("image", ref))
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	// The pull only completes once the progress stream is consumed.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	d.images.Store(ref, struct{}{})
	logger.Info(ctx, "pulled docker image", zap.String("image", ref))
	return nil
}

func (d *DockerRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Binds))
	for _, b := range spec.Binds {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   b.Source,
			Target:   b.Target,
			ReadOnly: b.ReadOnly,
		})
	}
	resp, err := d.cli.ContainerCreate(ctx, &dockercontainer.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             spec.Env,
		WorkingDir:      spec.WorkDir,
		User:            spec.User,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		OpenStdin:       true,
		StdinOnce:       true,
		Tty:             false,
		NetworkDisabled: true,
		Labels:          map[string]string{labelSubmission: spec.SubmissionID},
	}, &dockercontainer.HostConfig{
		Resources:      limiter.ContainerResources(spec.Limits, d.nanoCPUs),
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": d.tmpfs},
		Mounts:         mounts,
	}, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	for _, w := range resp.Warnings {
		logger.Warn(ctx, "docker create warning", zap.String("container", spec.Name), zap.String("warning", w))
	}
	return resp.ID, nil
}

func (d *DockerRuntime) Attach(ctx context.Context, id string) (Stream, error) {
	resp, err := d.cli.ContainerAttach(ctx, id, dockercontainer.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, err
	}
	return &dockerStream{conn: resp.Conn, reader: resp.Reader, closeWrite: resp.CloseWrite, close: resp.Close}, nil
}

func (d *DockerRuntime) Start(ctx context.Context, id string) error {
	return d.cli.ContainerStart(ctx, id, dockercontainer.StartOptions{})
}

func (d *DockerRuntime) Wait(ctx context.Context, id string) (ExitState, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, dockercontainer.WaitConditionNotRunning)
	var state ExitState
	select {
	case err := <-errCh:
		return ExitState{}, err
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return ExitState{}, errors.New(status.Error.Message)
		}
		state.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		return ExitState{}, ctx.Err()
	}

	inspect, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return state, fmt.Errorf("inspect container: %w", err)
	}
	if inspect.State != nil {
		state.OOMKilled = inspect.State.OOMKilled
	}
	return state, nil
}

func (d *DockerRuntime) Stop(ctx context.Context, id string) error {
	timeout := 0
	return d.cli.ContainerStop(ctx, id, dockercontainer.StopOptions{Timeout: &timeout})
}

func (d *DockerRuntime) Remove(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, dockercontainer.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (d *DockerRuntime) MemoryUsage(ctx context.Context, id string) (int64, error) {
	stats, err := d.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return 0, err
	}
	defer stats.Body.Close()
	var payload struct {
		MemoryStats struct {
			Usage uint64 `json:"usage"`
		} `json:"memory_stats"`
	}
	if err := json.NewDecoder(stats.Body).Decode(&payload); err != nil {
		return 0, err
	}
	return int64(payload.MemoryStats.Usage), nil
}

type dockerStream struct {
	conn       net.Conn
	reader     io.Reader
	closeWrite func() error
	close      func()
}

func (s *dockerStream) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

func (s *dockerStream) CloseWrite() error {
	return s.closeWrite()
}

func (s *dockerStream) Demux(stdout, stderr io.Writer) error {
	_, err := stdcopy.StdCopy(stdout, stderr, s.reader)
	return err
}

func (s *dockerStream) Close() error {
	s.close()
	return nil
}
