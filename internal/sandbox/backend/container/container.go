// Package container runs every compile step and test case in its own
// disposable container with no network, dropped capabilities and the
// resource limits translated into container constraints.
package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codesandbox/internal/sandbox/backend"
	"codesandbox/internal/sandbox/limiter"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Name is the backend name reported in submission reports.
const Name = "docker"

const (
	defaultCompileTimeout     = 30 * time.Second
	defaultCompileMemoryMB    = 1024
	defaultCompileOutputBytes = 64 * 1024
	defaultMountPath          = "/sandbox"
	defaultAPITimeout         = 10 * time.Second
	defaultStatsInterval      = 100 * time.Millisecond
	defaultDrainTimeout       = 2 * time.Second
	// waitGrace bounds Wait beyond the time limit for a daemon that stops answering.
	waitGrace = 30 * time.Second
)

// Config controls the containerized backend.
type Config struct {
	WorkRoot           string        `yaml:"workRoot"`
	CompileTimeout     time.Duration `yaml:"compileTimeout"`
	CompileMemoryMB    int64         `yaml:"compileMemoryMB"`
	CompileOutputBytes int64         `yaml:"compileOutputBytes"`
	// User runs the program as uid:gid. Defaults to the service user so the
	// scratch directory stays removable.
	User          string        `yaml:"user"`
	PullImages    bool          `yaml:"pullImages"`
	MountPath     string        `yaml:"mountPath"`
	APITimeout    time.Duration `yaml:"apiTimeout"`
	StatsInterval time.Duration `yaml:"statsInterval"`
	Env           []string      `yaml:"env"`
}

func (c *Config) setDefaults() {
	if c.WorkRoot == "" {
		c.WorkRoot = filepath.Join(os.TempDir(), "codesandbox")
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = defaultCompileTimeout
	}
	if c.CompileMemoryMB <= 0 {
		c.CompileMemoryMB = defaultCompileMemoryMB
	}
	if c.CompileOutputBytes <= 0 {
		c.CompileOutputBytes = defaultCompileOutputBytes
	}
	if c.User == "" {
		if uid, gid := os.Getuid(), os.Getgid(); uid >= 0 && gid >= 0 {
			c.User = fmt.Sprintf("%d:%d", uid, gid)
		}
	}
	if c.MountPath == "" {
		c.MountPath = defaultMountPath
	}
	if c.APITimeout <= 0 {
		c.APITimeout = defaultAPITimeout
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = defaultStatsInterval
	}
	if len(c.Env) == 0 {
		c.Env = []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin", "LANG=C.UTF-8"}
	}
}

// Backend is the containerized execution backend.
type Backend struct {
	cfg Config
	rt  Runtime

	mu      sync.Mutex
	orphans map[string][]string
}

// New creates a containerized backend on top of rt.
func New(cfg Config, rt Runtime) (*Backend, error) {
	if rt == nil {
		return nil, appErr.New(appErr.SandboxUnavailable).WithMessage("container runtime is required")
	}
	cfg.setDefaults()
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.StagingFailed, "create work root failed")
	}
	return &Backend{cfg: cfg, rt: rt, orphans: make(map[string][]string)}, nil
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return Name }

// Compile stages the source on the host, makes sure the language image is
// present and runs the toolchain in a container with the scratch directory
// mounted read-write.
func (b *Backend) Compile(ctx context.Context, req backend.CompileRequest) (*backend.StagedProgram, result.CompileResult, error) {
	lang := req.Language
	if strings.TrimSpace(lang.Image) == "" {
		return nil, result.CompileResult{}, appErr.Newf(appErr.ImageUnavailable, "language %s has no container image", lang.ID)
	}
	prog, err := backend.Stage(b.cfg.WorkRoot, req.SubmissionID, lang, req.Source)
	if err != nil {
		return nil, result.CompileResult{}, err
	}

	vars := backend.VarsFor(lang, b.cfg.MountPath)
	runCmd, err := backend.BuildCommand(lang.RunCmdTpl, vars)
	if err != nil {
		return prog, result.CompileResult{}, err
	}
	prog.RunCmd = runCmd

	if err := b.rt.EnsureImage(ctx, lang.Image, b.cfg.PullImages); err != nil {
		return prog, result.CompileResult{}, appErr.Wrapf(err, appErr.ImageUnavailable, "image %s unavailable", lang.Image)
	}
	if !lang.CompileEnabled {
		return prog, result.CompileResult{OK: true, Skipped: true}, nil
	}

	args, err := backend.BuildCommand(lang.CompileCmdTpl, vars)
	if err != nil {
		return prog, result.CompileResult{}, err
	}
	limits := limiter.Limits{
		TimeLimit:   b.cfg.CompileTimeout,
		MemoryBytes: b.cfg.CompileMemoryMB * 1024 * 1024,
		OutputBytes: b.cfg.CompileOutputBytes,
	}
	raw, err := b.runContainer(ctx, b.containerSpec(prog, "compile", args, false, limits), "")
	if err != nil {
		return prog, result.CompileResult{}, err
	}

	compile := result.CompileResult{
		OK:       raw.ExitCode == 0 && !raw.TimedOut && !raw.MemoryExceeded,
		ExitCode: raw.ExitCode,
		TimeMs:   raw.TimeMs,
		MemoryKB: raw.MemoryKB,
		TimedOut: raw.TimedOut,
	}
	if compile.OK && lang.BinaryFile != "" {
		if _, statErr := os.Stat(filepath.Join(prog.Dir, lang.BinaryFile)); statErr != nil {
			compile.OK = false
			compile.Output = fmt.Sprintf("compiler did not produce %s", lang.BinaryFile)
		}
	}
	if !compile.OK && compile.Output == "" {
		compile.Output = backend.CompileDiagnostic(raw.Stdout, raw.Stderr, raw.TimedOut)
		if raw.MemoryExceeded {
			compile.Output = "compiler exceeded memory limit\n" + compile.Output
		}
	}
	logger.Debug(ctx, "container compile finished",
		zap.String("language", lang.ID),
		zap.String("image", lang.Image),
		zap.Bool("ok", compile.OK),
		zap.Int64("time_ms", compile.TimeMs),
	)
	return prog, compile, nil
}

// Run executes one test case in a fresh container with the program
// directory mounted read-only.
func (b *Backend) Run(ctx context.Context, prog *backend.StagedProgram, req backend.RunRequest) (result.RawResult, error) {
	if prog == nil || prog.Destroyed() || len(prog.RunCmd) == 0 {
		return result.RawResult{}, appErr.New(appErr.StagingFailed).WithMessage("program is not staged")
	}
	if err := ctx.Err(); err != nil {
		return result.RawResult{}, appErr.Wrapf(err, appErr.JudgeCancelled, "run cancelled before start")
	}
	cs := b.containerSpec(prog, fmt.Sprintf("case-%d", req.CaseIndex), prog.RunCmd, true, limiter.FromSpec(req.Limits))
	return b.runContainer(ctx, cs, req.Input)
}

// Destroy retries removal of containers that could not be removed earlier
// and deletes the scratch directory.
func (b *Backend) Destroy(ctx context.Context, prog *backend.StagedProgram) error {
	if prog == nil {
		return nil
	}
	b.mu.Lock()
	pending := b.orphans[prog.SubmissionID]
	delete(b.orphans, prog.SubmissionID)
	b.mu.Unlock()

	var firstErr error
	for _, id := range pending {
		if err := b.remove(id); err != nil {
			logger.Error(ctx, "container leaked", zap.String("container", id), zap.Error(err))
			if firstErr == nil {
				firstErr = appErr.Wrapf(err, appErr.ContainerRuntimeError, "remove container %s failed", id)
			}
		}
	}
	if err := prog.Remove(); err != nil {
		logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", prog.Dir), zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Backend) containerSpec(prog *backend.StagedProgram, step string, cmd []string, readOnly bool, limits limiter.Limits) ContainerSpec {
	env := make([]string, 0, len(b.cfg.Env)+len(prog.Language.Env)+2)
	env = append(env, b.cfg.Env...)
	env = append(env, "HOME=/tmp", "TMPDIR=/tmp")
	env = append(env, prog.Language.Env...)
	return ContainerSpec{
		Name:         fmt.Sprintf("sandbox-%s-%s-%s", backend.SafeName(prog.SubmissionID), step, uuid.NewString()[:8]),
		SubmissionID: prog.SubmissionID,
		Image:        prog.Language.Image,
		Cmd:          cmd,
		Env:          env,
		WorkDir:      b.cfg.MountPath,
		User:         b.cfg.User,
		Binds:        []Bind{{Source: prog.Dir, Target: b.cfg.MountPath, ReadOnly: readOnly}},
		Limits:       limits,
	}
}

// runContainer drives one container from creation to removal. The
// container is removed on every path, including cancellation.
func (b *Backend) runContainer(ctx context.Context, cs ContainerSpec, input string) (result.RawResult, error) {
	handle := limiter.NewHandle(cs.Limits)

	id, err := b.rt.Create(ctx, cs)
	if err != nil {
		// A failed create can still leave a named container behind.
		b.release(ctx, cs.SubmissionID, cs.Name)
		return result.RawResult{}, b.runtimeError(ctx, err, "create container failed")
	}
	defer b.release(ctx, cs.SubmissionID, id)

	stream, err := b.rt.Attach(ctx, id)
	if err != nil {
		return result.RawResult{}, b.runtimeError(ctx, err, "attach container failed")
	}
	defer stream.Close()

	demuxDone := make(chan error, 1)
	go func() {
		demuxDone <- stream.Demux(handle.Stdout(), handle.Stderr())
	}()

	if err := b.rt.Start(ctx, id); err != nil {
		return result.RawResult{}, b.runtimeError(ctx, err, "start container failed")
	}
	handle.Arm(ctx, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), b.cfg.APITimeout)
		defer cancel()
		if err := b.rt.Stop(stopCtx, id); err != nil {
			logger.Warn(ctx, "stop container failed", zap.String("container", id), zap.Error(err))
		}
	})
	if cs.Limits.MemoryBytes > 0 {
		handle.WatchMemory(b.cfg.StatsInterval, func() (int64, error) {
			statsCtx, cancel := context.WithTimeout(context.Background(), b.cfg.APITimeout)
			defer cancel()
			return b.rt.MemoryUsage(statsCtx, id)
		})
	}

	go func() {
		if input != "" {
			_, _ = io.Copy(stream, strings.NewReader(input))
		}
		_ = stream.CloseWrite()
	}()

	waitCtx, cancel := context.WithTimeout(context.Background(), cs.Limits.TimeLimit+waitGrace)
	defer cancel()
	state, waitErr := b.rt.Wait(waitCtx, id)
	// Elapsed time stops at exit; draining buffered output is not charged.
	handle.Disarm()

	select {
	case <-demuxDone:
	case <-time.After(defaultDrainTimeout):
		logger.Warn(ctx, "container output not drained", zap.String("container", id))
	}

	if waitErr != nil {
		handle.Kill()
		if handle.Cancelled() {
			return result.RawResult{}, appErr.Wrapf(ctx.Err(), appErr.JudgeCancelled, "run cancelled")
		}
		return result.RawResult{}, appErr.Wrapf(waitErr, appErr.ContainerRuntimeError, "wait for container failed")
	}

	raw := handle.Result(limiter.ExitStatus{Code: state.ExitCode, OOMKilled: state.OOMKilled})
	if handle.Cancelled() {
		return raw, appErr.Wrapf(ctx.Err(), appErr.JudgeCancelled, "run cancelled")
	}
	return raw, nil
}

// release removes a container with a context detached from the caller so
// cancellation cannot leak it. Failures are kept for Destroy to retry.
func (b *Backend) release(ctx context.Context, submissionID, id string) {
	if err := b.remove(id); err != nil {
		logger.Warn(ctx, "remove container failed", zap.String("container", id), zap.Error(err))
		b.mu.Lock()
		b.orphans[submissionID] = append(b.orphans[submissionID], id)
		b.mu.Unlock()
	}
}

func (b *Backend) remove(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.APITimeout)
	defer cancel()
	return b.rt.Remove(ctx, id)
}

func (b *Backend) runtimeError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return appErr.Wrapf(ctx.Err(), appErr.JudgeCancelled, "run cancelled")
	}
	return appErr.Wrapf(err, appErr.ContainerRuntimeError, "%s", msg)
}
