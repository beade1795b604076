// Package native runs programs as plain child processes confined to a
// scratch directory and the resource limiter.
package native

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codesandbox/internal/sandbox/backend"
	"codesandbox/internal/sandbox/limiter"
	"codesandbox/internal/sandbox/profile"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// Name is the backend name reported in submission reports.
const Name = "native"

const (
	defaultCompileTimeout     = 10 * time.Second
	defaultCompileMemoryMB    = 1024
	defaultCompileOutputBytes = 64 * 1024
	defaultWaitDelay          = 200 * time.Millisecond
	defaultAddressSpaceSlack  = 512
)

// Config controls the native backend.
type Config struct {
	WorkRoot           string        `yaml:"workRoot"`
	CompileTimeout     time.Duration `yaml:"compileTimeout"`
	CompileMemoryMB    int64         `yaml:"compileMemoryMB"`
	CompileOutputBytes int64         `yaml:"compileOutputBytes"`

	// HelperPath points at the sandbox-init binary. When set, rlimits and
	// seccomp are installed by the helper before the program is executed.
	HelperPath     string `yaml:"helperPath"`
	SeccompProfile string `yaml:"seccompProfile"`

	EnableCgroup       bool          `yaml:"enableCgroup"`
	CgroupRoot         string        `yaml:"cgroupRoot"`
	MemoryPollInterval time.Duration `yaml:"memoryPollInterval"`

	// AddressSpaceSlackMB is added to twice the memory limit to form the
	// RLIMIT_AS ceiling used when no memory cgroup is installed.
	AddressSpaceSlackMB int64 `yaml:"addressSpaceSlackMB"`

	WaitDelay time.Duration `yaml:"waitDelay"`
	Env       []string      `yaml:"env"`
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
	if c.MemoryPollInterval <= 0 {
		c.MemoryPollInterval = limiter.DefaultSampleInterval
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = defaultWaitDelay
	}
	if c.AddressSpaceSlackMB <= 0 {
		c.AddressSpaceSlackMB = defaultAddressSpaceSlack
	}
	if len(c.Env) == 0 {
		path := os.Getenv("PATH")
		if path == "" {
			path = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
		}
		c.Env = []string{"PATH=" + path, "LANG=C.UTF-8"}
	}
}

// Backend is the native execution backend.
type Backend struct {
	cfg Config
}

// New creates a native backend. It fails on platforms without process
// limit support or when configured helpers are missing.
func New(cfg Config) (*Backend, error) {
	cfg.setDefaults()
	if err := platformCheck(); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxUnavailable, "native backend unavailable")
	}
	if cfg.HelperPath != "" {
		if _, err := os.Stat(cfg.HelperPath); err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxUnavailable, "sandbox helper not found: %s", cfg.HelperPath)
		}
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, appErr.New(appErr.SandboxUnavailable).WithMessage("cgroup root is required when cgroups are enabled")
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.StagingFailed, "create work root failed")
	}
	return &Backend{cfg: cfg}, nil
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return Name }

// Compile stages the source and runs the toolchain in the scratch directory.
func (b *Backend) Compile(ctx context.Context, req backend.CompileRequest) (*backend.StagedProgram, result.CompileResult, error) {
	lang := req.Language
	prog, err := backend.Stage(b.cfg.WorkRoot, req.SubmissionID, lang, req.Source)
	if err != nil {
		return nil, result.CompileResult{}, err
	}

	vars := backend.VarsFor(lang, prog.Dir)
	runCmd, err := backend.BuildCommand(lang.RunCmdTpl, vars)
	if err != nil {
		return prog, result.CompileResult{}, err
	}
	prog.RunCmd = runCmd
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
	limits.AddressSpaceBytes = b.addressSpace(lang, limits.MemoryBytes)
	raw, err := b.execute(ctx, execSpec{
		group:  backend.SafeName(req.SubmissionID),
		name:   "compile",
		dir:    prog.Dir,
		args:   args,
		env:    b.env(lang.Env, prog.Dir),
		limits: limits,
	})
	if err != nil {
		return prog, result.CompileResult{}, err
	}

	compile := result.CompileResult{
		OK:       raw.ExitCode == 0 && raw.Signal == "" && !raw.TimedOut && !raw.MemoryExceeded,
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
	logger.Debug(ctx, "native compile finished",
		zap.String("language", lang.ID),
		zap.Bool("ok", compile.OK),
		zap.Int64("time_ms", compile.TimeMs),
	)
	return prog, compile, nil
}

// Run executes one test case in a fresh process.
func (b *Backend) Run(ctx context.Context, prog *backend.StagedProgram, req backend.RunRequest) (result.RawResult, error) {
	if prog == nil || prog.Destroyed() || len(prog.RunCmd) == 0 {
		return result.RawResult{}, appErr.New(appErr.StagingFailed).WithMessage("program is not staged")
	}
	limits := limiter.FromSpec(req.Limits)
	limits.AddressSpaceBytes = b.addressSpace(prog.Language, limits.MemoryBytes)
	return b.execute(ctx, execSpec{
		group:  backend.SafeName(prog.SubmissionID),
		name:   fmt.Sprintf("case-%d", req.CaseIndex),
		dir:    prog.Dir,
		args:   prog.RunCmd,
		env:    b.env(prog.Language.Env, prog.Dir),
		stdin:  req.Input,
		limits: limits,
	})
}

// Destroy removes the scratch directory.
func (b *Backend) Destroy(ctx context.Context, prog *backend.StagedProgram) error {
	if err := prog.Remove(); err != nil {
		logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", prog.Dir), zap.Error(err))
		return err
	}
	return nil
}

// addressSpace is the RLIMIT_AS ceiling for one process. A memory cgroup
// makes it unnecessary.
func (b *Backend) addressSpace(lang profile.LanguageSpec, memoryBytes int64) int64 {
	if b.cfg.EnableCgroup || lang.UnboundedAddressSpace || memoryBytes <= 0 {
		return 0
	}
	return 2*memoryBytes + b.cfg.AddressSpaceSlackMB*1024*1024
}

func (b *Backend) env(langEnv []string, dir string) []string {
	env := make([]string, 0, len(b.cfg.Env)+len(langEnv)+2)
	env = append(env, b.cfg.Env...)
	env = append(env, "HOME="+dir, "TMPDIR="+dir)
	env = append(env, langEnv...)
	return env
}

type execSpec struct {
	group  string
	name   string
	dir    string
	args   []string
	env    []string
	stdin  string
	limits limiter.Limits
}
