//go:build linux

package native

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"codesandbox/internal/sandbox/limiter"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

func platformCheck() error { return nil }

// execute runs one process to completion under the limiter.
func (b *Backend) execute(ctx context.Context, spec execSpec) (result.RawResult, error) {
	if err := ctx.Err(); err != nil {
		return result.RawResult{}, appErr.Wrapf(err, appErr.JudgeCancelled, "run cancelled before start")
	}
	handle := limiter.NewHandle(spec.limits)

	var cg *limiter.Cgroup
	if b.cfg.EnableCgroup {
		var err error
		cg, err = limiter.NewCgroup(b.cfg.CgroupRoot, spec.group, spec.name, spec.limits)
		if err != nil {
			return result.RawResult{}, appErr.Wrapf(err, appErr.LimiterInstallFailed, "install cgroup limits failed")
		}
		defer func() {
			if err := cg.Close(); err != nil {
				logger.Warn(ctx, "remove cgroup failed", zap.String("cgroup", cg.Path()), zap.Error(err))
			}
		}()
	}

	cmd, initPipe, err := b.command(spec, cg)
	if err != nil {
		return result.RawResult{}, appErr.Wrapf(err, appErr.ProcessSpawnFailed, "prepare process failed")
	}
	cmd.Stdin = strings.NewReader(spec.stdin)
	cmd.Stdout = handle.Stdout()
	cmd.Stderr = handle.Stderr()
	cmd.WaitDelay = b.cfg.WaitDelay

	startErr := cmd.Start()
	if initPipe != nil {
		_ = initPipe.Close()
	}
	if startErr != nil {
		return result.RawResult{}, appErr.Wrapf(startErr, appErr.ProcessSpawnFailed, "start %s failed", spec.args[0])
	}

	pid := cmd.Process.Pid
	kill := func() {
		_ = limiter.KillProcessGroup(pid)
		if cg != nil {
			_ = cg.Kill()
		}
	}
	handle.Arm(ctx, kill)

	if err := limiter.ApplyProcessLimits(pid, spec.limits); err != nil && !handle.Killed() {
		kill()
		_ = cmd.Wait()
		handle.Disarm()
		return result.RawResult{}, appErr.Wrapf(err, appErr.LimiterInstallFailed, "install process limits failed")
	}
	if cg == nil {
		// Without a cgroup the whole process group is sampled, so children
		// the program never waits for still count against its limits.
		handle.WatchGroup(b.cfg.MemoryPollInterval, func() (limiter.GroupUsage, error) {
			return limiter.ReadGroupUsage(pid)
		})
	}

	waitErr := cmd.Wait()
	// Reap anything the program left behind in its group.
	_ = limiter.KillProcessGroup(pid)
	handle.Disarm()
	if handle.ProcessLimitExceeded() {
		logger.Info(ctx, "process limit exceeded",
			zap.String("name", spec.name),
			zap.Int64("pids", spec.limits.PIDs),
		)
	}

	if cmd.ProcessState == nil {
		return result.RawResult{}, appErr.Wrapf(waitErr, appErr.ProcessSpawnFailed, "wait for process failed")
	}
	if waitErr != nil && !isExitError(waitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		logger.Warn(ctx, "process wait returned error", zap.String("name", spec.name), zap.Error(waitErr))
	}

	exit := exitStatus(cmd.ProcessState)
	if cg != nil {
		exit.OOMKilled = cg.OOMKilled()
		if peakKB := cg.PeakBytes() / 1024; peakKB > exit.MemoryKB {
			exit.MemoryKB = peakKB
		}
	}
	raw := handle.Result(exit)
	if handle.Cancelled() {
		return raw, appErr.Wrapf(ctx.Err(), appErr.JudgeCancelled, "run cancelled")
	}
	return raw, nil
}

func (b *Backend) command(spec execSpec, cg *limiter.Cgroup) (*exec.Cmd, *os.File, error) {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if cg != nil {
		attr.UseCgroupFD = true
		attr.CgroupFD = cg.FD()
	}

	if b.cfg.HelperPath == "" {
		cmd := exec.Command(spec.args[0], spec.args[1:]...)
		cmd.Dir = spec.dir
		cmd.Env = spec.env
		cmd.SysProcAttr = attr
		return cmd, nil, nil
	}

	initPipe, err := writeInitRequest(newInitRequest(spec, b.cfg.SeccompProfile))
	if err != nil {
		return nil, nil, err
	}
	cmd := exec.Command(b.cfg.HelperPath)
	cmd.Dir = spec.dir
	cmd.Env = spec.env
	cmd.SysProcAttr = attr
	cmd.ExtraFiles = []*os.File{initPipe}
	return cmd, initPipe, nil
}

func exitStatus(state *os.ProcessState) limiter.ExitStatus {
	exit := limiter.ExitStatus{
		Code:      state.ExitCode(),
		CPUTimeMs: (state.UserTime() + state.SystemTime()).Milliseconds(),
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		exit.Signal = sig.String()
		exit.Code = 128 + int(sig)
		exit.CPUExceeded = sig == syscall.SIGXCPU
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		exit.MemoryKB = usage.Maxrss
	}
	return exit
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
