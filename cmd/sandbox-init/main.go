//go:build linux

// Command sandbox-init confines itself and then execs the submitted program.
// The native backend starts it with the launch request on fd 3 and the
// program's stdio already attached.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

const requestFD = 3

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "sandbox-init: "+err.Error())
		os.Exit(127)
	}
}

func run() error {
	reqFile := os.NewFile(requestFD, "init")
	if reqFile == nil {
		return fmt.Errorf("request fd is not open")
	}
	req, err := decodeRequest(reqFile)
	_ = reqFile.Close()
	if err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	if err := os.Chdir(req.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := applyRlimits(req.Limits); err != nil {
		return err
	}

	env := buildEnv(req.Env)
	cmdPath, err := resolveCommand(req.Cmd[0], env)
	if err != nil {
		return err
	}

	if req.SeccompProfile != "" {
		if err := applySeccomp(req.SeccompProfile); err != nil {
			return err
		}
	}
	return unix.Exec(cmdPath, req.Cmd, env)
}

type initRequest struct {
	WorkDir        string     `json:"workDir"`
	Cmd            []string   `json:"cmd"`
	Env            []string   `json:"env"`
	Limits         initLimits `json:"limits"`
	SeccompProfile string     `json:"seccompProfile,omitempty"`
}

type initLimits struct {
	CPUSeconds        uint64 `json:"cpuSeconds"`
	FileSizeBytes     uint64 `json:"fileSizeBytes"`
	StackBytes        uint64 `json:"stackBytes"`
	AddressSpaceBytes uint64 `json:"addressSpaceBytes"`
	Processes         uint64 `json:"processes"`
}

func decodeRequest(r io.Reader) (initRequest, error) {
	var req initRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return initRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func validateRequest(req initRequest) error {
	if len(req.Cmd) == 0 || req.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if req.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	return nil
}

func applyRlimits(limits initLimits) error {
	set := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"cpu", unix.RLIMIT_CPU, limits.CPUSeconds},
		{"fsize", unix.RLIMIT_FSIZE, limits.FileSizeBytes},
		{"stack", unix.RLIMIT_STACK, limits.StackBytes},
		{"as", unix.RLIMIT_AS, limits.AddressSpaceBytes},
		{"nproc", unix.RLIMIT_NPROC, limits.Processes},
	}
	for _, l := range set {
		if l.value == 0 {
			continue
		}
		if err := unix.Setrlimit(l.resource, &unix.Rlimit{Cur: l.value, Max: l.value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.name, err)
		}
	}
	return nil
}

func buildEnv(env []string) []string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			return env
		}
	}
	return append(env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
}

// resolveCommand looks name up on the PATH from env, not the helper's own.
func resolveCommand(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	for _, kv := range env {
		if path, ok := strings.CutPrefix(kv, "PATH="); ok {
			if err := os.Setenv("PATH", path); err != nil {
				return "", fmt.Errorf("set path: %w", err)
			}
		}
	}
	cmdPath, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolve command: %w", err)
	}
	return cmdPath, nil
}

func applySeccomp(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	filter, err := buildFilter(data)
	if err != nil {
		return err
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

type seccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

func buildFilter(data []byte) (*seccomp.ScmpFilter, error) {
	var cfg seccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return nil, err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return nil, fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			filter.Release()
			return nil, err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				// Unknown on this arch.
				continue
			}
			if err := filter.AddRule(call, action); err != nil {
				filter.Release()
				return nil, fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	return filter, nil
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	case "SCMP_ACT_KILL_THREAD":
		return seccomp.ActKillThread, nil
	case "SCMP_ACT_ERRNO":
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	default:
		return seccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}
