//go:build linux

package main

import (
	"strings"
	"testing"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func TestDecodeRequest(t *testing.T) {
	body := `{"workDir":"/tmp/run","cmd":["./main"],"env":["A=1"],"limits":{"cpuSeconds":3,"addressSpaceBytes":268435456,"processes":16},"seccompProfile":"/etc/p.json"}`
	req, err := decodeRequest(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.WorkDir != "/tmp/run" || req.Cmd[0] != "./main" || req.Limits.CPUSeconds != 3 || req.Limits.Processes != 16 ||
		req.Limits.AddressSpaceBytes != 256<<20 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if _, err := decodeRequest(strings.NewReader("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestValidateRequest(t *testing.T) {
	cases := []struct {
		name string
		req  initRequest
		ok   bool
	}{
		{"valid", initRequest{WorkDir: "/tmp", Cmd: []string{"true"}}, true},
		{"no command", initRequest{WorkDir: "/tmp"}, false},
		{"empty command", initRequest{WorkDir: "/tmp", Cmd: []string{""}}, false},
		{"no workdir", initRequest{Cmd: []string{"true"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateRequest(tc.req); (err == nil) != tc.ok {
				t.Fatalf("validate = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestBuildEnvAddsPath(t *testing.T) {
	env := buildEnv([]string{"LANG=C"})
	if len(env) != 2 || !strings.HasPrefix(env[1], "PATH=") {
		t.Fatalf("expected default PATH, got %v", env)
	}
	env = buildEnv([]string{"PATH=/opt/bin"})
	if len(env) != 1 || env[0] != "PATH=/opt/bin" {
		t.Fatalf("expected PATH kept, got %v", env)
	}
}

func TestParseSeccompAction(t *testing.T) {
	if a, err := parseSeccompAction("scmp_act_allow"); err != nil || a != seccomp.ActAllow {
		t.Fatalf("allow = %v, %v", a, err)
	}
	if a, err := parseSeccompAction("SCMP_ACT_KILL"); err != nil || a != seccomp.ActKillProcess {
		t.Fatalf("kill = %v, %v", a, err)
	}
	if a, err := parseSeccompAction("SCMP_ACT_ERRNO"); err != nil || a != seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)) {
		t.Fatalf("errno = %v, %v", a, err)
	}
	if _, err := parseSeccompAction("SCMP_ACT_TRACE"); err == nil {
		t.Fatalf("expected unsupported action error")
	}
}
