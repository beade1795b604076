package native

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"codesandbox/internal/sandbox/limiter"
)

func TestInitRequestRoundTripsThroughPipe(t *testing.T) {
	req := newInitRequest(execSpec{
		dir:  "/work",
		args: []string{"./main"},
		env:  []string{"PATH=/bin"},
		limits: limiter.Limits{
			TimeLimit:         1500 * time.Millisecond,
			MemoryBytes:       64 << 20,
			OutputBytes:       1 << 20,
			PIDs:              16,
			AddressSpaceBytes: 640 << 20,
		},
	}, "/etc/seccomp.json")

	if req.Limits.CPUSeconds != 3 || req.Limits.FileSizeBytes != 1<<20 ||
		req.Limits.StackBytes != 64<<20 || req.Limits.Processes != 16 ||
		req.Limits.AddressSpaceBytes != 640<<20 {
		t.Fatalf("unexpected init limits: %+v", req.Limits)
	}

	r, err := writeInitRequest(req)
	if err != nil {
		t.Fatalf("write init request: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read pipe: %v", err)
	}
	var got initRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.WorkDir != "/work" || got.Cmd[0] != "./main" || got.SeccompProfile != "/etc/seccomp.json" ||
		got.Limits.AddressSpaceBytes != 640<<20 {
		t.Fatalf("unexpected request: %+v", got)
	}
}
