package native

import (
	"encoding/json"
	"math"
	"os"
)

// initRequest is the message sent to sandbox-init on fd 3.
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

func newInitRequest(spec execSpec, seccompProfile string) initRequest {
	l := spec.limits
	req := initRequest{
		WorkDir:        spec.dir,
		Cmd:            spec.args,
		Env:            spec.env,
		SeccompProfile: seccompProfile,
	}
	if l.TimeLimit > 0 {
		req.Limits.CPUSeconds = uint64(math.Ceil(l.TimeLimit.Seconds())) + 1
	}
	if l.OutputBytes > 0 {
		req.Limits.FileSizeBytes = uint64(l.OutputBytes)
	}
	if l.MemoryBytes > 0 {
		req.Limits.StackBytes = uint64(l.MemoryBytes)
	}
	if l.AddressSpaceBytes > 0 {
		req.Limits.AddressSpaceBytes = uint64(l.AddressSpaceBytes)
	}
	if l.PIDs > 0 {
		req.Limits.Processes = uint64(l.PIDs)
	}
	return req
}

// writeInitRequest returns the read end of a pipe that yields req.
func writeInitRequest(req initRequest) (*os.File, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	go func() {
		_, _ = w.Write(data)
		_ = w.Close()
	}()
	return r, nil
}
