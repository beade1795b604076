package limiter

import (
	"github.com/docker/docker/api/types/container"
)

// ContainerResources translates limits into docker resource constraints.
// Swap is pinned to the memory limit so the ceiling is hard.
func ContainerResources(l Limits, nanoCPUs int64) container.Resources {
	res := container.Resources{NanoCPUs: nanoCPUs}
	if l.MemoryBytes > 0 {
		res.Memory = l.MemoryBytes
		res.MemorySwap = l.MemoryBytes
	}
	if l.PIDs > 0 {
		pids := l.PIDs
		res.PidsLimit = &pids
	}
	if l.OutputBytes > 0 {
		res.Ulimits = []*container.Ulimit{{Name: "fsize", Soft: l.OutputBytes, Hard: l.OutputBytes}}
	}
	if l.TimeLimit > 0 {
		cpuSeconds := int64(l.TimeLimit.Seconds()) + 1
		res.Ulimits = append(res.Ulimits, &container.Ulimit{Name: "cpu", Soft: cpuSeconds, Hard: cpuSeconds + 1})
	}
	return res
}
