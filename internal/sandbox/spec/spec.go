// Package spec defines the resource limits applied to one compile or run step.
package spec

import (
	"math"
	"time"
)

// ResourceLimit describes hard limits enforced by the sandbox.
// Zero values mean "not set" and are filled by Merge.
type ResourceLimit struct {
	TimeLimitMs int64 `json:"time_limit_ms" yaml:"timeLimitMs"`
	MemoryMB    int64 `json:"memory_mb" yaml:"memoryMB"`
	OutputBytes int64 `json:"output_bytes" yaml:"outputBytes"`
	PIDs        int64 `json:"pids,omitempty" yaml:"pids"`
}

// Merge fills unset fields of l from fallback.
func (l ResourceLimit) Merge(fallback ResourceLimit) ResourceLimit {
	if l.TimeLimitMs <= 0 {
		l.TimeLimitMs = fallback.TimeLimitMs
	}
	if l.MemoryMB <= 0 {
		l.MemoryMB = fallback.MemoryMB
	}
	if l.OutputBytes <= 0 {
		l.OutputBytes = fallback.OutputBytes
	}
	if l.PIDs <= 0 {
		l.PIDs = fallback.PIDs
	}
	return l
}

// Scale applies per-language multipliers to time and memory.
func (l ResourceLimit) Scale(timeMultiplier, memoryMultiplier float64) ResourceLimit {
	l.TimeLimitMs = scale(l.TimeLimitMs, timeMultiplier)
	l.MemoryMB = scale(l.MemoryMB, memoryMultiplier)
	return l
}

// Clamp caps every set field at the corresponding field of max.
func (l ResourceLimit) Clamp(max ResourceLimit) ResourceLimit {
	l.TimeLimitMs = clamp(l.TimeLimitMs, max.TimeLimitMs)
	l.MemoryMB = clamp(l.MemoryMB, max.MemoryMB)
	l.OutputBytes = clamp(l.OutputBytes, max.OutputBytes)
	l.PIDs = clamp(l.PIDs, max.PIDs)
	return l
}

// TimeLimit returns the time limit as a duration.
func (l ResourceLimit) TimeLimit() time.Duration {
	return time.Duration(l.TimeLimitMs) * time.Millisecond
}

// MemoryBytes returns the memory limit in bytes.
func (l ResourceLimit) MemoryBytes() int64 {
	return l.MemoryMB * 1024 * 1024
}

func scale(value int64, multiplier float64) int64 {
	if value <= 0 || multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

func clamp(value, max int64) int64 {
	if max > 0 && value > max {
		return max
	}
	return value
}
