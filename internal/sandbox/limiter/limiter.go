// Package limiter turns abstract resource limits into enforcement for a
// single process or container run.
//
// A Handle owns the watchdog, the capped output buffers and the memory
// sampler for one run. Backends arm it right after the process starts and
// disarm it once the process has been reaped.
package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codesandbox/internal/sandbox/result"
	"codesandbox/internal/sandbox/spec"
)

const (
	// DefaultOutputBytes caps a stream when no output limit is configured.
	DefaultOutputBytes int64 = 8 << 20
	// DefaultSampleInterval is the memory polling period.
	DefaultSampleInterval = 10 * time.Millisecond
)

// Limits is the enforcement view of spec.ResourceLimit.
type Limits struct {
	TimeLimit   time.Duration
	MemoryBytes int64
	OutputBytes int64
	PIDs        int64

	// AddressSpaceBytes is a per-process virtual memory ceiling for
	// backends without a memory cgroup. Zero leaves it unset.
	AddressSpaceBytes int64
}

// GroupUsage is a snapshot of every process in one process group.
type GroupUsage struct {
	RSSBytes  int64
	Processes int64
}

// FromSpec converts resource limits into enforcement limits.
func FromSpec(l spec.ResourceLimit) Limits {
	out := Limits{
		TimeLimit:   l.TimeLimit(),
		MemoryBytes: l.MemoryBytes(),
		OutputBytes: l.OutputBytes,
		PIDs:        l.PIDs,
	}
	if out.OutputBytes <= 0 {
		out.OutputBytes = DefaultOutputBytes
	}
	return out
}

// ExitStatus is what a backend learned about a finished run.
type ExitStatus struct {
	Code        int
	Signal      string
	CPUTimeMs   int64
	MemoryKB    int64
	OOMKilled   bool
	CPUExceeded bool
}

// Handle enforces limits for one run.
type Handle struct {
	limits Limits
	stdout *CappedBuffer
	stderr *CappedBuffer

	timedOut          atomic.Bool
	memoryExceeded    atomic.Bool
	processesExceeded atomic.Bool
	cancelled         atomic.Bool

	mu      sync.Mutex
	kill    func()
	killed  bool
	armed   bool
	timer   *time.Timer
	sampler *Sampler
	done    chan struct{}
	started time.Time
	elapsed time.Duration
	peak    int64
}

// NewHandle creates an unarmed handle.
func NewHandle(limits Limits) *Handle {
	if limits.OutputBytes <= 0 {
		limits.OutputBytes = DefaultOutputBytes
	}
	h := &Handle{limits: limits, done: make(chan struct{})}
	h.stdout = NewCappedBuffer(limits.OutputBytes, h.Kill)
	h.stderr = NewCappedBuffer(limits.OutputBytes, h.Kill)
	return h
}

// Limits returns the limits the handle enforces.
func (h *Handle) Limits() Limits { return h.limits }

// Stdout is the capped sink for the program's standard output.
func (h *Handle) Stdout() *CappedBuffer { return h.stdout }

// Stderr is the capped sink for the program's standard error.
func (h *Handle) Stderr() *CappedBuffer { return h.stderr }

// Arm starts the wall-clock watchdog and binds kill, which must be safe to
// call from any goroutine. Cancellation of ctx kills the run as well.
func (h *Handle) Arm(ctx context.Context, kill func()) {
	h.mu.Lock()
	h.kill = kill
	h.armed = true
	h.started = time.Now()
	if h.limits.TimeLimit > 0 {
		h.timer = time.AfterFunc(h.limits.TimeLimit, h.expire)
	}
	alreadyKilled := h.killed
	h.mu.Unlock()

	if alreadyKilled {
		kill()
	}
	go func() {
		select {
		case <-ctx.Done():
			h.cancelled.Store(true)
			h.Kill()
		case <-h.done:
		}
	}()
}

// WatchMemory polls probe and kills the run once usage passes the memory
// limit. probe returns the current usage in bytes.
func (h *Handle) WatchMemory(interval time.Duration, probe func() (int64, error)) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	s := StartSampler(interval, probe, h.limits.MemoryBytes, h.MarkMemoryExceeded)
	h.mu.Lock()
	h.sampler = s
	h.mu.Unlock()
}

// WatchGroup polls sample for a whole process group. Summed RSS is held to
// the memory limit and the process count to the PID limit.
func (h *Handle) WatchGroup(interval time.Duration, sample func() (GroupUsage, error)) {
	h.WatchMemory(interval, func() (int64, error) {
		usage, err := sample()
		if err != nil {
			return 0, err
		}
		if h.limits.PIDs > 0 && usage.Processes > h.limits.PIDs {
			h.processesExceeded.Store(true)
			h.Kill()
		}
		return usage.RSSBytes, nil
	})
}

// MarkMemoryExceeded records a memory breach and kills the run.
func (h *Handle) MarkMemoryExceeded() {
	h.memoryExceeded.Store(true)
	h.Kill()
}

// Kill terminates the run once. Calls before Arm are deferred to Arm.
func (h *Handle) Kill() {
	h.mu.Lock()
	if h.killed {
		h.mu.Unlock()
		return
	}
	h.killed = true
	kill := h.kill
	h.mu.Unlock()
	if kill != nil {
		kill()
	}
}

// Disarm stops the watchdog and sampler and fixes the elapsed time.
// It is safe to call more than once.
func (h *Handle) Disarm() time.Duration {
	h.mu.Lock()
	if !h.armed {
		elapsed := h.elapsed
		h.mu.Unlock()
		return elapsed
	}
	h.armed = false
	h.elapsed = time.Since(h.started)
	if h.timer != nil {
		h.timer.Stop()
	}
	sampler := h.sampler
	h.sampler = nil
	close(h.done)
	elapsed := h.elapsed
	h.mu.Unlock()

	if sampler != nil {
		peak := sampler.Stop()
		h.mu.Lock()
		if peak > h.peak {
			h.peak = peak
		}
		h.mu.Unlock()
	}
	return elapsed
}

// TimedOut reports whether the watchdog fired.
func (h *Handle) TimedOut() bool { return h.timedOut.Load() }

// ProcessLimitExceeded reports whether the run was killed for spawning more
// processes than the PID limit allows.
func (h *Handle) ProcessLimitExceeded() bool { return h.processesExceeded.Load() }

// Cancelled reports whether the run was killed because its context ended.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Killed reports whether the run was forcibly terminated for any reason.
func (h *Handle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// Result assembles the raw result of the run. Disarm must have been called.
func (h *Handle) Result(exit ExitStatus) result.RawResult {
	h.mu.Lock()
	elapsed := h.elapsed
	peakKB := h.peak / 1024
	h.mu.Unlock()

	raw := result.RawResult{
		ExitCode:        exit.Code,
		Signal:          exit.Signal,
		Stdout:          h.stdout.String(),
		Stderr:          h.stderr.String(),
		TimeMs:          elapsed.Milliseconds(),
		CPUTimeMs:       exit.CPUTimeMs,
		MemoryKB:        exit.MemoryKB,
		TimedOut:        h.timedOut.Load() || exit.CPUExceeded,
		OutputTruncated: h.stdout.Truncated() || h.stderr.Truncated(),
	}
	if peakKB > raw.MemoryKB {
		raw.MemoryKB = peakKB
	}

	limitKB := h.limits.MemoryBytes / 1024
	raw.MemoryExceeded = h.memoryExceeded.Load() || exit.OOMKilled ||
		(limitKB > 0 && raw.MemoryKB > limitKB)
	if raw.MemoryExceeded && raw.MemoryKB < limitKB {
		raw.MemoryKB = limitKB
	}
	if raw.TimedOut {
		if limitMs := h.limits.TimeLimit.Milliseconds(); raw.TimeMs < limitMs {
			raw.TimeMs = limitMs
		}
	}
	return raw
}

func (h *Handle) expire() {
	h.timedOut.Store(true)
	h.Kill()
}
