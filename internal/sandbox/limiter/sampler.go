package limiter

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sampler polls a memory probe and tracks the peak value.
type Sampler struct {
	peak     atomic.Int64
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartSampler polls probe every interval. When limit is positive and a
// sample exceeds it, onExceed runs once and sampling stops.
func StartSampler(interval time.Duration, probe func() (int64, error), limit int64, onExceed func()) *Sampler {
	s := &Sampler{stop: make(chan struct{}), done: make(chan struct{})}
	go s.loop(interval, probe, limit, onExceed)
	return s
}

func (s *Sampler) loop(interval time.Duration, probe func() (int64, error), limit int64, onExceed func()) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if usage, err := probe(); err == nil {
			if usage > s.peak.Load() {
				s.peak.Store(usage)
			}
			if limit > 0 && usage > limit {
				if onExceed != nil {
					onExceed()
				}
				return
			}
		}
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop ends sampling and returns the peak usage seen.
func (s *Sampler) Stop() int64 {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return s.peak.Load()
}
