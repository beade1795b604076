// Package observer records judge metrics.
package observer

import (
	"time"

	"codesandbox/internal/sandbox/result"
)

// Recorder receives judge lifecycle events. Implementations must be safe
// for concurrent use.
type Recorder interface {
	SubmissionStarted(language string)
	SubmissionFinished(language, backend string, status result.SubmissionStatus, elapsed time.Duration)
	CompileFinished(language string, ok bool, elapsed time.Duration)
	CaseFinished(language string, verdict result.Verdict, raw result.RawResult)
	SlotRejected()
}

// Noop discards every event.
type Noop struct{}

func (Noop) SubmissionStarted(string) {}

func (Noop) SubmissionFinished(string, string, result.SubmissionStatus, time.Duration) {}

func (Noop) CompileFinished(string, bool, time.Duration) {}

func (Noop) CaseFinished(string, result.Verdict, result.RawResult) {}

func (Noop) SlotRejected() {}
