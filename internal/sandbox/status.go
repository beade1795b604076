package sandbox

import (
	"context"

	"codesandbox/internal/sandbox/result"
)

// State is a step of the per-submission state machine.
type State string

const (
	StateReceived      State = "Received"
	StateCompiling     State = "Compiling"
	StateCompileFailed State = "CompileFailed"
	StateRunning       State = "Running"
	StateJudging       State = "Judging"
	StateReported      State = "Reported"
)

// StatusUpdate carries intermediate judge progress.
type StatusUpdate struct {
	SubmissionID string                   `json:"submission_id"`
	State        State                    `json:"state"`
	Language     string                   `json:"language"`
	Backend      string                   `json:"backend"`
	TotalTests   int                      `json:"total_tests"`
	DoneTests    int                      `json:"done_tests"`
	ReceivedAt   int64                    `json:"received_at"`
	FinishedAt   int64                    `json:"finished_at,omitempty"`
	Report       *result.SubmissionReport `json:"report,omitempty"`
}

// StatusReporter persists intermediate status updates.
type StatusReporter interface {
	ReportStatus(ctx context.Context, update StatusUpdate) error
}
