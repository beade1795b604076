// Package result defines raw execution results, verdicts and submission reports.
package result

// Verdict is the outcome of one test case.
type Verdict string

const (
	VerdictAccepted            Verdict = "Accepted"
	VerdictWrongAnswer         Verdict = "WrongAnswer"
	VerdictRuntimeError        Verdict = "RuntimeError"
	VerdictTimeLimitExceeded   Verdict = "TimeLimitExceeded"
	VerdictMemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	VerdictOutputLimitExceeded Verdict = "OutputLimitExceeded"
)

// SubmissionStatus is the overall status of a judged submission.
type SubmissionStatus string

const (
	StatusCompileError  SubmissionStatus = "CompileError"
	StatusJudged        SubmissionStatus = "Judged"
	StatusInternalError SubmissionStatus = "InternalError"
)

// RawResult captures what one process or container run produced.
// TimeMs and MemoryKB are populated even when the run was killed.
type RawResult struct {
	ExitCode        int    `json:"exit_code"`
	Signal          string `json:"signal,omitempty"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	TimeMs          int64  `json:"time_ms"`
	CPUTimeMs       int64  `json:"cpu_time_ms"`
	MemoryKB        int64  `json:"memory_kb"`
	TimedOut        bool   `json:"timed_out"`
	MemoryExceeded  bool   `json:"memory_exceeded"`
	OutputTruncated bool   `json:"output_truncated"`
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK       bool   `json:"ok"`
	Skipped  bool   `json:"skipped,omitempty"`
	ExitCode int    `json:"exit_code"`
	TimeMs   int64  `json:"time_ms"`
	MemoryKB int64  `json:"memory_kb"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Output   string `json:"output,omitempty"`
}

// CaseOutcome is the verdict for one test case plus the raw run data.
type CaseOutcome struct {
	Index   int       `json:"index"`
	Verdict Verdict   `json:"verdict"`
	Raw     RawResult `json:"raw"`
}

// Summary aggregates statistics across cases.
type Summary struct {
	TotalTimeMs     int64 `json:"total_time_ms"`
	MaxMemoryKB     int64 `json:"max_memory_kb"`
	Accepted        int   `json:"accepted"`
	Total           int   `json:"total"`
	FirstFailedCase int   `json:"first_failed_case"`
}

// SubmissionReport is the terminal artifact returned for a submission.
type SubmissionReport struct {
	SubmissionID  string           `json:"submission_id"`
	Status        SubmissionStatus `json:"status"`
	Language      string           `json:"language"`
	Backend       string           `json:"backend"`
	Cases         []CaseOutcome    `json:"cases"`
	CompileOutput string           `json:"compile_output,omitempty"`
	Error         string           `json:"error,omitempty"`
	Summary       Summary          `json:"summary"`
	ReceivedAt    int64            `json:"received_at"`
	FinishedAt    int64            `json:"finished_at"`
}

// Summarize computes the summary for a list of outcomes.
// FirstFailedCase is -1 when every case was accepted.
func Summarize(cases []CaseOutcome) Summary {
	summary := Summary{Total: len(cases), FirstFailedCase: -1}
	for _, c := range cases {
		summary.TotalTimeMs += c.Raw.TimeMs
		if c.Raw.MemoryKB > summary.MaxMemoryKB {
			summary.MaxMemoryKB = c.Raw.MemoryKB
		}
		if c.Verdict == VerdictAccepted {
			summary.Accepted++
		} else if summary.FirstFailedCase < 0 {
			summary.FirstFailedCase = c.Index
		}
	}
	return summary
}
