package controller

import (
	"codesandbox/internal/repository"
	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/spec"
)

// JudgeRequest is the body of a judge call.
type JudgeRequest struct {
	SubmissionID string            `json:"submission_id"`
	LanguageID   string            `json:"language_id" binding:"required"`
	SourceCode   string            `json:"source_code" binding:"required"`
	Tests        []TestCaseRequest `json:"tests" binding:"dive"`
	Limits       LimitsRequest     `json:"limits"`
}

// TestCaseRequest is one test case in a judge call.
type TestCaseRequest struct {
	Input          string  `json:"input"`
	ExpectedOutput *string `json:"expected_output"`
}

// LimitsRequest overrides the default limits. Zero fields keep defaults.
type LimitsRequest struct {
	TimeLimitMs int64 `json:"time_limit_ms" binding:"gte=0"`
	MemoryMB    int64 `json:"memory_mb" binding:"gte=0"`
	OutputBytes int64 `json:"output_bytes" binding:"gte=0"`
}

// CancelResponse acknowledges a cancel call.
type CancelResponse struct {
	SubmissionID string `json:"submission_id"`
	Cancelled    bool   `json:"cancelled"`
}

func (r JudgeRequest) toSubmission() sandbox.SubmissionRequest {
	tests := make([]sandbox.TestCase, 0, len(r.Tests))
	for _, tc := range r.Tests {
		tests = append(tests, sandbox.TestCase{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput})
	}
	return sandbox.SubmissionRequest{
		SubmissionID: r.SubmissionID,
		LanguageID:   r.LanguageID,
		SourceCode:   r.SourceCode,
		Tests:        tests,
		Limits: spec.ResourceLimit{
			TimeLimitMs: r.Limits.TimeLimitMs,
			MemoryMB:    r.Limits.MemoryMB,
			OutputBytes: r.Limits.OutputBytes,
		},
	}
}

// HistoryQuery selects how many history records to list.
type HistoryQuery struct {
	Limit int `form:"limit" binding:"gte=0,lte=200"`
}

// HistoryListResponse wraps listed history records.
type HistoryListResponse struct {
	Items []repository.HistoryRecord `json:"items"`
}
