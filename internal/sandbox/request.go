// Package sandbox is the engine entry point: it drives one submission
// through compile, per-case runs and classification, and always destroys
// the staged program before returning.
package sandbox

import (
	"codesandbox/internal/sandbox/spec"
)

// SubmissionRequest is one program plus its test cases. It is never
// mutated by the engine.
type SubmissionRequest struct {
	SubmissionID string             `json:"submission_id"`
	LanguageID   string             `json:"language_id"`
	SourceCode   string             `json:"source_code"`
	Tests        []TestCase         `json:"tests"`
	Limits       spec.ResourceLimit `json:"limits"`
}

// TestCase is one input with an optional expected output.
type TestCase struct {
	Input          string  `json:"input"`
	ExpectedOutput *string `json:"expected_output,omitempty"`
}
