// Package backend defines the execution backend contract shared by the
// native and containerized implementations.
package backend

import (
	"context"

	"codesandbox/internal/sandbox/profile"
	"codesandbox/internal/sandbox/result"
	"codesandbox/internal/sandbox/spec"
)

// Backend compiles and runs programs under resource limits.
//
// Compile returns a non-nil program whenever staging started, even when it
// also returns an error or a failed CompileResult; the caller owns the
// program from then on and must pass it to Destroy. A returned error means
// the sandbox mechanism failed, never that the user's program did.
type Backend interface {
	Name() string
	Compile(ctx context.Context, req CompileRequest) (*StagedProgram, result.CompileResult, error)
	Run(ctx context.Context, prog *StagedProgram, req RunRequest) (result.RawResult, error)
	Destroy(ctx context.Context, prog *StagedProgram) error
}

// CompileRequest is the input of one compile step.
type CompileRequest struct {
	SubmissionID string
	Language     profile.LanguageSpec
	Source       string
	Limits       spec.ResourceLimit
}

// RunRequest is the input of one test case run.
type RunRequest struct {
	CaseIndex int
	Input     string
	Limits    spec.ResourceLimit
}
