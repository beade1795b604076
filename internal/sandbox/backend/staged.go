package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"codesandbox/internal/sandbox/profile"
	appErr "codesandbox/pkg/errors"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// StagedProgram is a compiled or source-ready program in its own scratch
// directory. It belongs to the backend that created it.
type StagedProgram struct {
	SubmissionID string
	Language     profile.LanguageSpec
	Dir          string
	RunCmd       []string

	mu        sync.Mutex
	destroyed bool
}

// Stage creates a scratch directory under root and writes the source file.
// On failure nothing is left behind.
func Stage(root, submissionID string, lang profile.LanguageSpec, source string) (*StagedProgram, error) {
	if lang.SourceFile == "" || filepath.Base(lang.SourceFile) != lang.SourceFile {
		return nil, appErr.Newf(appErr.StagingFailed, "invalid source file name %q", lang.SourceFile)
	}
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.StagingFailed, "create work root failed")
	}
	dir, err := os.MkdirTemp(root, fmt.Sprintf("sub-%s-", SafeName(submissionID)))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StagingFailed, "create scratch dir failed")
	}
	// The sandboxed user may differ from the service user.
	if err := os.Chmod(dir, 0o777); err != nil {
		_ = os.RemoveAll(dir)
		return nil, appErr.Wrapf(err, appErr.StagingFailed, "chmod scratch dir failed")
	}
	if err := os.WriteFile(filepath.Join(dir, lang.SourceFile), []byte(source), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, appErr.Wrapf(err, appErr.StagingFailed, "write source file failed")
	}
	return &StagedProgram{SubmissionID: submissionID, Language: lang, Dir: dir}, nil
}

// Remove deletes the scratch directory once. Later calls are no-ops.
func (p *StagedProgram) Remove() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil
	}
	p.destroyed = true
	if p.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(p.Dir); err != nil {
		return appErr.Wrapf(err, appErr.StagingFailed, "remove scratch dir failed")
	}
	return nil
}

// Destroyed reports whether Remove already ran.
func (p *StagedProgram) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// SafeName maps an id onto characters valid in file and container names.
func SafeName(id string) string {
	name := unsafeNameChars.ReplaceAllString(id, "_")
	if len(name) > 48 {
		name = name[:48]
	}
	if name == "" {
		name = "anon"
	}
	return name
}
