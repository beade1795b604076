// Package classifier maps raw execution results to case verdicts.
package classifier

import (
	"strings"

	"codesandbox/internal/sandbox/result"
)

// Classify returns the verdict for one run.
//
// Limit flags win over the exit status, and the exit status wins over the
// output comparison: timeout, memory, output, exit code, then stdout.
// A nil expected output accepts any clean run.
func Classify(raw result.RawResult, expected *string) result.Verdict {
	switch {
	case raw.TimedOut:
		return result.VerdictTimeLimitExceeded
	case raw.MemoryExceeded:
		return result.VerdictMemoryLimitExceeded
	case raw.OutputTruncated:
		return result.VerdictOutputLimitExceeded
	case raw.ExitCode != 0 || raw.Signal != "":
		return result.VerdictRuntimeError
	}
	if expected == nil {
		return result.VerdictAccepted
	}
	if Normalize(raw.Stdout) == Normalize(*expected) {
		return result.VerdictAccepted
	}
	return result.VerdictWrongAnswer
}

// Outcome wraps Classify into a CaseOutcome.
func Outcome(index int, raw result.RawResult, expected *string) result.CaseOutcome {
	return result.CaseOutcome{Index: index, Verdict: Classify(raw, expected), Raw: raw}
}

// Normalize strips trailing whitespace from every line and trailing blank
// lines from the text. Leading and interior whitespace is preserved.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\f\v")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
