package classifier

import (
	"testing"

	"codesandbox/internal/sandbox/result"
)

func strPtr(s string) *string { return &s }

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		raw      result.RawResult
		expected *string
		want     result.Verdict
	}{
		{
			name:     "timeout beats wrong output and exit code",
			raw:      result.RawResult{TimedOut: true, MemoryExceeded: true, OutputTruncated: true, ExitCode: 137, Stdout: "nope"},
			expected: strPtr("yes"),
			want:     result.VerdictTimeLimitExceeded,
		},
		{
			name:     "memory beats output and exit code",
			raw:      result.RawResult{MemoryExceeded: true, OutputTruncated: true, ExitCode: 1},
			expected: strPtr(""),
			want:     result.VerdictMemoryLimitExceeded,
		},
		{
			name:     "output beats exit code",
			raw:      result.RawResult{OutputTruncated: true, ExitCode: 1},
			expected: strPtr(""),
			want:     result.VerdictOutputLimitExceeded,
		},
		{
			name:     "nonzero exit",
			raw:      result.RawResult{ExitCode: 1, Stdout: "hello"},
			expected: strPtr("hello"),
			want:     result.VerdictRuntimeError,
		},
		{
			name:     "signal without exit code",
			raw:      result.RawResult{Signal: "segmentation fault"},
			expected: strPtr(""),
			want:     result.VerdictRuntimeError,
		},
		{
			name:     "trailing whitespace ignored",
			raw:      result.RawResult{Stdout: "hello  \r\nworld\n\n\n"},
			expected: strPtr("hello\nworld"),
			want:     result.VerdictAccepted,
		},
		{
			name:     "leading whitespace is significant",
			raw:      result.RawResult{Stdout: " hello\n"},
			expected: strPtr("hello"),
			want:     result.VerdictWrongAnswer,
		},
		{
			name:     "interior blank line is significant",
			raw:      result.RawResult{Stdout: "a\n\nb\n"},
			expected: strPtr("a\nb"),
			want:     result.VerdictWrongAnswer,
		},
		{
			name: "missing expected output accepts clean run",
			raw:  result.RawResult{Stdout: "anything"},
			want: result.VerdictAccepted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.raw, tc.expected); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestOutcomeKeepsRaw(t *testing.T) {
	raw := result.RawResult{Stdout: "42\n", TimeMs: 5, MemoryKB: 1024}
	outcome := Outcome(3, raw, strPtr("42"))
	if outcome.Index != 3 || outcome.Verdict != result.VerdictAccepted || outcome.Raw != raw {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}
