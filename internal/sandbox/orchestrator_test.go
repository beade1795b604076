package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"codesandbox/internal/sandbox/backend"
	"codesandbox/internal/sandbox/config"
	"codesandbox/internal/sandbox/profile"
	"codesandbox/internal/sandbox/result"
	"codesandbox/internal/sandbox/spec"
	appErr "codesandbox/pkg/errors"
)

type fakeBackend struct {
	mu         sync.Mutex
	compile    result.CompileResult
	compileErr error
	noProgram  bool
	run        func(ctx context.Context, req backend.RunRequest) (result.RawResult, error)
	compiles   []backend.CompileRequest
	runs       []backend.RunRequest
	destroyed  int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Compile(_ context.Context, req backend.CompileRequest) (*backend.StagedProgram, result.CompileResult, error) {
	f.mu.Lock()
	f.compiles = append(f.compiles, req)
	f.mu.Unlock()
	if f.noProgram {
		return nil, result.CompileResult{}, f.compileErr
	}
	return &backend.StagedProgram{SubmissionID: req.SubmissionID, Language: req.Language}, f.compile, f.compileErr
}

func (f *fakeBackend) Run(ctx context.Context, _ *backend.StagedProgram, req backend.RunRequest) (result.RawResult, error) {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	f.mu.Unlock()
	if f.run == nil {
		return result.RawResult{Stdout: req.Input}, nil
	}
	return f.run(ctx, req)
}

func (f *fakeBackend) Destroy(_ context.Context, prog *backend.StagedProgram) error {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
	return prog.Remove()
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []StatusUpdate
	err     error
}

func (r *recordingReporter) ReportStatus(_ context.Context, update StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return r.err
}

func (r *recordingReporter) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]State, 0, len(r.updates))
	for _, u := range r.updates {
		if len(states) > 0 && states[len(states)-1] == u.State {
			continue
		}
		states = append(states, u.State)
	}
	return states
}

var testLang = profile.LanguageSpec{ID: "py", SourceFile: "main.py", RunCmdTpl: "python3 {src}"}

func newTestOrchestrator(b backend.Backend) (*Orchestrator, *recordingReporter) {
	repo := config.NewLocalRepository([]profile.LanguageSpec{testLang})
	o := NewOrchestrator(b, repo, Config{DefaultLimits: spec.ResourceLimit{TimeLimitMs: 1000, MemoryMB: 256, OutputBytes: 1 << 20}})
	reporter := &recordingReporter{}
	o.SetStatusReporter(reporter)
	return o, reporter
}

func strPtr(s string) *string { return &s }

func sameStates(got, want []State) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestJudgeKeepsCaseOrder(t *testing.T) {
	fb := &fakeBackend{compile: result.CompileResult{OK: true}}
	o, reporter := newTestOrchestrator(fb)

	report := o.Judge(context.Background(), SubmissionRequest{
		SubmissionID: "sub-order",
		LanguageID:   "py",
		SourceCode:   "print(input())",
		Tests: []TestCase{
			{Input: "1\n", ExpectedOutput: strPtr("1")},
			{Input: "2\n", ExpectedOutput: strPtr("3")},
			{Input: "3\n"},
		},
	})

	if report.Status != result.StatusJudged {
		t.Fatalf("expected judged, got %+v", report)
	}
	want := []result.Verdict{result.VerdictAccepted, result.VerdictWrongAnswer, result.VerdictAccepted}
	if len(report.Cases) != len(want) {
		t.Fatalf("expected %d cases, got %d", len(want), len(report.Cases))
	}
	for i, v := range want {
		if report.Cases[i].Index != i || report.Cases[i].Verdict != v {
			t.Fatalf("case %d: got %+v, want %s", i, report.Cases[i], v)
		}
	}
	if report.Summary.Accepted != 2 || report.Summary.FirstFailedCase != 1 {
		t.Fatalf("unexpected summary: %+v", report.Summary)
	}
	if report.Backend != "fake" || report.Language != "py" {
		t.Fatalf("unexpected report header: %+v", report)
	}
	if fb.destroyed != 1 {
		t.Fatalf("expected program destroyed once, got %d", fb.destroyed)
	}
	wantStates := []State{StateReceived, StateCompiling, StateRunning, StateJudging, StateReported}
	if got := reporter.states(); !sameStates(got, wantStates) {
		t.Fatalf("unexpected states %v", got)
	}
	last := reporter.updates[len(reporter.updates)-1]
	if last.Report == nil || last.DoneTests != 3 || last.TotalTests != 3 {
		t.Fatalf("unexpected final update: %+v", last)
	}
}

func TestJudgeCompileError(t *testing.T) {
	fb := &fakeBackend{compile: result.CompileResult{OK: false, ExitCode: 1, Output: "syntax error"}}
	o, reporter := newTestOrchestrator(fb)

	report := o.Judge(context.Background(), SubmissionRequest{
		LanguageID: "py",
		SourceCode: "print(",
		Tests:      []TestCase{{Input: "x"}},
	})
	if report.Status != result.StatusCompileError || report.CompileOutput != "syntax error" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Cases) != 0 || len(fb.runs) != 0 {
		t.Fatalf("run phase must not be entered")
	}
	if fb.destroyed != 1 {
		t.Fatalf("expected program destroyed, got %d", fb.destroyed)
	}
	if report.SubmissionID == "" {
		t.Fatalf("expected generated submission id")
	}
	wantStates := []State{StateReceived, StateCompiling, StateCompileFailed, StateReported}
	if got := reporter.states(); !sameStates(got, wantStates) {
		t.Fatalf("unexpected states %v", got)
	}
}

func TestJudgeInternalErrors(t *testing.T) {
	cases := []struct {
		name          string
		backend       *fakeBackend
		language      string
		wantCases     int
		wantDestroyed int
	}{
		{
			name:     "unknown language",
			backend:  &fakeBackend{compile: result.CompileResult{OK: true}},
			language: "cobol",
		},
		{
			name:     "staging failure",
			backend:  &fakeBackend{noProgram: true, compileErr: appErr.New(appErr.StagingFailed)},
			language: "py",
		},
		{
			name:          "compile mechanism failure",
			backend:       &fakeBackend{compileErr: appErr.New(appErr.ContainerRuntimeError)},
			language:      "py",
			wantDestroyed: 1,
		},
		{
			name: "spawn failure on second case",
			backend: &fakeBackend{
				compile: result.CompileResult{OK: true},
				run: func(_ context.Context, req backend.RunRequest) (result.RawResult, error) {
					if req.CaseIndex == 1 {
						return result.RawResult{}, appErr.New(appErr.ProcessSpawnFailed)
					}
					return result.RawResult{Stdout: req.Input}, nil
				},
			},
			language:      "py",
			wantCases:     1,
			wantDestroyed: 1,
		},
		{
			name: "panic in run",
			backend: &fakeBackend{
				compile: result.CompileResult{OK: true},
				run: func(context.Context, backend.RunRequest) (result.RawResult, error) {
					panic("boom")
				},
			},
			language:      "py",
			wantDestroyed: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(tc.backend)
			report := o.Judge(context.Background(), SubmissionRequest{
				LanguageID: tc.language,
				SourceCode: "x",
				Tests:      []TestCase{{Input: "a"}, {Input: "b"}, {Input: "c"}},
			})
			if report.Status != result.StatusInternalError || report.Error == "" {
				t.Fatalf("expected internal error, got %+v", report)
			}
			if len(report.Cases) != tc.wantCases {
				t.Fatalf("expected %d partial cases, got %d", tc.wantCases, len(report.Cases))
			}
			if tc.backend.destroyed != tc.wantDestroyed {
				t.Fatalf("expected %d destroys, got %d", tc.wantDestroyed, tc.backend.destroyed)
			}
		})
	}
}

func TestJudgeAppliesLimits(t *testing.T) {
	fb := &fakeBackend{compile: result.CompileResult{OK: true}}
	lang := testLang
	lang.TimeMultiplier = 2
	lang.MemoryMultiplier = 1.5
	repo := config.NewLocalRepository([]profile.LanguageSpec{lang})
	o := NewOrchestrator(fb, repo, Config{
		DefaultLimits: spec.ResourceLimit{TimeLimitMs: 1000, MemoryMB: 128, OutputBytes: 4096},
		MaxLimits:     spec.ResourceLimit{TimeLimitMs: 1500, MemoryMB: 1024},
	})

	o.Judge(context.Background(), SubmissionRequest{
		LanguageID: "PY",
		SourceCode: "x",
		Tests:      []TestCase{{Input: "a"}},
		Limits:     spec.ResourceLimit{MemoryMB: 100},
	})
	if len(fb.runs) != 1 {
		t.Fatalf("expected one run, got %d", len(fb.runs))
	}
	got := fb.runs[0].Limits
	want := spec.ResourceLimit{TimeLimitMs: 1500, MemoryMB: 150, OutputBytes: 4096}
	if got != want {
		t.Fatalf("limits = %+v, want %+v", got, want)
	}
	if fb.compiles[0].Limits != want {
		t.Fatalf("compile limits = %+v, want %+v", fb.compiles[0].Limits, want)
	}
}

func TestJudgeCancel(t *testing.T) {
	started := make(chan struct{})
	fb := &fakeBackend{
		compile: result.CompileResult{OK: true},
		run: func(ctx context.Context, req backend.RunRequest) (result.RawResult, error) {
			close(started)
			<-ctx.Done()
			return result.RawResult{}, appErr.Wrapf(ctx.Err(), appErr.JudgeCancelled, "run cancelled")
		},
	}
	o, _ := newTestOrchestrator(fb)

	done := make(chan result.SubmissionReport, 1)
	go func() {
		done <- o.Judge(context.Background(), SubmissionRequest{
			SubmissionID: "sub-cancel",
			LanguageID:   "py",
			SourceCode:   "while True: pass",
			Tests:        []TestCase{{Input: "a"}, {Input: "b"}},
		})
	}()

	<-started
	if !o.Cancel("sub-cancel") {
		t.Fatalf("expected in-flight submission")
	}
	select {
	case report := <-done:
		if report.Status != result.StatusInternalError || report.Error != appErr.JudgeCancelled.Message() {
			t.Fatalf("unexpected report: %+v", report)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("judge did not return after cancel")
	}
	if fb.destroyed != 1 {
		t.Fatalf("expected program destroyed after cancel, got %d", fb.destroyed)
	}
	if o.Cancel("sub-cancel") {
		t.Fatalf("finished submission must not be cancellable")
	}
}

func TestJudgeIgnoresReporterFailure(t *testing.T) {
	fb := &fakeBackend{compile: result.CompileResult{OK: true}}
	o, reporter := newTestOrchestrator(fb)
	reporter.err = errors.New("redis down")

	report := o.Judge(context.Background(), SubmissionRequest{
		LanguageID: "py",
		SourceCode: "x",
		Tests:      []TestCase{{Input: "ok", ExpectedOutput: strPtr("ok\n")}},
	})
	if report.Status != result.StatusJudged || report.Cases[0].Verdict != result.VerdictAccepted {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestJudgeIsDeterministic(t *testing.T) {
	fb := &fakeBackend{
		compile: result.CompileResult{OK: true},
		run: func(_ context.Context, req backend.RunRequest) (result.RawResult, error) {
			if req.Input == "crash" {
				return result.RawResult{ExitCode: 1}, nil
			}
			return result.RawResult{Stdout: req.Input}, nil
		},
	}
	o, _ := newTestOrchestrator(fb)
	req := SubmissionRequest{
		SubmissionID: "same",
		LanguageID:   "py",
		SourceCode:   "x",
		Tests:        []TestCase{{Input: "a", ExpectedOutput: strPtr("a")}, {Input: "crash"}},
	}
	first := o.Judge(context.Background(), req)
	second := o.Judge(context.Background(), req)
	for i := range first.Cases {
		if first.Cases[i].Verdict != second.Cases[i].Verdict {
			t.Fatalf("case %d verdict differs: %s vs %s", i, first.Cases[i].Verdict, second.Cases[i].Verdict)
		}
	}
	if second.Cases[1].Verdict != result.VerdictRuntimeError {
		t.Fatalf("expected runtime error, got %s", second.Cases[1].Verdict)
	}
}
