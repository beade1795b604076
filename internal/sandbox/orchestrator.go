package sandbox

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"codesandbox/internal/sandbox/backend"
	"codesandbox/internal/sandbox/classifier"
	"codesandbox/internal/sandbox/config"
	"codesandbox/internal/sandbox/observer"
	"codesandbox/internal/sandbox/result"
	"codesandbox/internal/sandbox/spec"
	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the limits applied around every request.
type Config struct {
	// DefaultLimits fills limits the request leaves unset.
	DefaultLimits spec.ResourceLimit `yaml:"defaultLimits"`
	// MaxLimits caps every limit after language multipliers are applied.
	MaxLimits spec.ResourceLimit `yaml:"maxLimits"`
}

// Orchestrator judges submissions on one backend. It is safe for
// concurrent use; every submission gets its own staged program.
type Orchestrator struct {
	backend  backend.Backend
	langRepo config.LanguageSpecRepository
	cfg      Config

	statusReporter StatusReporter
	recorder       observer.Recorder
	now            func() time.Time

	mu       sync.Mutex
	seq      uint64
	inflight map[string]map[uint64]context.CancelFunc
}

// NewOrchestrator creates an orchestrator with required dependencies.
func NewOrchestrator(b backend.Backend, langRepo config.LanguageSpecRepository, cfg Config) *Orchestrator {
	return &Orchestrator{
		backend:  b,
		langRepo: langRepo,
		cfg:      cfg,
		recorder: observer.Noop{},
		now:      time.Now,
		inflight: make(map[string]map[uint64]context.CancelFunc),
	}
}

// SetStatusReporter injects a status reporter for intermediate updates.
func (o *Orchestrator) SetStatusReporter(reporter StatusReporter) {
	o.statusReporter = reporter
}

// SetRecorder injects a metrics recorder.
func (o *Orchestrator) SetRecorder(recorder observer.Recorder) {
	if recorder == nil {
		recorder = observer.Noop{}
	}
	o.recorder = recorder
}

// Backend returns the backend name.
func (o *Orchestrator) Backend() string {
	return o.backend.Name()
}

// Cancel aborts every in-flight judge of submissionID. It reports whether
// anything was running.
func (o *Orchestrator) Cancel(submissionID string) bool {
	o.mu.Lock()
	cancels := o.inflight[submissionID]
	delete(o.inflight, submissionID)
	o.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels) > 0
}

// Judge runs the full workflow for one submission and always returns a
// report. Backend failures, cancellation and panics become an
// InternalError report carrying the cases judged so far. The staged
// program is destroyed before Judge returns on every path.
func (o *Orchestrator) Judge(ctx context.Context, req SubmissionRequest) (report result.SubmissionReport) {
	startedAt := o.now()
	if req.SubmissionID == "" {
		req.SubmissionID = uuid.NewString()
	}
	ctx = logger.WithSubmission(ctx, req.SubmissionID)
	ctx, cancel := context.WithCancel(ctx)
	untrack := o.track(req.SubmissionID, cancel)
	defer untrack()
	defer cancel()

	report = result.SubmissionReport{
		SubmissionID: req.SubmissionID,
		Language:     req.LanguageID,
		Backend:      o.backend.Name(),
		Cases:        make([]result.CaseOutcome, 0, len(req.Tests)),
		ReceivedAt:   startedAt.UnixMilli(),
	}
	progress := StatusUpdate{
		SubmissionID: req.SubmissionID,
		Language:     req.LanguageID,
		Backend:      report.Backend,
		TotalTests:   len(req.Tests),
		ReceivedAt:   report.ReceivedAt,
	}
	o.recorder.SubmissionStarted(req.LanguageID)
	o.reportStatus(ctx, progress, StateReceived)

	var prog *backend.StagedProgram
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judge panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			report = failed(report, appErr.Newf(appErr.JudgeSystemError, "judge panicked: %v", r))
		}
		// Cleanup must survive cancellation of the judge context.
		cleanupCtx := context.WithoutCancel(ctx)
		if prog != nil {
			if err := o.backend.Destroy(cleanupCtx, prog); err != nil {
				logger.Error(ctx, "destroy staged program failed", zap.Error(err))
			}
		}
		report.Summary = result.Summarize(report.Cases)
		finishedAt := o.now()
		report.FinishedAt = finishedAt.UnixMilli()
		o.recorder.SubmissionFinished(req.LanguageID, report.Backend, report.Status, finishedAt.Sub(startedAt))

		progress.DoneTests = len(report.Cases)
		progress.FinishedAt = report.FinishedAt
		final := report
		progress.Report = &final
		o.reportStatus(cleanupCtx, progress, StateReported)
		logger.Info(ctx, "submission judged",
			zap.String("status", string(report.Status)),
			zap.String("backend", report.Backend),
			zap.Int("cases", len(report.Cases)),
			zap.Int("accepted", report.Summary.Accepted),
			zap.String("error", report.Error),
		)
	}()

	lang, err := o.langRepo.GetLanguageSpec(ctx, req.LanguageID)
	if err != nil {
		return failed(report, err)
	}
	report.Language = lang.ID
	progress.Language = lang.ID
	limits := req.Limits.
		Merge(o.cfg.DefaultLimits).
		Scale(lang.TimeMultiplier, lang.MemoryMultiplier).
		Clamp(o.cfg.MaxLimits)

	o.reportStatus(ctx, progress, StateCompiling)
	compileStart := o.now()
	var compile result.CompileResult
	prog, compile, err = o.backend.Compile(ctx, backend.CompileRequest{
		SubmissionID: req.SubmissionID,
		Language:     lang,
		Source:       req.SourceCode,
		Limits:       limits,
	})
	o.recorder.CompileFinished(lang.ID, err == nil && compile.OK, o.now().Sub(compileStart))
	if err != nil {
		return failed(report, err)
	}
	if !compile.OK {
		report.Status = result.StatusCompileError
		report.CompileOutput = capText(compile.Output, limits.OutputBytes)
		o.reportStatus(ctx, progress, StateCompileFailed)
		return report
	}
	report.CompileOutput = capText(compile.Output, limits.OutputBytes)

	o.reportStatus(ctx, progress, StateRunning)
	for i, tc := range req.Tests {
		if err := ctx.Err(); err != nil {
			return failed(report, appErr.Wrapf(err, appErr.JudgeCancelled, "judge cancelled"))
		}
		raw, err := o.backend.Run(ctx, prog, backend.RunRequest{
			CaseIndex: i,
			Input:     tc.Input,
			Limits:    limits,
		})
		if err != nil {
			return failed(report, err)
		}
		outcome := classifier.Outcome(i, raw, tc.ExpectedOutput)
		report.Cases = append(report.Cases, outcome)
		o.recorder.CaseFinished(lang.ID, outcome.Verdict, raw)
		logger.Debug(ctx, "case judged",
			zap.Int("case", i),
			zap.String("verdict", string(outcome.Verdict)),
			zap.Int64("time_ms", raw.TimeMs),
			zap.Int64("memory_kb", raw.MemoryKB),
		)
		progress.DoneTests = i + 1
		o.reportStatus(ctx, progress, StateRunning)
	}

	o.reportStatus(ctx, progress, StateJudging)
	report.Status = result.StatusJudged
	return report
}

func (o *Orchestrator) track(submissionID string, cancel context.CancelFunc) func() {
	o.mu.Lock()
	o.seq++
	token := o.seq
	if o.inflight[submissionID] == nil {
		o.inflight[submissionID] = make(map[uint64]context.CancelFunc)
	}
	o.inflight[submissionID][token] = cancel
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if entries, ok := o.inflight[submissionID]; ok {
			delete(entries, token)
			if len(entries) == 0 {
				delete(o.inflight, submissionID)
			}
		}
	}
}

func (o *Orchestrator) reportStatus(ctx context.Context, update StatusUpdate, state State) {
	if o.statusReporter == nil {
		return
	}
	update.State = state
	if err := o.statusReporter.ReportStatus(ctx, update); err != nil {
		logger.Warn(ctx, "report status failed", zap.String("state", string(state)), zap.Error(err))
	}
}

func failed(report result.SubmissionReport, err error) result.SubmissionReport {
	report.Status = result.StatusInternalError
	report.Error = err.Error()
	if appErr.Is(err, appErr.JudgeCancelled) {
		report.Error = appErr.JudgeCancelled.Message()
	}
	return report
}

func capText(s string, limit int64) string {
	if limit > 0 && int64(len(s)) > limit {
		return s[:limit]
	}
	return s
}
