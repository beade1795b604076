// Package service wraps the orchestrator with admission control, request
// validation, status persistence and report publishing.
package service

import (
	"context"
	"fmt"
	"time"

	"codesandbox/internal/repository"
	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/config"
	"codesandbox/internal/sandbox/observer"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultAcquireTimeout = 2 * time.Second
	defaultMaxSourceBytes = 256 * 1024
	defaultMaxTests       = 256
)

// Judger is the engine entry point.
type Judger interface {
	Judge(ctx context.Context, req sandbox.SubmissionRequest) result.SubmissionReport
	Cancel(submissionID string) bool
}

// StatusStore persists status snapshots.
type StatusStore interface {
	Save(ctx context.Context, status sandbox.StatusUpdate) error
	Get(ctx context.Context, submissionID string) (sandbox.StatusUpdate, error)
}

// HistoryStore persists report summaries.
type HistoryStore interface {
	Save(ctx context.Context, report result.SubmissionReport) error
	Get(ctx context.Context, submissionID string) (repository.HistoryRecord, error)
	ListRecent(ctx context.Context, limit int) ([]repository.HistoryRecord, error)
}

// Config holds service dependencies and settings.
type Config struct {
	Judger    Judger
	Languages config.LanguageSpecRepository
	// Everything below Languages is optional.
	StatusStore StatusStore
	Publisher   repository.ReportEventPublisher
	Archive     repository.ReportArchive
	History     HistoryStore
	Recorder    observer.Recorder

	WorkerPoolSize int
	AcquireTimeout time.Duration
	JudgeTimeout   time.Duration
	StatusTimeout  time.Duration
	PublishTimeout time.Duration
	MaxSourceBytes int
	MaxTests       int
}

// Service handles judge requests.
type Service struct {
	judger         Judger
	languages      config.LanguageSpecRepository
	statusStore    StatusStore
	publisher      repository.ReportEventPublisher
	archive        repository.ReportArchive
	history        HistoryStore
	recorder       observer.Recorder
	acquireTimeout time.Duration
	judgeTimeout   time.Duration
	statusTimeout  time.Duration
	publishTimeout time.Duration
	maxSourceBytes int
	maxTests       int
	sem            chan struct{}
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Judger == nil {
		return nil, fmt.Errorf("judger is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language repository is required")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.MaxTests <= 0 {
		cfg.MaxTests = defaultMaxTests
	}
	if cfg.Recorder == nil {
		cfg.Recorder = observer.Noop{}
	}
	return &Service{
		judger:         cfg.Judger,
		languages:      cfg.Languages,
		statusStore:    cfg.StatusStore,
		publisher:      cfg.Publisher,
		archive:        cfg.Archive,
		history:        cfg.History,
		recorder:       cfg.Recorder,
		acquireTimeout: cfg.AcquireTimeout,
		judgeTimeout:   cfg.JudgeTimeout,
		statusTimeout:  cfg.StatusTimeout,
		publishTimeout: cfg.PublishTimeout,
		maxSourceBytes: cfg.MaxSourceBytes,
		maxTests:       cfg.MaxTests,
		sem:            make(chan struct{}, poolSize),
	}, nil
}

// Judge validates the request, waits for a worker slot and judges it.
// Only invalid requests and a saturated pool are returned as errors;
// every judged submission yields a report.
func (s *Service) Judge(ctx context.Context, req sandbox.SubmissionRequest) (result.SubmissionReport, error) {
	if err := s.validate(ctx, req); err != nil {
		return result.SubmissionReport{}, err
	}
	if req.SubmissionID == "" {
		req.SubmissionID = uuid.NewString()
	}
	ctx = logger.WithSubmission(ctx, req.SubmissionID)

	if err := s.acquireSlot(ctx); err != nil {
		return result.SubmissionReport{}, err
	}
	defer s.releaseSlot()

	judgeCtx := ctx
	if s.judgeTimeout > 0 {
		var cancel context.CancelFunc
		judgeCtx, cancel = context.WithTimeout(ctx, s.judgeTimeout)
		defer cancel()
	}
	report := s.judger.Judge(judgeCtx, req)
	s.deliverReport(ctx, report)
	return report, nil
}

// ReportStatus persists intermediate status updates.
func (s *Service) ReportStatus(ctx context.Context, update sandbox.StatusUpdate) error {
	if s.statusStore == nil {
		return nil
	}
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	if err := s.statusStore.Save(ctxStatus, update); err != nil {
		logger.Warn(ctx, "update intermediate status failed", zap.String("state", string(update.State)), zap.Error(err))
		return err
	}
	return nil
}

// GetStatus returns the latest status snapshot of a submission.
func (s *Service) GetStatus(ctx context.Context, submissionID string) (sandbox.StatusUpdate, error) {
	if s.statusStore == nil {
		return sandbox.StatusUpdate{}, appErr.New(appErr.ServiceUnavailable).WithMessage("status store is not configured")
	}
	return s.statusStore.Get(ctx, submissionID)
}

// Cancel aborts an in-flight submission.
func (s *Service) Cancel(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !s.judger.Cancel(submissionID) {
		return appErr.New(appErr.SubmissionNotFound).WithMessage("submission is not running")
	}
	logger.Info(ctx, "submission cancelled", zap.String("submission_id", submissionID))
	return nil
}

// GetReport returns the archived final report of a submission.
func (s *Service) GetReport(ctx context.Context, submissionID string) (result.SubmissionReport, error) {
	if s.archive == nil {
		return result.SubmissionReport{}, appErr.New(appErr.ServiceUnavailable).WithMessage("report archive is not configured")
	}
	return s.archive.Load(ctx, submissionID)
}

// GetHistory returns the stored summary of a submission.
func (s *Service) GetHistory(ctx context.Context, submissionID string) (repository.HistoryRecord, error) {
	if s.history == nil {
		return repository.HistoryRecord{}, appErr.New(appErr.ServiceUnavailable).WithMessage("history store is not configured")
	}
	return s.history.Get(ctx, submissionID)
}

// ListHistory returns the most recent submission summaries.
func (s *Service) ListHistory(ctx context.Context, limit int) ([]repository.HistoryRecord, error) {
	if s.history == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("history store is not configured")
	}
	return s.history.ListRecent(ctx, limit)
}

func (s *Service) validate(ctx context.Context, req sandbox.SubmissionRequest) error {
	if req.LanguageID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if req.SourceCode == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if len(req.SourceCode) > s.maxSourceBytes {
		return appErr.Newf(appErr.CodeTooLarge, "source code exceeds %d bytes", s.maxSourceBytes)
	}
	if len(req.Tests) > s.maxTests {
		return appErr.ValidationError("tests", fmt.Sprintf("at most %d test cases", s.maxTests))
	}
	l := req.Limits
	if l.TimeLimitMs < 0 || l.MemoryMB < 0 || l.OutputBytes < 0 || l.PIDs < 0 {
		return appErr.ValidationError("limits", "must not be negative")
	}
	if _, err := s.languages.GetLanguageSpec(ctx, req.LanguageID); err != nil {
		return err
	}
	return nil
}

func (s *Service) acquireSlot(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return appErr.Wrapf(ctx.Err(), appErr.Timeout, "wait for worker slot cancelled")
	case <-time.After(s.acquireTimeout):
		s.recorder.SlotRejected()
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

// deliverReport hands the final report to every configured sink.
// Sink failures are logged and never change the report.
func (s *Service) deliverReport(ctx context.Context, report result.SubmissionReport) {
	if s.publisher == nil && s.archive == nil && s.history == nil {
		return
	}
	// Delivery outlives the caller.
	pubCtx := context.WithoutCancel(ctx)
	if s.publishTimeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(pubCtx, s.publishTimeout)
		defer cancel()
	}
	if s.archive != nil {
		if err := s.archive.Archive(pubCtx, report); err != nil {
			logger.Warn(ctx, "archive final report failed", zap.Error(err))
		}
	}
	if s.history != nil {
		if err := s.history.Save(pubCtx, report); err != nil {
			logger.Warn(ctx, "save submission history failed", zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishFinalReport(pubCtx, report); err != nil {
			logger.Warn(ctx, "publish final report failed", zap.Error(err))
		}
	}
}
