package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"codesandbox/internal/repository"
	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/config"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
)

type fakeJudger struct {
	mu       sync.Mutex
	requests []sandbox.SubmissionRequest
	block    chan struct{}
	started  chan struct{}
	inflight map[string]bool
}

func (f *fakeJudger) Judge(ctx context.Context, req sandbox.SubmissionRequest) result.SubmissionReport {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return result.SubmissionReport{SubmissionID: req.SubmissionID, Status: result.StatusInternalError}
		}
	}
	return result.SubmissionReport{SubmissionID: req.SubmissionID, Status: result.StatusJudged}
}

func (f *fakeJudger) Cancel(submissionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight[submissionID]
}

type fakeStore struct {
	mu      sync.Mutex
	saved   []sandbox.StatusUpdate
	saveErr error
}

func (s *fakeStore) Save(_ context.Context, status sandbox.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, status)
	return nil
}

func (s *fakeStore) Get(_ context.Context, submissionID string) (sandbox.StatusUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.saved) - 1; i >= 0; i-- {
		if s.saved[i].SubmissionID == submissionID {
			return s.saved[i], nil
		}
	}
	return sandbox.StatusUpdate{}, appErr.New(appErr.SubmissionNotFound)
}

type fakePublisher struct {
	mu      sync.Mutex
	reports []result.SubmissionReport
	err     error
}

func (p *fakePublisher) PublishFinalReport(_ context.Context, report result.SubmissionReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
	return p.err
}

type fakeArchive struct {
	mu      sync.Mutex
	reports map[string]result.SubmissionReport
	err     error
}

func (a *fakeArchive) Archive(_ context.Context, report result.SubmissionReport) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	if a.reports == nil {
		a.reports = map[string]result.SubmissionReport{}
	}
	a.reports[report.SubmissionID] = report
	return nil
}

func (a *fakeArchive) Load(_ context.Context, submissionID string) (result.SubmissionReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	report, ok := a.reports[submissionID]
	if !ok {
		return result.SubmissionReport{}, appErr.New(appErr.SubmissionNotFound)
	}
	return report, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []repository.HistoryRecord
}

func (h *fakeHistory) Save(_ context.Context, report result.SubmissionReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, repository.NewHistoryRecord(report))
	return nil
}

func (h *fakeHistory) Get(_ context.Context, submissionID string) (repository.HistoryRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range h.records {
		if rec.SubmissionID == submissionID {
			return rec, nil
		}
	}
	return repository.HistoryRecord{}, appErr.New(appErr.SubmissionNotFound)
}

func (h *fakeHistory) ListRecent(_ context.Context, limit int) ([]repository.HistoryRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit > len(h.records) {
		limit = len(h.records)
	}
	return append([]repository.HistoryRecord(nil), h.records[:limit]...), nil
}

func newTestService(t *testing.T, judger Judger, cfg Config) *Service {
	t.Helper()
	cfg.Judger = judger
	cfg.Languages = config.NewLocalRepository(nil)
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func validRequest() sandbox.SubmissionRequest {
	return sandbox.SubmissionRequest{
		LanguageID: "python",
		SourceCode: "print(input())",
		Tests:      []sandbox.TestCase{{Input: "1"}},
	}
}

func TestJudgeValidation(t *testing.T) {
	svc := newTestService(t, &fakeJudger{}, Config{MaxSourceBytes: 16, MaxTests: 2})

	cases := []struct {
		name   string
		mutate func(*sandbox.SubmissionRequest)
		code   appErr.ErrorCode
	}{
		{"missing language", func(r *sandbox.SubmissionRequest) { r.LanguageID = "" }, appErr.ValidationFailed},
		{"missing source", func(r *sandbox.SubmissionRequest) { r.SourceCode = "" }, appErr.ValidationFailed},
		{"source too large", func(r *sandbox.SubmissionRequest) { r.SourceCode = strings.Repeat("x", 17) }, appErr.CodeTooLarge},
		{"too many tests", func(r *sandbox.SubmissionRequest) { r.Tests = make([]sandbox.TestCase, 3) }, appErr.ValidationFailed},
		{"negative limit", func(r *sandbox.SubmissionRequest) { r.Limits.TimeLimitMs = -1 }, appErr.ValidationFailed},
		{"unknown language", func(r *sandbox.SubmissionRequest) { r.LanguageID = "brainfuck" }, appErr.LanguageNotSupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			if _, err := svc.Judge(context.Background(), req); appErr.GetCode(err) != tc.code {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
		})
	}
}

func TestJudgePublishesReport(t *testing.T) {
	judger := &fakeJudger{}
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := newTestService(t, judger, Config{Publisher: pub, PublishTimeout: time.Second})

	report, err := svc.Judge(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if report.Status != result.StatusJudged || report.SubmissionID == "" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if judger.requests[0].SubmissionID != report.SubmissionID {
		t.Fatalf("submission id must be assigned before judging")
	}
	if len(pub.reports) != 1 || pub.reports[0].SubmissionID != report.SubmissionID {
		t.Fatalf("expected published report, got %+v", pub.reports)
	}
}

func TestJudgePoolFull(t *testing.T) {
	judger := &fakeJudger{block: make(chan struct{}), started: make(chan struct{}, 1)}
	svc := newTestService(t, judger, Config{WorkerPoolSize: 1, AcquireTimeout: 50 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Judge(context.Background(), validRequest())
		done <- err
	}()
	<-judger.started

	if _, err := svc.Judge(context.Background(), validRequest()); appErr.GetCode(err) != appErr.JudgeQueueFull {
		t.Fatalf("expected queue full, got %v", err)
	}
	close(judger.block)
	if err := <-done; err != nil {
		t.Fatalf("first judge: %v", err)
	}
	judger.started = nil
	if _, err := svc.Judge(context.Background(), validRequest()); err != nil {
		t.Fatalf("slot must be released, got %v", err)
	}
}

func TestJudgeTimeout(t *testing.T) {
	judger := &fakeJudger{block: make(chan struct{})}
	svc := newTestService(t, judger, Config{JudgeTimeout: 20 * time.Millisecond})

	report, err := svc.Judge(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if report.Status != result.StatusInternalError {
		t.Fatalf("expected internal error after timeout, got %+v", report)
	}
}

func TestStatusAndCancel(t *testing.T) {
	store := &fakeStore{}
	judger := &fakeJudger{inflight: map[string]bool{"running": true}}
	svc := newTestService(t, judger, Config{StatusStore: store, StatusTimeout: time.Second})
	ctx := context.Background()

	if err := svc.ReportStatus(ctx, sandbox.StatusUpdate{SubmissionID: "running", State: sandbox.StateRunning}); err != nil {
		t.Fatalf("report status: %v", err)
	}
	status, err := svc.GetStatus(ctx, "running")
	if err != nil || status.State != sandbox.StateRunning {
		t.Fatalf("unexpected status %+v %v", status, err)
	}

	if err := svc.Cancel(ctx, "running"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := svc.Cancel(ctx, "idle"); appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	store.saveErr = errors.New("redis down")
	if err := svc.ReportStatus(ctx, sandbox.StatusUpdate{SubmissionID: "x"}); err == nil {
		t.Fatalf("expected save error")
	}

	noStore := newTestService(t, judger, Config{})
	if _, err := noStore.GetStatus(ctx, "running"); appErr.GetCode(err) != appErr.ServiceUnavailable {
		t.Fatalf("expected service unavailable, got %v", err)
	}
	if err := noStore.ReportStatus(ctx, sandbox.StatusUpdate{SubmissionID: "x"}); err != nil {
		t.Fatalf("report without store must be a no-op, got %v", err)
	}
}

func TestJudgeDeliversToAllSinks(t *testing.T) {
	archive := &fakeArchive{}
	history := &fakeHistory{}
	pub := &fakePublisher{}
	svc := newTestService(t, &fakeJudger{}, Config{Archive: archive, History: history, Publisher: pub})
	ctx := context.Background()

	report, err := svc.Judge(ctx, validRequest())
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	archived, err := svc.GetReport(ctx, report.SubmissionID)
	if err != nil || archived.Status != result.StatusJudged {
		t.Fatalf("unexpected archived report %+v %v", archived, err)
	}
	rec, err := svc.GetHistory(ctx, report.SubmissionID)
	if err != nil || rec.Status != string(result.StatusJudged) {
		t.Fatalf("unexpected history %+v %v", rec, err)
	}
	records, err := svc.ListHistory(ctx, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("unexpected history list %+v %v", records, err)
	}
	if len(pub.reports) != 1 {
		t.Fatalf("expected published report")
	}
}

func TestJudgeSinkFailureKeepsReport(t *testing.T) {
	archive := &fakeArchive{err: errors.New("bucket gone")}
	history := &fakeHistory{}
	svc := newTestService(t, &fakeJudger{}, Config{Archive: archive, History: history})

	report, err := svc.Judge(context.Background(), validRequest())
	if err != nil || report.Status != result.StatusJudged {
		t.Fatalf("sink failure must not change the report: %+v %v", report, err)
	}
	if len(history.records) != 1 {
		t.Fatalf("remaining sinks must still run")
	}
}

func TestReportLookupsWithoutSinks(t *testing.T) {
	svc := newTestService(t, &fakeJudger{}, Config{})
	ctx := context.Background()
	if _, err := svc.GetReport(ctx, "x"); appErr.GetCode(err) != appErr.ServiceUnavailable {
		t.Fatalf("expected unavailable archive, got %v", err)
	}
	if _, err := svc.GetHistory(ctx, "x"); appErr.GetCode(err) != appErr.ServiceUnavailable {
		t.Fatalf("expected unavailable history, got %v", err)
	}
	if _, err := svc.ListHistory(ctx, 5); appErr.GetCode(err) != appErr.ServiceUnavailable {
		t.Fatalf("expected unavailable history, got %v", err)
	}
}
