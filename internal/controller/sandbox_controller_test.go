package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"codesandbox/internal/common/http/middleware"
	"codesandbox/internal/repository"
	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeService struct {
	lastReq   sandbox.SubmissionRequest
	judgeErr  error
	statuses  map[string]sandbox.StatusUpdate
	cancelled []string
	lastLimit int
}

func (f *fakeService) Judge(_ context.Context, req sandbox.SubmissionRequest) (result.SubmissionReport, error) {
	f.lastReq = req
	if f.judgeErr != nil {
		return result.SubmissionReport{}, f.judgeErr
	}
	return result.SubmissionReport{SubmissionID: "sub-1", Status: result.StatusJudged, Cases: []result.CaseOutcome{{Index: 0, Verdict: result.VerdictAccepted}}}, nil
}

func (f *fakeService) GetStatus(_ context.Context, submissionID string) (sandbox.StatusUpdate, error) {
	status, ok := f.statuses[submissionID]
	if !ok {
		return sandbox.StatusUpdate{}, appErr.New(appErr.SubmissionNotFound)
	}
	return status, nil
}

func (f *fakeService) Cancel(_ context.Context, submissionID string) error {
	if submissionID != "running" {
		return appErr.New(appErr.SubmissionNotFound)
	}
	f.cancelled = append(f.cancelled, submissionID)
	return nil
}

func (f *fakeService) GetReport(_ context.Context, submissionID string) (result.SubmissionReport, error) {
	if submissionID != "sub-1" {
		return result.SubmissionReport{}, appErr.New(appErr.SubmissionNotFound)
	}
	return result.SubmissionReport{SubmissionID: "sub-1", Status: result.StatusCompileError}, nil
}

func (f *fakeService) GetHistory(_ context.Context, submissionID string) (repository.HistoryRecord, error) {
	if submissionID != "sub-1" {
		return repository.HistoryRecord{}, appErr.New(appErr.ServiceUnavailable)
	}
	return repository.HistoryRecord{SubmissionID: "sub-1", Status: "Judged", Total: 2}, nil
}

func (f *fakeService) ListHistory(_ context.Context, limit int) ([]repository.HistoryRecord, error) {
	f.lastLimit = limit
	return []repository.HistoryRecord{{SubmissionID: "sub-1"}}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

func newTestRouter(svc JudgeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.TraceContext())
	NewSandboxController(svc).RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func TestJudgeEndpoint(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	body := `{"language_id":"python","source_code":"print(1)","tests":[{"input":"","expected_output":"1"}],"limits":{"time_limit_ms":500}}`
	w, env := doRequest(t, r, http.MethodPost, "/api/v1/sandbox/judge", body)
	if w.Code != http.StatusOK || env.Code != int(appErr.Success) {
		t.Fatalf("unexpected response %d %+v", w.Code, env)
	}
	if env.TraceID == "" || w.Header().Get("X-Trace-Id") != env.TraceID {
		t.Fatalf("expected trace id in body and header")
	}
	var report result.SubmissionReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != result.StatusJudged || len(report.Cases) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	got := svc.lastReq
	if got.LanguageID != "python" || got.Limits.TimeLimitMs != 500 || len(got.Tests) != 1 || *got.Tests[0].ExpectedOutput != "1" {
		t.Fatalf("unexpected request mapping: %+v", got)
	}
}

func TestJudgeEndpointErrors(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		judgeErr error
		status   int
	}{
		{"malformed json", `{"language_id":`, nil, http.StatusBadRequest},
		{"missing source", `{"language_id":"python"}`, nil, http.StatusBadRequest},
		{"negative limit", `{"language_id":"python","source_code":"x","limits":{"memory_mb":-1}}`, nil, http.StatusBadRequest},
		{"unsupported language", `{"language_id":"cobol","source_code":"x"}`, appErr.New(appErr.LanguageNotSupported), http.StatusBadRequest},
		{"pool full", `{"language_id":"python","source_code":"x"}`, appErr.New(appErr.JudgeQueueFull), http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&fakeService{judgeErr: tc.judgeErr})
			w, env := doRequest(t, r, http.MethodPost, "/api/v1/sandbox/judge", tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected status %d, got %d (%+v)", tc.status, w.Code, env)
			}
		})
	}
}

func TestStatusAndCancelEndpoints(t *testing.T) {
	svc := &fakeService{statuses: map[string]sandbox.StatusUpdate{
		"sub-1": {SubmissionID: "sub-1", State: sandbox.StateRunning, TotalTests: 2, DoneTests: 1},
	}}
	r := newTestRouter(svc)

	w, env := doRequest(t, r, http.MethodGet, "/api/v1/sandbox/submissions/sub-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	var status sandbox.StatusUpdate
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != sandbox.StateRunning || status.DoneTests != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}

	if w, _ := doRequest(t, r, http.MethodGet, "/api/v1/sandbox/submissions/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w, _ := doRequest(t, r, http.MethodDelete, "/api/v1/sandbox/submissions/running", ""); w.Code != http.StatusOK {
		t.Fatalf("expected cancel to succeed, got %d", w.Code)
	}
	if len(svc.cancelled) != 1 {
		t.Fatalf("expected one cancel, got %v", svc.cancelled)
	}
	if w, _ := doRequest(t, r, http.MethodDelete, "/api/v1/sandbox/submissions/idle", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for idle submission, got %d", w.Code)
	}
}

func TestReportAndHistoryEndpoints(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	w, env := doRequest(t, r, http.MethodGet, "/api/v1/sandbox/submissions/sub-1/report", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	var report result.SubmissionReport
	if err := json.Unmarshal(env.Data, &report); err != nil || report.Status != result.StatusCompileError {
		t.Fatalf("unexpected report %+v %v", report, err)
	}
	if w, _ := doRequest(t, r, http.MethodGet, "/api/v1/sandbox/submissions/other/report", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w, env = doRequest(t, r, http.MethodGet, "/api/v1/sandbox/submissions/sub-1/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	var rec repository.HistoryRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil || rec.Total != 2 {
		t.Fatalf("unexpected record %+v %v", rec, err)
	}
	if w, _ := doRequest(t, r, http.MethodGet, "/api/v1/sandbox/submissions/other/history", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without history store, got %d", w.Code)
	}

	w, env = doRequest(t, r, http.MethodGet, "/api/v1/sandbox/history?limit=5", "")
	if w.Code != http.StatusOK || svc.lastLimit != 5 {
		t.Fatalf("unexpected list call: %d limit=%d", w.Code, svc.lastLimit)
	}
	var list HistoryListResponse
	if err := json.Unmarshal(env.Data, &list); err != nil || len(list.Items) != 1 {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	if w, _ := doRequest(t, r, http.MethodGet, "/api/v1/sandbox/history?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", w.Code)
	}
}
