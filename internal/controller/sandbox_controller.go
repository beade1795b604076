package controller

import (
	"context"
	"strings"

	"codesandbox/internal/repository"
	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/result"
	"codesandbox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgeService is what the controller needs from the service layer.
type JudgeService interface {
	Judge(ctx context.Context, req sandbox.SubmissionRequest) (result.SubmissionReport, error)
	GetStatus(ctx context.Context, submissionID string) (sandbox.StatusUpdate, error)
	Cancel(ctx context.Context, submissionID string) error
	GetReport(ctx context.Context, submissionID string) (result.SubmissionReport, error)
	GetHistory(ctx context.Context, submissionID string) (repository.HistoryRecord, error)
	ListHistory(ctx context.Context, limit int) ([]repository.HistoryRecord, error)
}

// SandboxController handles sandbox HTTP endpoints.
type SandboxController struct {
	svc JudgeService
}

// NewSandboxController creates a new SandboxController.
func NewSandboxController(svc JudgeService) *SandboxController {
	return &SandboxController{svc: svc}
}

// RegisterRoutes mounts the sandbox API under r.
func (h *SandboxController) RegisterRoutes(r gin.IRouter) {
	group := r.Group("/api/v1/sandbox")
	group.POST("/judge", h.Judge)
	group.GET("/submissions/:id", h.GetStatus)
	group.DELETE("/submissions/:id", h.Cancel)
	group.GET("/submissions/:id/report", h.GetReport)
	group.GET("/submissions/:id/history", h.GetHistory)
	group.GET("/history", h.ListHistory)
}

// Judge runs a submission synchronously and returns its report.
func (h *SandboxController) Judge(c *gin.Context) {
	var req JudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	report, err := h.svc.Judge(c.Request.Context(), req.toSubmission())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// GetStatus returns the latest status snapshot for one submission.
func (h *SandboxController) GetStatus(c *gin.Context) {
	submissionID := strings.TrimSpace(c.Param("id"))
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.svc.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Cancel aborts an in-flight submission.
func (h *SandboxController) Cancel(c *gin.Context) {
	submissionID := strings.TrimSpace(c.Param("id"))
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, CancelResponse{SubmissionID: submissionID, Cancelled: true})
}

// GetReport returns the archived final report.
func (h *SandboxController) GetReport(c *gin.Context) {
	submissionID := strings.TrimSpace(c.Param("id"))
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	report, err := h.svc.GetReport(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

func (h *SandboxController) GetHistory(c *gin.Context) {
	submissionID := strings.TrimSpace(c.Param("id"))
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	record, err := h.svc.GetHistory(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, record)
}

// ListHistory returns the most recent submission summaries.
func (h *SandboxController) ListHistory(c *gin.Context) {
	var query HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	records, err := h.svc.ListHistory(c.Request.Context(), query.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, HistoryListResponse{Items: records})
}
