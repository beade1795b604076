package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codesandbox/internal/common/mq"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
)

// ReportEventFinal marks the terminal report of a submission.
const ReportEventFinal = "final"

// ReportEvent is the payload published for downstream consumers.
type ReportEvent struct {
	Type      string                  `json:"type"`
	Report    result.SubmissionReport `json:"report"`
	CreatedAt int64                   `json:"created_at"`
}

// ReportEventPublisher publishes final reports for async processing.
type ReportEventPublisher interface {
	PublishFinalReport(ctx context.Context, report result.SubmissionReport) error
}

// MQReportEventPublisher publishes report events to a message queue.
type MQReportEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQReportEventPublisher creates a new MQ report event publisher.
func NewMQReportEventPublisher(producer mq.Producer, topic string) *MQReportEventPublisher {
	return &MQReportEventPublisher{producer: producer, topic: topic}
}

// PublishFinalReport publishes a final report event keyed by submission id.
func (p *MQReportEventPublisher) PublishFinalReport(ctx context.Context, report result.SubmissionReport) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("report publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("report topic is required")
	}
	if report.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	payload, err := json.Marshal(ReportEvent{
		Type:      ReportEventFinal,
		Report:    report,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal report event failed: %w", err)
	}
	message := mq.NewMessage(report.SubmissionID, payload)
	message.SetHeader("status", string(report.Status))
	message.SetHeader("backend", report.Backend)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.EventPublishFailed, "publish report event failed")
	}
	return nil
}
