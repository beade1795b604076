package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"

	"codesandbox/internal/common/storage"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
)

const defaultArchivePrefix = "reports"

// ReportArchive keeps final reports after the status snapshot expires.
type ReportArchive interface {
	Archive(ctx context.Context, report result.SubmissionReport) error
	Load(ctx context.Context, submissionID string) (result.SubmissionReport, error)
}

// ObjectReportArchive stores one JSON object per submission.
type ObjectReportArchive struct {
	store  storage.ObjectStorage
	bucket string
	prefix string
}

// NewObjectReportArchive creates an archive under bucket/prefix.
func NewObjectReportArchive(store storage.ObjectStorage, bucket, prefix string) *ObjectReportArchive {
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	return &ObjectReportArchive{store: store, bucket: bucket, prefix: prefix}
}

func (a *ObjectReportArchive) objectKey(submissionID string) string {
	return path.Join(a.prefix, url.PathEscape(submissionID)+".json")
}

// Archive uploads report, replacing an earlier copy.
func (a *ObjectReportArchive) Archive(ctx context.Context, report result.SubmissionReport) error {
	if a == nil || a.store == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("report archive is not configured")
	}
	if report.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	}
	key := a.objectKey(report.SubmissionID)
	if err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return appErr.Wrapf(err, appErr.ArchiveFailed, "archive report failed")
	}
	return nil
}

// Load reads an archived report.
func (a *ObjectReportArchive) Load(ctx context.Context, submissionID string) (result.SubmissionReport, error) {
	if a == nil || a.store == nil {
		return result.SubmissionReport{}, appErr.New(appErr.ServiceUnavailable).WithMessage("report archive is not configured")
	}
	if submissionID == "" {
		return result.SubmissionReport{}, appErr.ValidationError("submission_id", "required")
	}
	reader, err := a.store.GetObject(ctx, a.bucket, a.objectKey(submissionID))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return result.SubmissionReport{}, appErr.New(appErr.SubmissionNotFound).WithMessage("archived report not found")
		}
		return result.SubmissionReport{}, appErr.Wrapf(err, appErr.ArchiveFailed, "load archived report failed")
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return result.SubmissionReport{}, appErr.Wrapf(err, appErr.ArchiveFailed, "read archived report failed")
	}
	var report result.SubmissionReport
	if err := json.Unmarshal(data, &report); err != nil {
		return result.SubmissionReport{}, appErr.Wrapf(err, appErr.ArchiveFailed, "decode archived report failed")
	}
	return report, nil
}
