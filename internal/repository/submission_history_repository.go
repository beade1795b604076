package repository

import (
	"context"
	"time"

	"codesandbox/internal/common/db"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
)

const (
	historyTable        = "sandbox_submissions"
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	maxHistoryErrorLen  = 1024
)

// HistoryRecord is the persisted summary of one judged submission.
type HistoryRecord struct {
	SubmissionID    string    `json:"submission_id"`
	Language        string    `json:"language"`
	Backend         string    `json:"backend"`
	Status          string    `json:"status"`
	Total           int       `json:"total"`
	Accepted        int       `json:"accepted"`
	FirstFailedCase int       `json:"first_failed_case"`
	TotalTimeMs     int64     `json:"total_time_ms"`
	MaxMemoryKB     int64     `json:"max_memory_kb"`
	Error           string    `json:"error,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// NewHistoryRecord flattens a report into a history row.
func NewHistoryRecord(report result.SubmissionReport) HistoryRecord {
	errText := report.Error
	if len(errText) > maxHistoryErrorLen {
		errText = errText[:maxHistoryErrorLen]
	}
	return HistoryRecord{
		SubmissionID:    report.SubmissionID,
		Language:        report.Language,
		Backend:         report.Backend,
		Status:          string(report.Status),
		Total:           report.Summary.Total,
		Accepted:        report.Summary.Accepted,
		FirstFailedCase: report.Summary.FirstFailedCase,
		TotalTimeMs:     report.Summary.TotalTimeMs,
		MaxMemoryKB:     report.Summary.MaxMemoryKB,
		Error:           errText,
		ReceivedAt:      time.UnixMilli(report.ReceivedAt).UTC(),
		FinishedAt:      time.UnixMilli(report.FinishedAt).UTC(),
	}
}

// HistoryRepository stores submission summaries in SQL.
type HistoryRepository struct {
	db db.Database
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(database db.Database) *HistoryRepository {
	return &HistoryRepository{db: database}
}

// EnsureSchema creates the history table when missing.
func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	query := "CREATE TABLE IF NOT EXISTS " + historyTable + ` (
		submission_id VARCHAR(64) NOT NULL PRIMARY KEY,
		language VARCHAR(32) NOT NULL,
		backend VARCHAR(16) NOT NULL,
		status VARCHAR(32) NOT NULL,
		total INT NOT NULL,
		accepted INT NOT NULL,
		first_failed_case INT NOT NULL,
		total_time_ms BIGINT NOT NULL,
		max_memory_kb BIGINT NOT NULL,
		error TEXT NOT NULL,
		received_at DATETIME(3) NOT NULL,
		finished_at DATETIME(3) NOT NULL,
		KEY idx_finished_at (finished_at)
	)`
	if _, err := r.db.Exec(ctx, query); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "create history table failed")
	}
	return nil
}

// Save upserts the record for report.
func (r *HistoryRepository) Save(ctx context.Context, report result.SubmissionReport) error {
	if report.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	rec := NewHistoryRecord(report)
	query := "INSERT INTO " + historyTable + ` (submission_id, language, backend, status, total, accepted,
		first_failed_case, total_time_ms, max_memory_kb, error, received_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status), total = VALUES(total), accepted = VALUES(accepted),
		first_failed_case = VALUES(first_failed_case), total_time_ms = VALUES(total_time_ms),
		max_memory_kb = VALUES(max_memory_kb), error = VALUES(error), finished_at = VALUES(finished_at)`
	_, err := r.db.Exec(ctx, query,
		rec.SubmissionID, rec.Language, rec.Backend, rec.Status, rec.Total, rec.Accepted,
		rec.FirstFailedCase, rec.TotalTimeMs, rec.MaxMemoryKB, rec.Error, rec.ReceivedAt, rec.FinishedAt,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "save history failed")
	}
	return nil
}

const historyColumns = `submission_id, language, backend, status, total, accepted, first_failed_case,
	total_time_ms, max_memory_kb, error, received_at, finished_at`

// Get returns the record of one submission.
func (r *HistoryRepository) Get(ctx context.Context, submissionID string) (HistoryRecord, error) {
	if submissionID == "" {
		return HistoryRecord{}, appErr.ValidationError("submission_id", "required")
	}
	row := r.db.QueryRow(ctx, "SELECT "+historyColumns+" FROM "+historyTable+" WHERE submission_id = ?", submissionID)
	rec, err := scanHistory(row)
	if err != nil {
		if db.IsNoRows(err) {
			return HistoryRecord{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission history not found")
		}
		return HistoryRecord{}, appErr.Wrapf(err, appErr.DatabaseError, "load history failed")
	}
	return rec, nil
}

// ListRecent returns the latest records, newest first.
func (r *HistoryRepository) ListRecent(ctx context.Context, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	rows, err := r.db.Query(ctx, "SELECT "+historyColumns+" FROM "+historyTable+" ORDER BY finished_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list history failed")
	}
	defer rows.Close()

	records := make([]HistoryRecord, 0, limit)
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan history failed")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate history failed")
	}
	return records, nil
}

func scanHistory(row db.Row) (HistoryRecord, error) {
	var rec HistoryRecord
	err := row.Scan(
		&rec.SubmissionID, &rec.Language, &rec.Backend, &rec.Status, &rec.Total, &rec.Accepted,
		&rec.FirstFailedCase, &rec.TotalTimeMs, &rec.MaxMemoryKB, &rec.Error, &rec.ReceivedAt, &rec.FinishedAt,
	)
	return rec, err
}
