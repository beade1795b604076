package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codesandbox/internal/common/cache"
	"codesandbox/internal/sandbox"
	appErr "codesandbox/pkg/errors"
)

const statusKeyPrefix = "sandbox:status:"

// StatusRepository keeps the latest status snapshot of each submission.
type StatusRepository struct {
	cache cache.KV
	TTL   time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.KV, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

// Get returns status by submission id.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (sandbox.StatusUpdate, error) {
	if submissionID == "" {
		return sandbox.StatusUpdate{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return sandbox.StatusUpdate{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return sandbox.StatusUpdate{}, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return sandbox.StatusUpdate{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission status not found")
	}
	var status sandbox.StatusUpdate
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return sandbox.StatusUpdate{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return status, nil
}

// Save persists status.
func (r *StatusRepository) Save(ctx context.Context, status sandbox.StatusUpdate) error {
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+status.SubmissionID, string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}

// Delete drops the stored status.
func (r *StatusRepository) Delete(ctx context.Context, submissionID string) error {
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if err := r.cache.Del(ctx, statusKeyPrefix+submissionID); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "delete status failed")
	}
	return nil
}
