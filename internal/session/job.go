package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a chat turn queued for the worker.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	OwnerID   uint64 `gorm:"not null;index:uniq_ui_job_idempo,unique,priority:1" json:"-"`
	SessionID string `gorm:"size:26;index;not null" json:"session_id"`

	Prompt string `gorm:"type:text;not null" json:"-"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_ui_job_idempo,unique,priority:2" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "ui_chat_jobs" }

// JobStore persists queued chat turns.
type JobStore interface {
	CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	MarkJobRunning(ctx context.Context, id string) error
	MarkJobSucceeded(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id string, errMsg string) error
}

var ErrJobNotFound = errors.New("job not found")

func (r *Repo) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *Repo) MarkJobRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}

func (r *Repo) getJobByOwnerAndIdempotencyKey(ctx context.Context, ownerID uint64, key string) (*Job, error) {
	var job Job
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND idempotency_key = ?", ownerID, key).
		First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting creates job, unless (owner_id, idempotency_key) already exists, in
// which case the existing job is returned with created=false.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey != nil && *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}
	if job.IdempotencyKey == nil {
		return nil, false, err
	}

	existing, getErr := r.getJobByOwnerAndIdempotencyKey(ctx, job.OwnerID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
