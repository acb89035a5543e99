package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Publisher hands a job id to the worker queue.
type Publisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// JobRunner queues chat turns and runs them on the worker side.
type JobRunner struct {
	jobs      JobStore
	svc       *Service
	publisher Publisher
	log       *slog.Logger
}

func NewJobRunner(jobs JobStore, svc *Service, publisher Publisher) *JobRunner {
	return &JobRunner{jobs: jobs, svc: svc, publisher: publisher, log: slog.Default().With("component", "jobs")}
}

// Submit records a queued turn for the session and publishes it. With an idempotency key that
// was seen before, the existing job is returned and nothing is published.
func (r *JobRunner) Submit(ctx context.Context, ownerID uint64, sessionID, prompt, idempotencyKey string) (*Job, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is empty", ErrInvalidInput)
	}
	if len(idempotencyKey) > 128 {
		return nil, fmt.Errorf("%w: idempotency key too long", ErrInvalidInput)
	}
	if _, err := r.svc.store.Get(ctx, ownerID, sessionID); err != nil {
		return nil, storeErr("get", err)
	}

	jobID, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	j := &Job{
		ID:        jobID,
		OwnerID:   ownerID,
		SessionID: sessionID,
		Prompt:    prompt,
		Status:    JobQueued,
	}
	if idempotencyKey != "" {
		j.IdempotencyKey = &idempotencyKey
	}

	job, created, err := r.jobs.CreateJobOrGetExisting(ctx, j)
	if err != nil {
		return nil, storeErr("create job", err)
	}
	if !created {
		return job, nil
	}
	if err := r.publisher.PublishJob(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}

// Get returns the job if it belongs to ownerID.
func (r *JobRunner) Get(ctx context.Context, ownerID uint64, jobID string) (*Job, error) {
	j, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != ownerID {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// Run executes a queued turn. Jobs that already finished are skipped so a redelivered message
// does not run the turn twice.
func (r *JobRunner) Run(ctx context.Context, jobID string) error {
	start := time.Now()
	if err := r.jobs.MarkJobRunning(ctx, jobID); err != nil {
		return err
	}
	j, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status == JobSucceeded || j.Status == JobFailed {
		r.log.Info("job already finished, skipping", "job_id", jobID, "status", j.Status)
		return nil
	}

	_, err = r.svc.Chat(ctx, j.OwnerID, j.SessionID, j.Prompt)
	if err != nil {
		if markErr := r.jobs.MarkJobFailed(ctx, jobID, err.Error()); markErr != nil {
			return errors.Join(err, markErr)
		}
		r.log.Warn("job failed", "job_id", jobID, "cost", time.Since(start), "error", err)
		return err
	}
	if err := r.jobs.MarkJobSucceeded(ctx, jobID); err != nil {
		return err
	}
	if cost := time.Since(start); cost > 2*time.Second {
		r.log.Info("job_timing", "job_id", jobID, "total", cost)
	}
	return nil
}
