package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/pitchlane/guidance-video-service/internal/worker/domain"
	"github.com/pitchlane/guidance-video-service/shared/postgresql"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// ClaimJob marks a processing job as owned by this worker. A job is created
// already processing, so claiming only sets ownership; the guard on
// worker_id keeps redelivered queue messages from running the pipeline twice.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE video_jobs
		SET worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status = $3
		  AND worker_id IS NULL
		RETURNING job_id, challenge_id, quest_id, raw_path
	`

	var job domain.Job
	err := s.db.QueryRowContext(ctx, query, jobID, workerID, domain.StatusProcessing).Scan(
		&job.JobID,
		&job.ChallengeID,
		&job.QuestID,
		&job.RawPath,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed, terminal or unknown",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.StatusProcessing
	job.WorkerID = workerID

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("challenge_id", job.ChallengeID),
	)

	return &job, nil
}

// MarkCompleted performs the terminal success transition, recording the
// artifact path and probed metadata. The status guard makes the transition
// happen at most once.
func (s *Storage) MarkCompleted(ctx context.Context, jobID, processedPath string, durationSeconds float64, fileSizeBytes int64) error {
	query := `
		UPDATE video_jobs
		SET status = $2,
		    processed_path = $3,
		    duration_seconds = $4,
		    file_size_bytes = $5,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $6
	`

	return s.terminalUpdate(ctx, jobID, domain.StatusCompleted, query,
		jobID, domain.StatusCompleted, processedPath, durationSeconds, fileSizeBytes, domain.StatusProcessing)
}

// MarkFailed performs the terminal failure transition with a human-readable
// message for callers polling the job
func (s *Storage) MarkFailed(ctx context.Context, jobID, errorMessage string) error {
	if errorMessage == "" {
		errorMessage = "transcode failed"
	}

	query := `
		UPDATE video_jobs
		SET status = $2,
		    error_message = $3,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $4
	`

	return s.terminalUpdate(ctx, jobID, domain.StatusFailed, query,
		jobID, domain.StatusFailed, errorMessage, domain.StatusProcessing)
}

func (s *Storage) terminalUpdate(ctx context.Context, jobID string, status domain.Status, query string, args ...interface{}) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q is not terminal", domain.ErrInvalidStatus, status)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		// another writer already finished this job
		s.logger.Warn("Terminal update affected no rows",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
		)
		return nil
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)

	return nil
}

// UpdateHeartbeat refreshes last_heartbeat_at for a job still being processed
func (s *Storage) UpdateHeartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE video_jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		s.logger.Warn("Heartbeat update - job no longer processing",
			slog.String("job_id", jobID),
		)
	}

	return nil
}
