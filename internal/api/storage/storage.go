package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pitchlane/guidance-video-service/internal/api/domain"
	"github.com/pitchlane/guidance-video-service/internal/api/model"
	"github.com/pitchlane/guidance-video-service/shared/postgresql"
)

const videoJobColumns = `
	job_id, challenge_id, quest_id, raw_path, processed_path,
	timestamps, status, duration_seconds, file_size_bytes,
	error_message, worker_id, created_by, created_at, updated_at
`

type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

func (s *Storage) CreateJob(ctx context.Context, job *model.VideoJob) error {
	query := `
		INSERT INTO video_jobs (
			job_id, challenge_id, quest_id, raw_path,
			timestamps, status, created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.ChallengeID,
		job.QuestID,
		job.RawPath,
		job.Timestamps,
		job.Status,
		job.CreatedBy,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.VideoJob, error) {
	var job model.VideoJob
	query := `
		SELECT ` + videoJobColumns + `
		FROM video_jobs
		WHERE job_id = $1
	`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// GetCompletedByChallenge returns the latest completed job for a challenge.
// A later upload for the same challenge overwrites the artifact, so latest
// completed is the one the artifact actually belongs to.
func (s *Storage) GetCompletedByChallenge(ctx context.Context, challengeID string) (*model.VideoJob, error) {
	var job model.VideoJob
	query := `
		SELECT ` + videoJobColumns + `
		FROM video_jobs
		WHERE challenge_id = $1 AND status = $2
		ORDER BY updated_at DESC, job_id DESC
		LIMIT 1
	`

	err := s.db.GetContext(ctx, &job, query, challengeID, domain.JobStatusCompleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get challenge video: %w", err)
	}

	return &job, nil
}

// MarkEnqueueFailed records a terminal failure for a job whose message never
// made it onto the queue. No worker will ever touch such a job, so the API
// has to close it out itself.
func (s *Storage) MarkEnqueueFailed(ctx context.Context, jobID, errorMessage string) error {
	query := `
		UPDATE video_jobs
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE job_id = $1 AND status = $4
	`

	_, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusFailed, errorMessage, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return nil
}

type JobFilter struct {
	ChallengeID string
	Status      string
	PageSize    int
	Cursor      *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.VideoJob, error) {
	query := `
		SELECT ` + videoJobColumns + `
		FROM video_jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	// Filters
	if filter.ChallengeID != "" {
		query += fmt.Sprintf(" AND challenge_id = $%d", argIdx)
		args = append(args, filter.ChallengeID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.VideoJob
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
