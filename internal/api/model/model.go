package model

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/pitchlane/guidance-video-service/internal/api/domain"
)

// VideoJob is the durable record tracking one upload's transcode lifecycle.
// The terminal-only fields are nullable: processed_path, duration and size
// exist only on completed jobs, error_message only on failed ones.
type VideoJob struct {
	JobID           string          `db:"job_id"`
	ChallengeID     string          `db:"challenge_id"`
	QuestID         string          `db:"quest_id"`
	RawPath         string          `db:"raw_path"`
	ProcessedPath   sql.NullString  `db:"processed_path"`
	Timestamps      types.JSONText  `db:"timestamps"`
	Status          domain.Status   `db:"status"`
	DurationSeconds sql.NullFloat64 `db:"duration_seconds"`
	FileSizeBytes   sql.NullInt64   `db:"file_size_bytes"`
	ErrorMessage    sql.NullString  `db:"error_message"`
	WorkerID        sql.NullString  `db:"worker_id"`
	CreatedBy       sql.NullString  `db:"created_by"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}
