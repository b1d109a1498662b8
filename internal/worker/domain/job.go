package domain

import (
	jobdomain "github.com/pitchlane/guidance-video-service/internal/domain"
)

// Status is the shared job lifecycle state, re-exported so worker code keeps
// a single import for its domain vocabulary.
type Status = jobdomain.Status

const (
	StatusProcessing = jobdomain.StatusProcessing
	StatusCompleted  = jobdomain.StatusCompleted
	StatusFailed     = jobdomain.StatusFailed
)

// Job is the worker's view of a video job row.
type Job struct {
	JobID       string
	ChallengeID string
	QuestID     string
	RawPath     string
	Status      Status
	WorkerID    string
}

// JobMessage is the queue payload handed from intake to the worker pool.
type JobMessage struct {
	JobID string `json:"job_id"`
}
