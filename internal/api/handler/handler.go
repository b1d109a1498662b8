package handler

import (
	"context"
	"log/slog"

	"github.com/pitchlane/guidance-video-service/internal/api/model"
	"github.com/pitchlane/guidance-video-service/internal/api/storage"
	"github.com/pitchlane/guidance-video-service/internal/config"
)

// JobStore is the persistence surface the video handlers need
type JobStore interface {
	CreateJob(ctx context.Context, job *model.VideoJob) error
	GetJobByID(ctx context.Context, jobID string) (*model.VideoJob, error)
	GetCompletedByChallenge(ctx context.Context, challengeID string) (*model.VideoJob, error)
	MarkEnqueueFailed(ctx context.Context, jobID, errorMessage string) error
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.VideoJob, error)
}

// Publisher enqueues a job message for the worker pool
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     JobStore
	Publisher Publisher
	Config    *config.Config
}

// VideoHandler handles guidance video HTTP requests
type VideoHandler struct {
	logger    *slog.Logger
	store     JobStore
	publisher Publisher
	cfg       *config.Config
}

// NewVideoHandler creates a new VideoHandler instance
func NewVideoHandler(deps *Dependencies) *VideoHandler {
	return &VideoHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		publisher: deps.Publisher,
		cfg:       deps.Config,
	}
}
