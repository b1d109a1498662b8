package domain

import (
	"errors"

	jobdomain "github.com/pitchlane/guidance-video-service/internal/domain"
)

// Status is the shared job lifecycle state, re-exported so API code keeps a
// single import for its domain vocabulary.
type Status = jobdomain.Status

const (
	JobStatusProcessing = jobdomain.StatusProcessing
	JobStatusCompleted  = jobdomain.StatusCompleted
	JobStatusFailed     = jobdomain.StatusFailed
)

var (
	ErrJobNotFound = errors.New("job not found")
)
