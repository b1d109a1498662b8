// Package domain holds the job vocabulary shared by the API and worker
// services.
package domain

// Status is the lifecycle state of a video job. A job is created already
// Processing (intake and pipeline start are coupled) and is moved exactly
// once to one of the two terminal states. Both services persist this same
// closed set.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
