package dto

// CreateVideoResponse acknowledges an accepted upload. The pipeline runs
// asynchronously; callers poll the job endpoint for the outcome.
type CreateVideoResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// VideoJobDTO is the job view returned by the job and list endpoints.
// URL, duration and error_message appear only in the matching terminal state.
type VideoJobDTO struct {
	ID           string   `json:"id"`
	ChallengeID  string   `json:"challenge_id"`
	QuestID      string   `json:"quest_id"`
	Status       string   `json:"status"`
	URL          string   `json:"url,omitempty"`
	Duration     *float64 `json:"duration,omitempty"`
	Timestamps   []int64  `json:"timestamps"`
	ErrorMessage string   `json:"error_message,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// ChallengeVideoDTO is the player-facing view of a challenge's completed clip
type ChallengeVideoDTO struct {
	URL        string  `json:"url"`
	Duration   float64 `json:"duration"`
	Timestamps []int64 `json:"timestamps"`
}

// ListVideosRequest holds the query parameters of the list endpoint
type ListVideosRequest struct {
	ChallengeID string `form:"challenge_id"`
	Status      string `form:"status"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

// ListVideosResponse is a cursor-paginated page of jobs
type ListVideosResponse struct {
	Videos     []VideoJobDTO `json:"videos"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
