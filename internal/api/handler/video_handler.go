package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pitchlane/guidance-video-service/internal/api/domain"
	"github.com/pitchlane/guidance-video-service/internal/api/dto"
	"github.com/pitchlane/guidance-video-service/internal/api/model"
	"github.com/pitchlane/guidance-video-service/internal/api/storage"
)

// formOverheadBytes is slack on top of the upload ceiling for the
// multipart envelope and text fields
const formOverheadBytes = 1 << 20

// CreateVideo handles POST /guidance/videos
// Accepts a presenter recording, stores it and enqueues the transcode job.
// All validation happens before the job row exists, so a rejected upload
// leaves no trace.
func (h *VideoHandler) CreateVideo(c *gin.Context) {
	h.logger.Info("CreateVideo called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	maxBytes := h.cfg.Intake.MaxUploadBytes()

	if c.Request.ContentLength > maxBytes+formOverheadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "upload exceeds size limit",
		})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+formOverheadBytes)

	// parse eagerly so a body that blows through the reader limit mid-parse
	// surfaces as an oversize rejection rather than a missing-field error
	if err := c.Request.ParseMultipartForm(formOverheadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "upload exceeds size limit",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "request must be multipart/form-data",
		})
		return
	}

	challengeID := strings.TrimSpace(c.PostForm("challenge_id"))
	if challengeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "challenge_id is required",
		})
		return
	}

	questID := strings.TrimSpace(c.PostForm("quest_id"))
	if questID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "quest_id is required",
		})
		return
	}

	timestamps, err := parseTimestamps(c.PostForm("timestamps"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "timestamps must be a JSON array of integers",
		})
		return
	}

	// duration is client-declared; the authoritative value comes from
	// probing the finished clip
	if declared := c.PostForm("duration"); declared != "" {
		seconds, err := strconv.ParseFloat(declared, 64)
		if err != nil || seconds <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "duration must be a positive number of seconds",
			})
			return
		}
		if seconds > float64(h.cfg.Intake.MaxSourceDuration) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "recording exceeds the maximum duration",
			})
			return
		}
	}

	fileHeader, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "video file is required",
		})
		return
	}

	if fileHeader.Size > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "upload exceeds size limit",
		})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !h.mimeAllowed(contentType) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error": "unsupported video type",
		})
		return
	}

	jobID := uuid.New().String()
	rawDir := h.cfg.Storage.RawDir()
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		h.logger.Error("Failed to create raw directory", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	rawPath := filepath.Join(rawDir, jobID+h.cfg.Storage.RawExtension)
	if err := c.SaveUploadedFile(fileHeader, rawPath); err != nil {
		h.logger.Error("Failed to save upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	now := time.Now()
	job := model.VideoJob{
		JobID:       jobID,
		ChallengeID: challengeID,
		QuestID:     questID,
		RawPath:     rawPath,
		Timestamps:  timestamps,
		Status:      domain.JobStatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if userID := c.GetHeader("X-User-ID"); userID != "" {
		job.CreatedBy.String = userID
		job.CreatedBy.Valid = true
	}

	if err := h.store.CreateJob(c.Request.Context(), &job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		h.removeRaw(rawPath)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	message, _ := json.Marshal(gin.H{"job_id": jobID})
	if err := h.publisher.Publish(c.Request.Context(), message, "application/json"); err != nil {
		h.logger.Error("Failed to enqueue job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)

		// no worker will ever see this job, close it out here
		if failErr := h.store.MarkEnqueueFailed(c.Request.Context(), jobID, "failed to enqueue job"); failErr != nil {
			h.logger.Error("Failed to mark job failed",
				slog.String("job_id", jobID),
				slog.String("error", failErr.Error()),
			)
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	h.logger.Info("Job accepted",
		slog.String("job_id", jobID),
		slog.String("challenge_id", challengeID),
	)

	c.JSON(http.StatusAccepted, dto.CreateVideoResponse{
		ID:      jobID,
		Status:  string(job.Status),
		Message: "video accepted for processing",
	})
}

// GetVideo handles GET /guidance/videos/:job_id
// Returns the current lifecycle state of one job
func (h *VideoHandler) GetVideo(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job id must be a valid UUID",
		})
		return
	}

	job, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, h.toDTO(job))
}

// GetChallengeVideo handles GET /guidance/challenges/:challenge_id/video
// Resolves the playable clip for a challenge; only a completed job counts
func (h *VideoHandler) GetChallengeVideo(c *gin.Context) {
	challengeID := c.Param("challenge_id")

	job, err := h.store.GetCompletedByChallenge(c.Request.Context(), challengeID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "no video available for this challenge",
			})
			return
		}
		h.logger.Error("Failed to get challenge video", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get challenge video",
		})
		return
	}

	c.JSON(http.StatusOK, dto.ChallengeVideoDTO{
		URL:        h.publicURL(job.ChallengeID),
		Duration:   job.DurationSeconds.Float64,
		Timestamps: decodeTimestamps(job.Timestamps),
	})
}

// ListVideos handles GET /guidance/videos
// Lists jobs with optional filtering and cursor pagination
func (h *VideoHandler) ListVideos(c *gin.Context) {
	var req dto.ListVideosRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		ChallengeID: req.ChallengeID,
		Status:      req.Status,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	videos := make([]dto.VideoJobDTO, len(jobs))
	for i := range jobs {
		videos[i] = h.toDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor, err = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListVideosResponse{
		Videos:     videos,
		NextCursor: nextCursor,
	})
}

// toDTO maps a job row to its API view. The URL is derived from the
// challenge, not stored, and appears only once the job completed.
func (h *VideoHandler) toDTO(job *model.VideoJob) dto.VideoJobDTO {
	out := dto.VideoJobDTO{
		ID:          job.JobID,
		ChallengeID: job.ChallengeID,
		QuestID:     job.QuestID,
		Status:      string(job.Status),
		Timestamps:  decodeTimestamps(job.Timestamps),
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		out.URL = h.publicURL(job.ChallengeID)
		if job.DurationSeconds.Valid {
			duration := job.DurationSeconds.Float64
			out.Duration = &duration
		}
	case domain.JobStatusFailed:
		out.ErrorMessage = job.ErrorMessage.String
	}

	return out
}

// publicURL builds the playback URL for a challenge's clip
func (h *VideoHandler) publicURL(challengeID string) string {
	base := strings.TrimRight(h.cfg.Storage.PublicBaseURL, "/")
	return base + "/" + challengeID + ".webm"
}

func (h *VideoHandler) mimeAllowed(contentType string) bool {
	for _, allowed := range h.cfg.Intake.AllowedMIMETypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func (h *VideoHandler) removeRaw(rawPath string) {
	if err := os.Remove(rawPath); err != nil {
		h.logger.Warn("Failed to remove raw upload",
			slog.String("path", rawPath),
			slog.String("error", err.Error()),
		)
	}
}

// parseTimestamps validates the optional chapter markers and returns them
// in canonical JSON for storage
func parseTimestamps(raw string) ([]byte, error) {
	if raw == "" {
		return []byte("[]"), nil
	}

	var values []int64
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}

	return json.Marshal(values)
}

// decodeTimestamps turns the stored JSON back into a slice, empty on any
// malformed value
func decodeTimestamps(raw []byte) []int64 {
	values := []int64{}
	if len(raw) == 0 {
		return values
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return []int64{}
	}
	return values
}
