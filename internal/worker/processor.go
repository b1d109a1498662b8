package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pitchlane/guidance-video-service/internal/worker/domain"
)

// terminalUpdateTimeout bounds the status write that happens after the job
// context may already be dead
const terminalUpdateTimeout = 10 * time.Second

// processJob claims a job, runs the pipeline under the job timeout and
// records the terminal outcome. A nil return means a terminal state was
// written and the delivery can be ACKed; pipeline failures are terminal
// too and are recorded on the job rather than returned.
func (w *Worker) processJob(ctx context.Context, jobID string) error {
	job, err := w.storage.ClaimJob(ctx, jobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			return err
		}
		// storage errors before the claim may be transient
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.runHeartbeat(jobCtx, job.JobID, heartbeatDone)
	defer close(heartbeatDone)

	result, pipelineErr := w.pipeline.Process(jobCtx, job.JobID, job.RawPath, job.ChallengeID)

	// the job context may have expired with the pipeline; terminal writes
	// get their own deadline
	updateCtx, updateCancel := context.WithTimeout(context.WithoutCancel(ctx), terminalUpdateTimeout)
	defer updateCancel()

	if pipelineErr != nil {
		if err := w.storage.MarkFailed(updateCtx, job.JobID, pipelineErr.Error()); err != nil {
			w.logger.Error("Failed to record job failure",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			return domain.NewRetryableError(err)
		}

		w.logger.Info("Job failed",
			slog.String("job_id", job.JobID),
			slog.String("error_message", pipelineErr.Error()),
		)
		return nil
	}

	if err := w.storage.MarkCompleted(updateCtx, job.JobID, result.ProcessedPath, result.DurationSeconds, result.FileSizeBytes); err != nil {
		w.logger.Error("Failed to record job completion",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		// the artifact exists; consuming the message beats rerunning the pipeline
		return nil
	}

	w.logger.Info("Job completed",
		slog.String("job_id", job.JobID),
		slog.String("processed_path", result.ProcessedPath),
	)

	return nil
}

// runHeartbeat refreshes the job heartbeat until the job finishes
func (w *Worker) runHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.storage.UpdateHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
		}
	}
}
