package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pitchlane/guidance-video-service/internal/worker/domain"
)

// spawnPool starts the fixed set of transcode slots. The pool size is the
// only bound on concurrent external-tool invocations, so it must stay
// explicit rather than spawning a goroutine per upload.
func (w *Worker) spawnPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.poolLoop(ctx, i)
	}
}

// poolLoop is the processing loop of a single transcode slot
func (w *Worker) poolLoop(ctx context.Context, slot int) {
	defer w.wg.Done()

	slotName := fmt.Sprintf("%s-%d", w.workerID, slot)
	w.logger.Info("Pool goroutine started", slog.String("slot", slotName))

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Pool goroutine stopping", slog.String("slot", slotName))
			return

		case <-ctx.Done():
			w.logger.Info("Pool goroutine stopping - context canceled", slog.String("slot", slotName))
			return

		case jd := <-w.jobsChan:
			w.logger.Info("Slot received job",
				slog.String("slot", slotName),
				slog.String("job_id", jd.jobID),
			)

			err := w.processJob(ctx, jd.jobID)

			if err != nil {
				requeue := w.shouldRequeue(err)
				w.logger.Warn("Job not processed",
					slog.String("slot", slotName),
					slog.String("job_id", jd.jobID),
					slog.Bool("requeue", requeue),
					slog.Any("error", err),
				)
				w.nack(jd.delivery, requeue)
				continue
			}

			// terminal outcome recorded (completed or failed), consume the message
			if ackErr := jd.delivery.Ack(false); ackErr != nil {
				w.logger.Error("Failed to ACK message",
					slog.String("slot", slotName),
					slog.String("job_id", jd.jobID),
					slog.Any("error", ackErr),
				)
			}
		}
	}
}

// shouldRequeue decides whether a delivery goes back on the queue. Only
// transient pre-claim failures are retryable; a job that reached the
// pipeline always lands in a terminal state instead.
func (w *Worker) shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrJobAlreadyClaimed) {
		return false
	}

	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}
