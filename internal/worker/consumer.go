package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pitchlane/guidance-video-service/internal/worker/domain"
)

// dispatch reads queue deliveries, validates the job id and hands work to
// the pool. Malformed messages are NACKed without requeue so they cannot
// poison the queue.
func (w *Worker) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started", slog.String("worker_id", w.workerID))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - worker stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg domain.JobMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				w.logger.Error("Failed to parse job message",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				w.nack(delivery, false)
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				w.logger.Error("Invalid job_id in message - not a UUID",
					slog.String("job_id", msg.JobID),
					slog.Any("error", err),
				)
				w.nack(delivery, false)
				continue
			}

			select {
			case w.jobsChan <- jobDelivery{jobID: msg.JobID, delivery: delivery}:
				w.logger.Debug("Job dispatched to pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				// requeue so another worker picks it up after shutdown
				w.nack(delivery, true)
				w.logger.Info("Message dispatcher stopped while dispatching job")
				return
			case <-w.stopChan:
				w.nack(delivery, true)
				w.logger.Info("Message dispatcher stopped while dispatching job")
				return
			}
		}
	}
}

func (w *Worker) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.Any("error", err),
		)
	}
}
