package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pitchlane/guidance-video-service/internal/worker/pipeline"
	"github.com/pitchlane/guidance-video-service/internal/worker/storage"
	"github.com/pitchlane/guidance-video-service/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Storage           *storage.Storage
	RabbitClient      *rabbitmq.Client
	Pipeline          *pipeline.Pipeline
	Workspaces        *pipeline.WorkspaceManager
	WorkerID          string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	ReaperEnabled     bool
	ReaperInterval    time.Duration
	ReaperMaxAge      time.Duration
}

// jobDelivery pairs a parsed job id with its queue delivery so the pool
// goroutine that ran the job can acknowledge it
type jobDelivery struct {
	jobID    string
	delivery amqp.Delivery
}

// Worker consumes job messages and runs the transcode pipeline with a
// bounded number of concurrent slots
type Worker struct {
	logger            *slog.Logger
	storage           *storage.Storage
	rabbitClient      *rabbitmq.Client
	pipeline          *pipeline.Pipeline
	workspaces        *pipeline.WorkspaceManager
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	reaperEnabled     bool
	reaperInterval    time.Duration
	reaperMaxAge      time.Duration

	jobsChan chan jobDelivery
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:            cfg.Logger,
		storage:           cfg.Storage,
		rabbitClient:      cfg.RabbitClient,
		pipeline:          cfg.Pipeline,
		workspaces:        cfg.Workspaces,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		prefetchCount:     cfg.PrefetchCount,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		reaperEnabled:     cfg.ReaperEnabled,
		reaperInterval:    cfg.ReaperInterval,
		reaperMaxAge:      cfg.ReaperMaxAge,
		jobsChan:          make(chan jobDelivery),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes the queue and processes jobs until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.rabbitClient.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	if w.reaperEnabled {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.workspaces.RunReaper(ctx, w.reaperInterval, w.reaperMaxAge)
		}()
	}

	w.spawnPool(ctx)

	// dispatcher blocks until shutdown or the delivery channel closes
	w.dispatch(ctx, deliveries)

	return nil
}

// Stop signals the pool to drain and waits for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker", slog.String("worker_id", w.workerID))
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
}
