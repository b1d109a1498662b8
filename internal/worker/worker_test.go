package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pitchlane/guidance-video-service/internal/worker/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAcknowledger records acknowledgement calls made against a delivery
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []nackCall
	rejects []uint64
}

type nackCall struct {
	tag     uint64
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, nackCall{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, tag)
	return nil
}

func (f *fakeAcknowledger) nackCalls() []nackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nackCall(nil), f.nacks...)
}

func newTestWorker() *Worker {
	return NewWorker(&Config{
		Logger:      discardLogger(),
		WorkerID:    "test-worker",
		Concurrency: 1,
		JobTimeout:  time.Minute,
	})
}

func delivery(ack *fakeAcknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Body:         []byte(body),
	}
}

func TestDispatch_MalformedMessagesAreDropped(t *testing.T) {
	w := newTestWorker()
	ack := &fakeAcknowledger{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries := make(chan amqp.Delivery, 3)
	deliveries <- delivery(ack, 1, `not json`)
	deliveries <- delivery(ack, 2, `{"job_id": "not-a-uuid"}`)
	deliveries <- delivery(ack, 3, `{"other": "field"}`)
	close(deliveries)

	done := make(chan struct{})
	go func() {
		w.dispatch(ctx, deliveries)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not drain the channel")
	}

	// every malformed message is NACKed without requeue
	nacks := ack.nackCalls()
	require.Len(t, nacks, 3)
	for _, call := range nacks {
		assert.False(t, call.requeue)
	}
	assert.Empty(t, ack.acks)
}

func TestDispatch_ValidMessageReachesPool(t *testing.T) {
	w := newTestWorker()
	ack := &fakeAcknowledger{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := "4f6b2c36-9d1e-4f6a-9a51-20b0d6ec9001"
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(ack, 7, `{"job_id": "`+jobID+`"}`)

	go w.dispatch(ctx, deliveries)

	select {
	case jd := <-w.jobsChan:
		assert.Equal(t, jobID, jd.jobID)
		assert.Equal(t, uint64(7), jd.delivery.DeliveryTag)
	case <-time.After(2 * time.Second):
		t.Fatal("job never reached the pool channel")
	}

	assert.Empty(t, ack.nackCalls())
}

func TestDispatch_RequeuesWhenStoppedMidDispatch(t *testing.T) {
	w := newTestWorker()
	ack := &fakeAcknowledger{}

	ctx := context.Background()

	jobID := "4f6b2c36-9d1e-4f6a-9a51-20b0d6ec9002"
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(ack, 9, `{"job_id": "`+jobID+`"}`)

	done := make(chan struct{})
	go func() {
		// nobody reads jobsChan, so dispatch blocks until Stop
		w.dispatch(ctx, deliveries)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(w.stopChan)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not stop")
	}

	// the undispatched job goes back on the queue for another worker
	nacks := ack.nackCalls()
	require.Len(t, nacks, 1)
	assert.True(t, nacks[0].requeue)
}

func TestShouldRequeue(t *testing.T) {
	w := newTestWorker()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "already claimed is dropped",
			err:  domain.ErrJobAlreadyClaimed,
			want: false,
		},
		{
			name: "wrapped already claimed is dropped",
			err:  errors.Join(errors.New("context"), domain.ErrJobAlreadyClaimed),
			want: false,
		},
		{
			name: "retryable storage error is requeued",
			err:  domain.NewRetryableError(errors.New("connection refused")),
			want: true,
		},
		{
			name: "other errors are dropped",
			err:  errors.New("boom"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.shouldRequeue(tt.err))
		})
	}
}
