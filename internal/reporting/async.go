package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-pool-watch/internal/domain"
	"solana-pool-watch/internal/observability"
)

// ErrQueueFull is returned when the async reporter drops a batch.
var ErrQueueFull = errors.New("reporter queue full")

// AsyncReporter hands batches to a background worker so slow sinks never
// hold up the notification loop. When the queue is full the batch is dropped.
type AsyncReporter struct {
	next    Reporter
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan []domain.PoolEvent
	wg     sync.WaitGroup
}

// NewAsyncReporter starts the worker. timeout bounds each delivery to next.
func NewAsyncReporter(next Reporter, size int, timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *AsyncReporter {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &AsyncReporter{
		next:    next,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan []domain.PoolEvent, size),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *AsyncReporter) Name() string { return "async" }

// Report queues events without blocking. Empty batches are not queued.
func (r *AsyncReporter) Report(_ context.Context, events []domain.PoolEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.New("reporter closed")
	}
	if len(events) == 0 {
		return nil
	}

	select {
	case r.queue <- events:
		return nil
	default:
		r.metrics.RecordReportDropped()
		return ErrQueueFull
	}
}

func (r *AsyncReporter) run() {
	defer r.wg.Done()
	for batch := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.next.Report(ctx, batch); err != nil {
			r.logger.Warn("report failed",
				zap.String("signature", batch[0].Signature),
				zap.Int("pools", len(batch)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close delivers what is queued, stops the worker and closes next.
func (r *AsyncReporter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()

	if c, ok := r.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
