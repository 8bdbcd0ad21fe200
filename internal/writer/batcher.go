package writer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/komorebitech/cf-truesight/internal/event"
	"github.com/komorebitech/cf-truesight/internal/queue"
	"github.com/komorebitech/cf-truesight/internal/storage/clickhouse"
	"github.com/komorebitech/cf-truesight/internal/telemetry"
)

// Batcher accumulates incoming events and flushes them to ClickHouse when
// the size threshold is reached or the timeout elapses with a non-empty
// buffer. At most maxInFlight flushes run concurrently; when the limit is
// reached the batcher blocks until one completes.
type Batcher struct {
	in          <-chan IncomingEvent
	inserter    *clickhouse.Inserter
	consumer    *queue.Consumer
	dlq         *queue.DeadLetter
	batchSize   int
	timeout     time.Duration
	maxInFlight int64
	log         *zap.Logger
	metrics     *telemetry.Metrics
}

// BatcherConfig carries the tunables of a Batcher.
type BatcherConfig struct {
	BatchSize   int
	Timeout     time.Duration
	MaxInFlight int
}

// NewBatcher builds a Batcher reading from in.
func NewBatcher(in <-chan IncomingEvent, inserter *clickhouse.Inserter, consumer *queue.Consumer, dlq *queue.DeadLetter, cfg BatcherConfig, log *zap.Logger, metrics *telemetry.Metrics) *Batcher {
	return &Batcher{
		in:          in,
		inserter:    inserter,
		consumer:    consumer,
		dlq:         dlq,
		batchSize:   cfg.BatchSize,
		timeout:     cfg.Timeout,
		maxInFlight: int64(cfg.MaxInFlight),
		log:         log,
		metrics:     metrics,
	}
}

// Run consumes until the input channel closes, then drains the remaining
// buffer and waits for in-flight flushes to finish. Flushes themselves run
// to completion even during shutdown.
func (b *Batcher) Run() {
	b.log.Info("batcher started",
		zap.Int("batch_size", b.batchSize),
		zap.Duration("batch_timeout", b.timeout),
		zap.Int64("max_in_flight", b.maxInFlight))

	inFlight := semaphore.NewWeighted(b.maxInFlight)
	buffer := make([]IncomingEvent, 0, b.batchSize)
	ticker := time.NewTicker(b.timeout)
	defer ticker.Stop()

	for {
		select {
		case incoming, ok := <-b.in:
			if !ok {
				if len(buffer) > 0 {
					b.log.Info("input channel closed, flushing remaining buffer",
						zap.Int("count", len(buffer)))
					b.flush(buffer, inFlight)
				}
				// Wait for all in-flight flushes before returning.
				_ = inFlight.Acquire(context.Background(), b.maxInFlight)
				b.log.Info("batcher shut down")
				return
			}
			buffer = append(buffer, incoming)
			if len(buffer) >= b.batchSize {
				b.flush(buffer, inFlight)
				buffer = make([]IncomingEvent, 0, b.batchSize)
				// Full timeout window after a size-triggered flush.
				ticker.Reset(b.timeout)
			}
		case <-ticker.C:
			if len(buffer) > 0 {
				b.flush(buffer, inFlight)
				buffer = make([]IncomingEvent, 0, b.batchSize)
			}
		}
	}
}

// flush acquires an in-flight permit and persists the batch concurrently.
// On success the source messages are acknowledged; on failure every event
// is dead-lettered and the messages are still acknowledged so they are not
// reprocessed.
func (b *Batcher) flush(batch []IncomingEvent, inFlight *semaphore.Weighted) {
	if err := inFlight.Acquire(context.Background(), 1); err != nil {
		return
	}

	go func() {
		defer inFlight.Release(1)

		ctx := context.Background()
		b.log.Info("flushing batch", zap.Int("count", len(batch)))

		events := make([]event.EnrichedEvent, 0, len(batch))
		handles := make([]string, 0, len(batch))
		for _, incoming := range batch {
			events = append(events, incoming.Event)
			handles = append(handles, incoming.ReceiptHandle)
		}

		if err := b.inserter.InsertBatch(ctx, events); err != nil {
			b.metrics.InsertFailures.Inc()
			b.log.Error("batch insert failed after retries",
				zap.Int("count", len(batch)),
				zap.Error(err))

			for _, incoming := range batch {
				if dlqErr := b.dlq.Send(ctx, incoming.RawBody, "insert failure: "+err.Error()); dlqErr != nil {
					b.log.Error("failed to send to dead letter queue", zap.Error(dlqErr))
				} else {
					b.metrics.MessagesDeadLet.Inc()
				}
			}
			b.consumer.DeleteBatch(ctx, handles)
			return
		}

		b.metrics.BatchesFlushed.Inc()
		b.metrics.EventsInserted.Add(float64(len(events)))
		b.log.Info("batch inserted", zap.Int("count", len(events)))

		// Identity mapping never blocks event durability.
		for _, ev := range events {
			if err := clickhouse.UpsertIdentity(ctx, b.inserter.Client(), ev); err != nil {
				b.log.Error("failed to process identify event",
					zap.String("event_id", ev.EventID.String()),
					zap.Error(err))
			}
		}

		b.consumer.DeleteBatch(ctx, handles)
	}()
}
