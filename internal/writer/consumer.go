// Package writer drains the ingestion queue into ClickHouse.
//
// Purpose:
//
//	Consumer loops long-poll SQS and feed deserialized events through a
//	bounded channel to the batcher, which accumulates them and flushes to
//	the columnar store. Messages that cannot be deserialized or persisted
//	are dead-lettered with the failure reason and removed from the source
//	queue so they are not reprocessed forever.
package writer

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/event"
	"github.com/komorebitech/cf-truesight/internal/queue"
)

// IncomingEvent is a deserialized queue message. The receipt handle lets
// the batcher acknowledge the message after a successful insert; the raw
// body is retained for dead-lettering if the insert ultimately fails.
type IncomingEvent struct {
	Event         event.EnrichedEvent
	ReceiptHandle string
	RawBody       string
}

// ConsumerLoop polls the queue and forwards deserialized events to the
// batcher channel.
type ConsumerLoop struct {
	consumer *queue.Consumer
	dlq      *queue.DeadLetter
	out      chan<- IncomingEvent
	log      *zap.Logger
}

// NewConsumerLoop builds a loop feeding the given channel.
func NewConsumerLoop(consumer *queue.Consumer, dlq *queue.DeadLetter, out chan<- IncomingEvent, log *zap.Logger) *ConsumerLoop {
	return &ConsumerLoop{consumer: consumer, dlq: dlq, out: out, log: log}
}

// Run polls until ctx is cancelled. Receive errors back off for a second
// before the next poll.
func (l *ConsumerLoop) Run(ctx context.Context) {
	l.log.Info("consumer loop started")

	for {
		select {
		case <-ctx.Done():
			l.log.Info("consumer loop received shutdown signal")
			return
		default:
		}

		messages, err := l.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info("consumer loop received shutdown signal")
				return
			}
			l.log.Error("failed to receive messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if len(messages) == 0 {
			continue
		}
		l.log.Debug("received messages", zap.Int("count", len(messages)))

		for _, msg := range messages {
			if msg.Body == "" || msg.ReceiptHandle == "" {
				l.log.Warn("skipping message without body or receipt handle",
					zap.String("message_id", msg.MessageID))
				continue
			}

			var ev event.EnrichedEvent
			if err := json.Unmarshal([]byte(msg.Body), &ev); err != nil {
				l.handlePoison(ctx, msg, err)
				continue
			}

			select {
			case l.out <- IncomingEvent{Event: ev, ReceiptHandle: msg.ReceiptHandle, RawBody: msg.Body}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handlePoison dead-letters an undecodable message and deletes it from the
// source queue.
func (l *ConsumerLoop) handlePoison(ctx context.Context, msg queue.Message, cause error) {
	preview := msg.Body
	if len(preview) > 200 {
		preview = preview[:200]
	}
	l.log.Error("failed to deserialise message",
		zap.String("message_id", msg.MessageID),
		zap.String("body_preview", preview),
		zap.Error(cause))

	if err := l.dlq.Send(ctx, msg.Body, "deserialisation error: "+cause.Error()); err != nil {
		l.log.Error("failed to send to dead letter queue", zap.Error(err))
	}
	if err := l.consumer.Delete(ctx, msg.ReceiptHandle); err != nil {
		l.log.Error("failed to delete poison message", zap.Error(err))
	}
}
