// Package queue is the SQS transport between the ingestion edge and the
// ClickHouse writer.
//
// Purpose:
//
//	Publishing enriched events in batch entries, long-poll consumption,
//	acknowledgement, and dead-lettering of messages the writer cannot
//	process. The SQS client is consumed through narrow interfaces so tests
//	can substitute fakes.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/event"
)

// SQS caps batch entries per SendMessageBatch / DeleteMessageBatch call.
const maxEntriesPerCall = 10

// Message attribute names carried on every published event.
const (
	attrProjectID   = "project_id"
	attrEventType   = "event_type"
	attrEventID     = "event_id"
	attrErrorReason = "error_reason"
)

type sqsSender interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

type sqsReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// NewClient builds an SQS client for the region, honoring an endpoint
// override for local development against LocalStack.
func NewClient(ctx context.Context, region, endpointURL string) (*sqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
	})
	return client, nil
}

// Publisher sends enriched events to the ingestion queue.
type Publisher struct {
	client   sqsSender
	queueURL string
}

// NewPublisher builds a Publisher against the given queue.
func NewPublisher(client sqsSender, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// SendBatch publishes every event or fails the batch as a whole. Entries are
// chunked to the SQS batch entry limit; entry ids are msg_<index> over the
// whole batch.
func (p *Publisher) SendBatch(ctx context.Context, events []event.EnrichedEvent) error {
	entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, len(events))
	for i, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.EventID, err)
		}
		entries = append(entries, sqstypes.SendMessageBatchRequestEntry{
			Id:          aws.String(fmt.Sprintf("msg_%d", i)),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]sqstypes.MessageAttributeValue{
				attrProjectID: {
					DataType:    aws.String("String"),
					StringValue: aws.String(ev.ProjectID.String()),
				},
				attrEventType: {
					DataType:    aws.String("String"),
					StringValue: aws.String(string(ev.EventType)),
				},
				attrEventID: {
					DataType:    aws.String("String"),
					StringValue: aws.String(ev.EventID.String()),
				},
			},
		})
	}

	for start := 0; start < len(entries); start += maxEntriesPerCall {
		end := start + maxEntriesPerCall
		if end > len(entries) {
			end = len(entries)
		}
		out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(p.queueURL),
			Entries:  entries[start:end],
		})
		if err != nil {
			return fmt.Errorf("send message batch: %w", err)
		}
		if len(out.Failed) > 0 {
			first := out.Failed[0]
			return fmt.Errorf("send message batch: %d entries failed, first %s: %s",
				len(out.Failed), aws.ToString(first.Id), aws.ToString(first.Message))
		}
	}
	return nil
}

// Ping verifies the queue is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	_, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(p.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("get queue attributes: %w", err)
	}
	return nil
}

// Message is a received queue message.
type Message struct {
	MessageID     string
	Body          string
	ReceiptHandle string
}

// Consumer long-polls the ingestion queue for the writer.
type Consumer struct {
	client    sqsReceiver
	queueURL  string
	batchSize int32
	log       *zap.Logger
}

// NewConsumer builds a Consumer. batchSize is clamped to the SQS limit.
func NewConsumer(client sqsReceiver, queueURL string, batchSize int, log *zap.Logger) *Consumer {
	if batchSize <= 0 || batchSize > maxEntriesPerCall {
		batchSize = maxEntriesPerCall
	}
	return &Consumer{
		client:    client,
		queueURL:  queueURL,
		batchSize: int32(batchSize),
		log:       log,
	}
}

// Receive long-polls for up to the configured number of messages.
func (c *Consumer) Receive(ctx context.Context) ([]Message, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   c.batchSize,
		WaitTimeSeconds:       20,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			MessageID:     aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

// Delete acknowledges a single message.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// DeleteBatch acknowledges messages best-effort. Entry failures surface the
// message again after the visibility timeout, so they are logged rather than
// returned.
func (c *Consumer) DeleteBatch(ctx context.Context, receiptHandles []string) {
	for start := 0; start < len(receiptHandles); start += maxEntriesPerCall {
		end := start + maxEntriesPerCall
		if end > len(receiptHandles) {
			end = len(receiptHandles)
		}

		entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, end-start)
		for i, handle := range receiptHandles[start:end] {
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
				Id:            aws.String(fmt.Sprintf("del_%d", start+i)),
				ReceiptHandle: aws.String(handle),
			})
		}

		out, err := c.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(c.queueURL),
			Entries:  entries,
		})
		if err != nil {
			c.log.Warn("delete message batch failed",
				zap.Int("entries", len(entries)),
				zap.Error(err))
			continue
		}
		for _, failed := range out.Failed {
			c.log.Warn("delete message entry failed",
				zap.String("entry_id", aws.ToString(failed.Id)),
				zap.String("code", aws.ToString(failed.Code)),
				zap.String("message", aws.ToString(failed.Message)))
		}
	}
}

// Ping verifies the queue is reachable.
func (c *Consumer) Ping(ctx context.Context) error {
	_, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(c.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("get queue attributes: %w", err)
	}
	return nil
}
