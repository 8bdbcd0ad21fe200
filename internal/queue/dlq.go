package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsMessageSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeadLetter forwards unprocessable messages to the dead letter queue with
// the failure reason attached as a message attribute.
type DeadLetter struct {
	client   sqsMessageSender
	queueURL string
}

// NewDeadLetter builds a DeadLetter against the given queue.
func NewDeadLetter(client sqsMessageSender, queueURL string) *DeadLetter {
	return &DeadLetter{client: client, queueURL: queueURL}
}

// Send forwards the original message body with the failure reason.
func (d *DeadLetter) Send(ctx context.Context, body, reason string) error {
	_, err := d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(body),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			attrErrorReason: {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send to dead letter queue: %w", err)
	}
	return nil
}
