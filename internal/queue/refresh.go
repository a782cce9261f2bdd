// Package queue provides the SQS producer and consumer for imagery refresh
// jobs: background requests that re-fetch comprehensive imagery for a farm
// so dashboards stay warm without blocking an interactive request.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"farmsight/internal/types"
)

// RefreshJob is the unit of background work: one farm geometry whose imagery
// should be refreshed.
type RefreshJob struct {
	JobID       string          `json:"job_id"`
	FarmID      string          `json:"farm_id"`
	ViewID      string          `json:"view_id"`
	Geometry    *types.Geometry `json:"geometry"`
	Indices     []string        `json:"indices,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
}

// SQSSender abstracts the SQS SendMessage operation for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSReceiver abstracts the consumer-side SQS operations.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// RefreshTrigger enqueues refresh jobs.
type RefreshTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewRefreshTrigger creates a trigger for the given queue URL. An empty URL
// disables enqueueing; Enqueue then reports the queue as unconfigured.
func NewRefreshTrigger(client SQSSender, queueURL string, logger *slog.Logger) *RefreshTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshTrigger{client: client, queueURL: queueURL, logger: logger}
}

// Enqueue assigns the job an ID and timestamp and dispatches it. The returned
// job ID lets callers correlate worker logs with the originating request.
func (t *RefreshTrigger) Enqueue(ctx context.Context, job RefreshJob, reason string) (string, error) {
	if t.queueURL == "" {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"refresh queue is not configured",
			nil,
		)
	}

	job.JobID = uuid.NewString()
	job.RequestedAt = time.Now().UTC()

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("queue: failed to marshal refresh job: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return "", fmt.Errorf("queue: failed to send refresh job: %w", err)
	}

	t.logger.InfoContext(ctx, "refresh job enqueued",
		"job_id", job.JobID,
		"farm_id", job.FarmID,
		"reason", reason,
	)
	return job.JobID, nil
}

// JobHandler processes a dequeued refresh job. Returning an error leaves the
// message on the queue for redelivery.
type JobHandler func(ctx context.Context, job RefreshJob) error

// Consumer long-polls the refresh queue and hands jobs to a handler.
type Consumer struct {
	client   SQSReceiver
	queueURL string
	logger   *slog.Logger
}

// NewConsumer creates a queue consumer.
func NewConsumer(client SQSReceiver, queueURL string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, queueURL: queueURL, logger: logger}
}

// Run receives and processes jobs until the context is cancelled. Messages
// are deleted only after the handler succeeds; handler failures leave them
// for SQS redelivery.
func (c *Consumer) Run(ctx context.Context, handler JobHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 5,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.ErrorContext(ctx, "failed to receive refresh jobs", "error", err)
			continue
		}

		for _, msg := range out.Messages {
			c.processMessage(ctx, msg, handler)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg sqsTypes.Message, handler JobHandler) {
	var job RefreshJob
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
		// A malformed message can never succeed; delete it rather than
		// letting it cycle through redelivery forever.
		c.logger.ErrorContext(ctx, "discarding malformed refresh job", "error", err)
		c.delete(ctx, msg)
		return
	}

	if err := handler(ctx, job); err != nil {
		c.logger.ErrorContext(ctx, "refresh job failed, leaving for redelivery",
			"job_id", job.JobID,
			"farm_id", job.FarmID,
			"error", err,
		)
		return
	}

	c.delete(ctx, msg)
	c.logger.InfoContext(ctx, "refresh job completed", "job_id", job.JobID, "farm_id", job.FarmID)
}

func (c *Consumer) delete(ctx context.Context, msg sqsTypes.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to delete refresh job message", "error", err)
	}
}
