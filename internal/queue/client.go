package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueWarmVariant schedules one variant generation. The task ID is the
// job ID plus the path so a replayed warm request does not duplicate work.
func (c *Client) EnqueueWarmVariant(ctx context.Context, payload WarmVariantPayload) (*asynq.TaskInfo, error) {
	task, err := NewWarmVariantTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID+":"+payload.Path),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
