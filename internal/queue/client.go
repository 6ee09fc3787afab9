package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Client binds an asynq client to the configured retry budget and job
// timeout so callers only provide the payload.
type Client struct {
	client      *asynq.Client
	maxAttempts int
	timeout     time.Duration
}

// NewClient constructs a Client.
func NewClient(client *asynq.Client, maxAttempts int, timeout time.Duration) *Client {
	return &Client{client: client, maxAttempts: maxAttempts, timeout: timeout}
}

// Enqueue schedules a file extraction job.
func (c *Client) Enqueue(ctx context.Context, payload ProcessPayload) error {
	return EnqueueProcess(ctx, c.client, payload, c.maxAttempts, c.timeout)
}
