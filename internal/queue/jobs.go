// Package queue defines the extraction task carried over asynq and the
// retry policy applied to it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aleksmarkov/docpulse/internal/model"
)

const (
	// TypeProcessFile is scheduled once for every uploaded file.
	TypeProcessFile = "file:process"
)

// ProcessPayload is serialized into the task payload so the worker knows
// which object to download and which extractor to run.
type ProcessPayload struct {
	FileID      string         `json:"file_id"`
	StoragePath string         `json:"storage_path"`
	FileType    model.FileType `json:"file_type"`
	OwnerID     string         `json:"owner_id"`
}

// EnqueueProcess enqueues a file extraction job. The task carries its own
// retry budget and per-attempt timeout; redelivery after a failed attempt
// is asynq's responsibility.
func EnqueueProcess(ctx context.Context, client *asynq.Client, payload ProcessPayload, maxAttempts int, timeout time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	task := asynq.NewTask(TypeProcessFile, data)
	opts := []asynq.Option{
		// MaxRetry counts retries, not attempts, hence the -1.
		asynq.MaxRetry(maxAttempts - 1),
		asynq.Timeout(timeout),
	}
	if _, err := client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}

// RetryDelay returns the delay function used by the worker server:
// base, 2*base, 4*base and so on, doubling per failed attempt.
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n < 0 {
			n = 0
		}
		if n > 16 {
			n = 16
		}
		return base << uint(n)
	}
}
