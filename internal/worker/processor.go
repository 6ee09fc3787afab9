// Package worker runs extraction jobs pulled from the queue and drives
// each file record through pending -> processing -> completed/failed.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aleksmarkov/docpulse/internal/config"
	"github.com/aleksmarkov/docpulse/internal/extract"
	"github.com/aleksmarkov/docpulse/internal/model"
	"github.com/aleksmarkov/docpulse/internal/notify"
	"github.com/aleksmarkov/docpulse/internal/queue"
	"github.com/aleksmarkov/docpulse/internal/s3storage"
	"github.com/aleksmarkov/docpulse/pkg/logger"
)

// RecordStore is the slice of the repository the worker needs.
type RecordStore interface {
	SetProcessing(ctx context.Context, id string) error
	SetCompleted(ctx context.Context, id string, data any, durationMs int64) error
	SetFailed(ctx context.Context, id, msg string) error
}

// ObjectStore reads stored uploads.
type ObjectStore interface {
	Stat(ctx context.Context, objectKey string) (int64, error)
	Download(ctx context.Context, objectKey string) ([]byte, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	records     RecordStore
	objects     ObjectStore
	sink        notify.Sink
	extractors  map[model.FileType]extract.Func
	maxFileSize int64
	jobTimeout  time.Duration
	tempDir     string
}

// NewProcessor constructs a worker processor with the full extractor
// dispatch table.
func NewProcessor(records RecordStore, objects ObjectStore, sink notify.Sink, cfg *config.Config) *Processor {
	return &Processor{
		records:     records,
		objects:     objects,
		sink:        sink,
		extractors:  extract.Registry(),
		maxFileSize: cfg.MaxFileSize,
		jobTimeout:  cfg.JobTimeout,
		tempDir:     os.TempDir(),
	}
}

// Handler registers the process job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessFile, p.HandleProcess)
	return mux
}

// HandleProcess runs one processing attempt. Every path out of this
// function leaves the record in a persisted state and the temp copy
// removed; returning a non-SkipRetry error hands the job back to the
// queue's retry accounting, where a later attempt re-runs the whole
// transition sequence against the same record.
func (p *Processor) HandleProcess(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", asynq.SkipRetry)
	}
	ctx = context.WithValue(ctx, logger.FileIDKey, payload.FileID)
	started := time.Now()

	// Persist the processing state before announcing it; a notification
	// for a state that was never written would let clients observe an
	// ordering the store cannot confirm.
	if err := p.records.SetProcessing(ctx, payload.FileID); err != nil {
		return fmt.Errorf("set processing: %w", err)
	}
	p.sink.Publish(ctx, payload.OwnerID, notify.NewEvent(payload.FileID, model.StatusProcessing, nil))

	// A confirmed-missing or oversize file stays that way; retrying either
	// would burn the whole budget for nothing. A stat failure for any
	// other reason may be storage being unreachable, so it keeps its
	// retry eligibility.
	size, err := p.objects.Stat(ctx, payload.StoragePath)
	if err != nil {
		if errors.Is(err, s3storage.ErrObjectNotFound) {
			logger.Warn(ctx, "stored file missing", "storage_path", payload.StoragePath, "error", err)
			return p.fail(ctx, payload, "File not found", asynq.SkipRetry)
		}
		return p.fail(ctx, payload, "Failed to read stored file", err)
	}
	if size > p.maxFileSize {
		return p.fail(ctx, payload, "File size exceeds maximum limit", asynq.SkipRetry)
	}

	data, err := p.objects.Download(ctx, payload.StoragePath)
	if err != nil {
		return p.fail(ctx, payload, "Failed to read stored file", err)
	}

	tmpPath, err := p.writeTemp(payload.StoragePath, data)
	if err != nil {
		return p.fail(ctx, payload, "Failed to stage file for processing", err)
	}
	defer os.Remove(tmpPath)

	fn, ok := p.extractors[payload.FileType]
	if !ok {
		return p.fail(ctx, payload, fmt.Sprintf("Unsupported file type: %s", payload.FileType), asynq.SkipRetry)
	}

	extractCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()
	result, err := runExtract(extractCtx, fn, tmpPath)
	if err != nil {
		msg := failureMessage(err)
		logger.Warn(ctx, "extraction failed", "file_type", payload.FileType, "error", err)
		return p.fail(ctx, payload, msg, err)
	}

	durationMs := time.Since(started).Milliseconds()
	if err := p.records.SetCompleted(ctx, payload.FileID, result, durationMs); err != nil {
		// The attempt succeeded but the store now disagrees with reality;
		// escalate loudly and let the queue re-run the attempt.
		logger.Error(ctx, "terminal status write failed", "status", model.StatusCompleted, "error", err)
		return fmt.Errorf("set completed: %w", err)
	}
	p.sink.Publish(ctx, payload.OwnerID, notify.NewEvent(payload.FileID, model.StatusCompleted, result))

	logger.Info(ctx, "file processed", "file_type", payload.FileType, "duration_ms", durationMs)
	return nil
}

// fail persists the failed state and emits the failure notification, then
// returns an error wrapping cause so the queue decides on redelivery.
func (p *Processor) fail(ctx context.Context, payload queue.ProcessPayload, msg string, cause error) error {
	if err := p.records.SetFailed(ctx, payload.FileID, msg); err != nil {
		logger.Error(ctx, "terminal status write failed", "status", model.StatusFailed, "error", err)
		return fmt.Errorf("set failed: %w", err)
	}
	p.sink.Publish(ctx, payload.OwnerID, notify.NewEvent(payload.FileID, model.StatusFailed, map[string]string{"error": msg}))
	return fmt.Errorf("%s: %w", msg, cause)
}

// failureMessage maps an extraction error onto the message persisted for
// the uploader. Typed extraction errors pass through verbatim.
func failureMessage(err error) string {
	var xerr *extract.Error
	if errors.As(err, &xerr) {
		return xerr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Processing timed out"
	}
	return err.Error()
}

// writeTemp stages the downloaded bytes as a worker-local file, keeping
// the original extension for extractors that dispatch on it.
func (p *Processor) writeTemp(storagePath string, data []byte) (string, error) {
	ext := filepath.Ext(storagePath)
	f, err := os.CreateTemp(p.tempDir, "docpulse-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

// runExtract guards against extractors that hang past the job timeout.
// The extractor goroutine is abandoned on expiry; its result channel is
// buffered so it can still exit.
func runExtract(ctx context.Context, fn extract.Func, path string) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := fn(ctx, path)
		ch <- outcome{result: result, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		return out.result, out.err
	}
}
