package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksmarkov/docpulse/internal/config"
	"github.com/aleksmarkov/docpulse/internal/extract"
	"github.com/aleksmarkov/docpulse/internal/model"
	"github.com/aleksmarkov/docpulse/internal/notify"
	"github.com/aleksmarkov/docpulse/internal/queue"
	"github.com/aleksmarkov/docpulse/internal/s3storage"
)

// fakeRecords is an in-memory stand-in for the repository that remembers
// every transition in order.
type fakeRecords struct {
	mu            sync.Mutex
	statuses      []model.FileStatus
	data          any
	durationMs    int64
	errorMsg      string
	processingErr error
	completedErr  error
	failedErr     error
}

func (f *fakeRecords) SetProcessing(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processingErr != nil {
		return f.processingErr
	}
	f.statuses = append(f.statuses, model.StatusProcessing)
	// Mirrors the repository: entering processing wipes the previous
	// attempt's terminal fields.
	f.errorMsg = ""
	f.data = nil
	return nil
}

func (f *fakeRecords) snapshot() (model.FileStatus, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return "", f.errorMsg
	}
	return f.statuses[len(f.statuses)-1], f.errorMsg
}

func (f *fakeRecords) SetCompleted(ctx context.Context, id string, data any, durationMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completedErr != nil {
		return f.completedErr
	}
	f.statuses = append(f.statuses, model.StatusCompleted)
	f.data = data
	f.durationMs = durationMs
	f.errorMsg = ""
	return nil
}

func (f *fakeRecords) SetFailed(ctx context.Context, id, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failedErr != nil {
		return f.failedErr
	}
	f.statuses = append(f.statuses, model.StatusFailed)
	f.errorMsg = msg
	f.data = nil
	return nil
}

type fakeObjects struct {
	files       map[string][]byte
	statErr     error
	downloadErr error
}

func (f *fakeObjects) Stat(ctx context.Context, objectKey string) (int64, error) {
	if f.statErr != nil {
		return 0, f.statErr
	}
	data, ok := f.files[objectKey]
	if !ok {
		return 0, fmt.Errorf("stat object %s: %w", objectKey, s3storage.ErrObjectNotFound)
	}
	return int64(len(data)), nil
}

func (f *fakeObjects) Download(ctx context.Context, objectKey string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.files[objectKey]
	if !ok {
		return nil, fmt.Errorf("get object: not found")
	}
	return data, nil
}

type publishedEvent struct {
	ownerID string
	event   notify.Event
}

type fakeSink struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeSink) Publish(ctx context.Context, ownerID string, ev notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{ownerID: ownerID, event: ev})
}

func (f *fakeSink) statuses() []model.FileStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.FileStatus, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.event.Status)
	}
	return out
}

func newTestProcessor(t *testing.T, records *fakeRecords, objects *fakeObjects, sink *fakeSink) *Processor {
	t.Helper()
	p := NewProcessor(records, objects, sink, &config.Config{
		MaxFileSize: 1 << 20,
		JobTimeout:  5 * time.Second,
	})
	p.tempDir = t.TempDir()
	return p
}

func newTask(t *testing.T, payload queue.ProcessPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeProcessFile, data)
}

func csvPayload() queue.ProcessPayload {
	return queue.ProcessPayload{
		FileID:      "file-1",
		StoragePath: "uploads/u1/file-1.csv",
		FileType:    model.TypeCSV,
		OwnerID:     "u1",
	}
}

func TestProcessCSVSuccess(t *testing.T) {
	records := &fakeRecords{}
	objects := &fakeObjects{files: map[string][]byte{
		"uploads/u1/file-1.csv": []byte("name,age\nJohn,30\n"),
	}}
	sink := &fakeSink{}
	p := newTestProcessor(t, records, objects, sink)

	err := p.HandleProcess(context.Background(), newTask(t, csvPayload()))
	require.NoError(t, err)

	require.Equal(t, []model.FileStatus{model.StatusProcessing, model.StatusCompleted}, records.statuses)
	table, ok := records.data.(*extract.TableResult)
	require.True(t, ok)
	require.Len(t, table.Records, 1)
	assert.Equal(t, "John", table.Records[0]["name"])
	assert.Equal(t, "30", table.Records[0]["age"])
	assert.GreaterOrEqual(t, records.durationMs, int64(0))
	assert.Empty(t, records.errorMsg)

	// Processing notification strictly before the terminal one, both to
	// the file's owner.
	require.Equal(t, []model.FileStatus{model.StatusProcessing, model.StatusCompleted}, sink.statuses())
	assert.Equal(t, "u1", sink.events[0].ownerID)

	// The worker-local temp copy is gone.
	entries, err := os.ReadDir(p.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessExtractionFailure(t *testing.T) {
	records := &fakeRecords{}
	objects := &fakeObjects{files: map[string][]byte{
		"uploads/u1/file-1.csv": []byte("data"),
	}}
	sink := &fakeSink{}
	p := newTestProcessor(t, records, objects, sink)
	p.extractors[model.TypeCSV] = func(ctx context.Context, path string) (any, error) {
		return nil, &extract.Error{Message: "Failed to parse CSV: boom"}
	}

	err := p.HandleProcess(context.Background(), newTask(t, csvPayload()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	require.Equal(t, []model.FileStatus{model.StatusProcessing, model.StatusFailed}, records.statuses)
	assert.Equal(t, "Failed to parse CSV: boom", records.errorMsg)
	assert.Nil(t, records.data)

	require.Equal(t, []model.FileStatus{model.StatusProcessing, model.StatusFailed}, sink.statuses())
	failData, ok := sink.events[1].event.Data.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "Failed to parse CSV: boom", failData["error"])

	entries, readErr := os.ReadDir(p.tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestProcessMissingFileFailsWithoutRetry(t *testing.T) {
	records := &fakeRecords{}
	objects := &fakeObjects{files: map[string][]byte{}}
	sink := &fakeSink{}
	p := newTestProcessor(t, records, objects, sink)

	err := p.HandleProcess(context.Background(), newTask(t, csvPayload()))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	require.Equal(t, []model.FileStatus{model.StatusProcessing, model.StatusFailed}, records.statuses)
	assert.Equal(t, "File not found", records.errorMsg)
}

func TestProcessTransientStatErrorKeepsRetryEligibility(t *testing.T) {
	// Storage being unreachable is not the same as the object being gone;
	// the job must stay eligible for redelivery.
	records := &fakeRecords{}
	objects := &fakeObjects{statErr: errors.New("dial tcp: connection refused")}
	sink := &fakeSink{}
	p := newTestProcessor(t, records, objects, sink)

	err := p.HandleProcess(context.Background(), newTask(t, csvPayload()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	require.Equal(t, []model.FileStatus{model.StatusProcessing, model.StatusFailed}, records.statuses)
	assert.Equal(t, "Failed to read stored file", records.errorMsg)
}

func TestProcessOversizeFailsWithoutRetry(t *testing.T) {
	records := &fakeRecords{}
	objects := &fakeObjects{files: map[string][]byte{
		"uploads/u1/file-1.csv": make([]byte, 64),
	}}
	sink := &fakeSink{}
	p := newTestProcessor(t, records, objects, sink)
	p.maxFileSize = 16

	err := p.HandleProcess(context.Background(), newTask(t, csvPayload()))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, "File size exceeds maximum limit", records.errorMsg)
}

func TestProcessTimeout(t *testing.T) {
	records := &fakeRecords{}
	objects := &fakeObjects{files: map[string][]byte{
		"uploads/u1/file-1.csv": []byte("data"),
	}}
	sink := &fakeSink{}
	p := newTestProcessor(t, records, objects, sink)
	p.jobTimeout = 20 * time.Millisecond
	p.extractors[model.TypeCSV] = func(ctx context.Context, path string) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, nil
		}
	}

	err := p.HandleProcess(context.Background(), newTask(t, csvPayload()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, "Processing timed out", records.errorMsg)
	require.Equal(t, []model.FileStatus{model.StatusProcessing, model.StatusFailed}, records.statuses)
}

func TestProcessTerminalWriteFailureSurfaces(t *testing.T) {
	records := &fakeRecords{completedErr: errors.New("connection reset")}
	objects := &fakeObjects{files: map[string][]byte{
		"uploads/u1/file-1.csv": []byte("name,age\nJohn,30\n"),
	}}
	sink := &fakeSink{}
	p := newTestProcessor(t, records, objects, sink)

	err := p.HandleProcess(context.Background(), newTask(t, csvPayload()))
	require.Error(t, err)

	// No completed notification may go out for a state that was never
	// persisted.
	assert.Equal(t, []model.FileStatus{model.StatusProcessing}, sink.statuses())
}

func TestProcessBadPayloadNotRetried(t *testing.T) {
	records := &fakeRecords{}
	p := newTestProcessor(t, records, &fakeObjects{}, &fakeSink{})

	err := p.HandleProcess(context.Background(), asynq.NewTask(queue.TypeProcessFile, []byte("{broken")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, records.statuses)
}

func TestProcessRedeliveryOverwritesFailedState(t *testing.T) {
	// First attempt fails, a later redelivery of the same job succeeds:
	// the record must come out completed with a consistent result/duration
	// pair and no leftover error message.
	records := &fakeRecords{}
	objects := &fakeObjects{files: map[string][]byte{
		"uploads/u1/file-1.csv": []byte("name,age\nJohn,30\n"),
	}}
	sink := &fakeSink{}
	p := newTestProcessor(t, records, objects, sink)

	attempts := 0
	var retryStatus model.FileStatus
	var retryErrMsg string
	realCSV := extract.Registry()[model.TypeCSV]
	p.extractors[model.TypeCSV] = func(ctx context.Context, path string) (any, error) {
		attempts++
		if attempts == 1 {
			return nil, &extract.Error{Message: "Failed to parse CSV: transient"}
		}
		// While the retry is in flight the record must not still carry
		// the first attempt's error.
		retryStatus, retryErrMsg = records.snapshot()
		return realCSV(ctx, path)
	}

	task := newTask(t, csvPayload())
	require.Error(t, p.HandleProcess(context.Background(), task))
	require.NoError(t, p.HandleProcess(context.Background(), task))

	require.Equal(t, []model.FileStatus{
		model.StatusProcessing, model.StatusFailed,
		model.StatusProcessing, model.StatusCompleted,
	}, records.statuses)
	assert.Equal(t, model.StatusProcessing, retryStatus)
	assert.Empty(t, retryErrMsg)
	assert.Empty(t, records.errorMsg)
	require.NotNil(t, records.data)
	assert.GreaterOrEqual(t, records.durationMs, int64(0))
}
