// Package ingest validates uploads and turns them into a stored object, a
// pending file record, and an extraction job, as a single logical unit.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/aleksmarkov/docpulse/internal/model"
	"github.com/aleksmarkov/docpulse/internal/queue"
	"github.com/aleksmarkov/docpulse/pkg/logger"
)

// ErrFileTooLarge rejects uploads above the configured size cap before any
// record or job is created.
var ErrFileTooLarge = errors.New("file size exceeds the maximum limit")

// RecordStore is the slice of the repository ingestion needs.
type RecordStore interface {
	CreatePending(ctx context.Context, rec *model.FileRecord) error
	Delete(ctx context.Context, id string) error
}

// ObjectStore writes and removes raw upload bytes.
type ObjectStore interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, objectKey string) error
}

// Enqueuer schedules the extraction job for a stored file.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.ProcessPayload) error
}

// Service implements the ingestion flow.
type Service struct {
	records     RecordStore
	objects     ObjectStore
	jobs        Enqueuer
	maxFileSize int64
}

// New constructs an ingestion service.
func New(records RecordStore, objects ObjectStore, jobs Enqueuer, maxFileSize int64) *Service {
	return &Service{records: records, objects: objects, jobs: jobs, maxFileSize: maxFileSize}
}

// Ingest validates and stores an upload. A pending record never outlives a
// failed enqueue: if scheduling the job fails, both the record and the
// stored object are rolled back and the whole call fails.
func (s *Service) Ingest(ctx context.Context, ownerID, fileName, contentType string, size int64, r io.Reader) (*model.FileRecord, error) {
	if size > s.maxFileSize {
		return nil, ErrFileTooLarge
	}
	fileType, err := model.DetectFileType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, contentType)
	}

	id := uuid.NewString()
	objectKey := fmt.Sprintf("uploads/%s/%s%s", ownerID, id, strings.ToLower(filepath.Ext(fileName)))

	if err := s.objects.Upload(ctx, objectKey, r, size, contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	rec := &model.FileRecord{
		ID:          id,
		OwnerID:     ownerID,
		FileName:    fileName,
		StoragePath: objectKey,
		MimeType:    contentType,
		Type:        fileType,
		FileSize:    size,
	}
	if err := s.records.CreatePending(ctx, rec); err != nil {
		if rmErr := s.objects.Remove(ctx, objectKey); rmErr != nil {
			logger.Warn(ctx, "orphaned object after failed record insert", "object_key", objectKey, "error", rmErr)
		}
		return nil, fmt.Errorf("create record: %w", err)
	}

	payload := queue.ProcessPayload{
		FileID:      id,
		StoragePath: objectKey,
		FileType:    fileType,
		OwnerID:     ownerID,
	}
	if err := s.jobs.Enqueue(ctx, payload); err != nil {
		if delErr := s.records.Delete(ctx, id); delErr != nil {
			logger.Error(ctx, "stranded record after failed enqueue", "file_id", id, "error", delErr)
		}
		if rmErr := s.objects.Remove(ctx, objectKey); rmErr != nil {
			logger.Warn(ctx, "orphaned object after failed enqueue", "object_key", objectKey, "error", rmErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return rec, nil
}
