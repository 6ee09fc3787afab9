package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aleksmarkov/docpulse/internal/model"
)

// ErrNotFound is returned when no file row matches the query.
var ErrNotFound = errors.New("file not found")

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FileRepository wraps all SQL used by the API and the worker.
type FileRepository struct {
	pool DB
}

// NewFileRepository constructs a repository.
func NewFileRepository(pool DB) *FileRepository {
	return &FileRepository{pool: pool}
}

// ListOptions filters and paginates owner queries.
type ListOptions struct {
	Status model.FileStatus
	Type   model.FileType
	Page   int
	Limit  int
}

// CreatePending inserts a new file row in the pending state.
func (r *FileRepository) CreatePending(ctx context.Context, rec *model.FileRecord) error {
	now := time.Now().UTC()
	rec.Status = model.StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO files (id, owner_id, file_name, storage_path, mime_type, file_type, status, file_size, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.OwnerID, rec.FileName, rec.StoragePath, rec.MimeType, rec.Type, rec.Status, rec.FileSize, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

const selectColumns = `id, owner_id, file_name, storage_path, mime_type, file_type, status, file_size, extracted_data, error_message, processing_ms, processed_at, created_at, updated_at`

// GetOwned returns a file by id scoped to its owner.
func (r *FileRepository) GetOwned(ctx context.Context, id, ownerID string) (*model.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM files WHERE id=$1 AND owner_id=$2`, id, ownerID)
	return scanFile(row)
}

// List returns an owner's files newest first, with optional status/type
// filters, plus the total count for pagination.
func (r *FileRepository) List(ctx context.Context, ownerID string, opts ListOptions) ([]*model.FileRecord, int, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	limit := opts.Limit
	if limit < 1 {
		limit = 10
	}

	where := `WHERE owner_id=$1`
	args := []any{ownerID}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if opts.Type != "" {
		args = append(args, opts.Type)
		where += fmt.Sprintf(" AND file_type=$%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM files `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(`SELECT %s FROM files %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		selectColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select files: %w", err)
	}
	defer rows.Close()

	var files []*model.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, 0, err
		}
		files = append(files, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate files: %w", err)
	}
	return files, total, nil
}

// SetProcessing moves the file into the processing state, clearing any
// terminal fields left by an earlier attempt. A redelivered job must not
// expose the previous attempt's error or result while it is in flight.
func (r *FileRepository) SetProcessing(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE files
		SET status=$1, extracted_data=NULL, error_message=NULL, updated_at=$2
		WHERE id=$3
	`, model.StatusProcessing, now, id)
	if err != nil {
		return fmt.Errorf("set processing: %w", err)
	}
	return nil
}

// SetCompleted stores the extraction result together with the paired
// duration and completion timestamp in a single UPDATE, clearing any error
// left by an earlier failed attempt.
func (r *FileRepository) SetCompleted(ctx context.Context, id string, data any, durationMs int64) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal extracted data: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `
		UPDATE files
		SET status=$1, extracted_data=$2, error_message=NULL, processing_ms=$3, processed_at=$4, updated_at=$4
		WHERE id=$5
	`, model.StatusCompleted, payload, durationMs, now, id)
	if err != nil {
		return fmt.Errorf("set completed: %w", err)
	}
	return nil
}

// SetFailed stores the failure message, clearing any result from an
// earlier attempt.
func (r *FileRepository) SetFailed(ctx context.Context, id, msg string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE files
		SET status=$1, extracted_data=NULL, error_message=$2, updated_at=$3
		WHERE id=$4
	`, model.StatusFailed, msg, now, id)
	if err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Delete removes the file row.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM files WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func scanFile(row pgx.Row) (*model.FileRecord, error) {
	var (
		rec          model.FileRecord
		extracted    []byte
		errorMsg     sql.NullString
		processingMs sql.NullInt64
		processedAt  sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.FileName, &rec.StoragePath, &rec.MimeType, &rec.Type,
		&rec.Status, &rec.FileSize, &extracted, &errorMsg, &processingMs, &processedAt,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}
	if len(extracted) > 0 {
		var data any
		if err := json.Unmarshal(extracted, &data); err != nil {
			return nil, fmt.Errorf("decode extracted data: %w", err)
		}
		rec.ExtractedData = data
	}
	if errorMsg.Valid {
		rec.ErrorMessage = errorMsg.String
	}
	if processingMs.Valid {
		rec.ProcessingMs = processingMs.Int64
	}
	if processedAt.Valid {
		t := processedAt.Time
		rec.ProcessedAt = &t
	}
	return &rec, nil
}
