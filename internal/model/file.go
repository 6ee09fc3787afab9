// Package model contains struct definitions shared between the API server
// and the worker.
package model

import (
	"errors"
	"time"
)

// FileStatus describes where a file sits in the processing lifecycle.
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

// FileType is the declared document format, derived from the upload's
// content type at ingestion time.
type FileType string

const (
	TypePDF   FileType = "pdf"
	TypeImage FileType = "image"
	TypeCSV   FileType = "csv"
	TypeExcel FileType = "excel"
)

// ErrUnsupportedType is returned for MIME types outside the accepted table.
var ErrUnsupportedType = errors.New("unsupported file type")

// mimeTypes is the fixed MIME -> declared type table enforced at the
// ingestion boundary. Uploads outside this table are rejected before any
// record or job exists.
var mimeTypes = map[string]FileType{
	"application/pdf": TypePDF,
	"image/png":       TypeImage,
	"image/jpeg":      TypeImage,
	"image/webp":      TypeImage,
	"image/tiff":      TypeImage,
	"text/csv":        TypeCSV,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": TypeExcel,
}

// DetectFileType maps an upload content type onto a declared FileType.
func DetectFileType(mimeType string) (FileType, error) {
	if t, ok := mimeTypes[mimeType]; ok {
		return t, nil
	}
	return "", ErrUnsupportedType
}

// FileRecord is one row in the files table. ID, OwnerID, StoragePath and
// Type never change after creation; Status advances through the lifecycle
// and ExtractedData/ErrorMessage are mutually exclusive terminal fields.
type FileRecord struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"ownerId"`
	FileName      string     `json:"fileName"`
	StoragePath   string     `json:"-"`
	MimeType      string     `json:"mimeType"`
	Type          FileType   `json:"type"`
	Status        FileStatus `json:"status"`
	FileSize      int64      `json:"fileSize"`
	ExtractedData any        `json:"extractedData,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	ProcessingMs  int64      `json:"processingMs,omitempty"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Terminal reports whether the status is one of the two end states.
func (s FileStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
