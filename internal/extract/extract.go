// Package extract turns stored document bytes into structured content.
// Each supported format has one extractor function; dispatch happens
// through a closed table keyed by the declared file type.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/aleksmarkov/docpulse/internal/model"
)

// Error is a recoverable extraction failure with a message fit for the
// uploading user. Extractors return it instead of panicking or leaking
// library internals; the worker persists the message verbatim.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

func failf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Func extracts content from the file at path. The returned value is
// JSON-serializable and format specific.
type Func func(ctx context.Context, path string) (any, error)

// registry is the declared-type dispatch table. The set of formats is
// closed, so a plain map beats an interface hierarchy here.
var registry = map[model.FileType]Func{
	model.TypePDF:   PDF,
	model.TypeImage: Image,
	model.TypeCSV:   CSV,
	model.TypeExcel: Excel,
}

// ForType returns the extractor for a declared file type.
func ForType(t model.FileType) (Func, bool) {
	fn, ok := registry[t]
	return fn, ok
}

// Registry returns a copy of the dispatch table, used by the worker so
// tests can swap individual extractors.
func Registry() map[model.FileType]Func {
	out := make(map[model.FileType]Func, len(registry))
	for k, v := range registry {
		out[k] = v
	}
	return out
}

// TableResult is the output shape shared by the CSV and Excel extractors:
// one map per data row, keyed by the header row.
type TableResult struct {
	Records []map[string]string `json:"records"`
}

func rowsToRecords(header []string, rows [][]string) []map[string]string {
	records := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		empty := true
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		rec := make(map[string]string, len(header))
		for i, key := range header {
			if i < len(row) {
				rec[key] = row[i]
			} else {
				rec[key] = ""
			}
		}
		records = append(records, rec)
	}
	return records
}
