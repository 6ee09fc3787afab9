package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// CSV parses a comma-separated file into row objects keyed by the header
// row.
func CSV(ctx context.Context, path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	// Uploaded sheets are frequently ragged; short rows are padded with
	// empty strings rather than rejected.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &TableResult{Records: []map[string]string{}}, nil
		}
		return nil, failf("Failed to parse CSV: %v", err)
	}

	var rows [][]string
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, failf("Failed to parse CSV: %v", err)
		}
		rows = append(rows, row)
	}

	return &TableResult{Records: rowsToRecords(header, rows)}, nil
}
