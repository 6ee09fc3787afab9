package extract

import (
	"context"

	"github.com/xuri/excelize/v2"
)

// Excel parses the first worksheet of an xlsx workbook into row objects
// keyed by the header row.
func Excel(ctx context.Context, path string) (any, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, failf("Failed to open spreadsheet: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, failf("Spreadsheet contains no worksheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, failf("Failed to read worksheet: %v", err)
	}
	if len(rows) == 0 {
		return &TableResult{Records: []map[string]string{}}, nil
	}

	return &TableResult{Records: rowsToRecords(rows[0], rows[1:])}, nil
}
