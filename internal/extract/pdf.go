package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// pdfMagic is the required header for any parseable PDF.
var pdfMagic = []byte("%PDF-")

const corruptedMessage = "File appears to be corrupted or unsupported. Please try re-uploading."

// PDFResult is the structured output of the PDF extractor.
type PDFResult struct {
	Text          string            `json:"text"`
	PageCount     int               `json:"pageCount"`
	Metadata      map[string]string `json:"metadata"`
	FormatVersion string            `json:"formatVersion"`
}

// PDF extracts plain text and document metadata from a PDF file.
func PDF(ctx context.Context, path string) (result any, err error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("read pdf: %w", readErr)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, failf("File is not a valid PDF document")
	}

	// ledongthuc/pdf panics on some malformed cross-reference tables, so a
	// corrupt upload must not take the worker down with it.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = failf("%s", corruptedMessage)
		}
	}()

	reader, parseErr := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if parseErr != nil {
		return nil, mapPDFError(parseErr)
	}

	var builder strings.Builder
	total := reader.NumPage()
	for page := 1; page <= total; page++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p := reader.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, pageErr := p.GetPlainText(nil)
		if pageErr != nil {
			return nil, mapPDFError(fmt.Errorf("page %d: %w", page, pageErr))
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}

	return &PDFResult{
		Text:          builder.String(),
		PageCount:     total,
		Metadata:      pdfMetadata(reader),
		FormatVersion: pdfVersion(data),
	}, nil
}

// mapPDFError translates known parser failures into user-facing messages.
// The flate marker shows up when a content stream is truncated or
// bit-rotted, which users can only fix by uploading the file again.
func mapPDFError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "flate: corrupt input") || strings.Contains(msg, "malformed PDF") {
		return failf("%s", corruptedMessage)
	}
	return failf("Failed to parse PDF: %v", err)
}

func pdfMetadata(reader *pdf.Reader) map[string]string {
	meta := make(map[string]string)
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return meta
	}
	for _, key := range info.Keys() {
		v := info.Key(key)
		if v.Kind() == pdf.String {
			meta[key] = v.Text()
		}
	}
	return meta
}

// pdfVersion pulls the version number out of the %PDF-x.y header line.
func pdfVersion(data []byte) string {
	rest := data[len(pdfMagic):]
	if idx := bytes.IndexAny(rest, "\r\n "); idx >= 0 {
		rest = rest[:idx]
	}
	if len(rest) > 8 {
		rest = rest[:8]
	}
	return string(rest)
}
