package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// imageExts is the allow-list of image formats tesseract is asked to read.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".tiff": true,
}

// ImageResult is the structured output of the OCR extractor.
type ImageResult struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	WordBlocks []WordBlock `json:"wordBlocks"`
}

// WordBlock is one recognized word with its bounding box.
type WordBlock struct {
	Word       string  `json:"word"`
	Confidence float64 `json:"confidence"`
	X0         int     `json:"x0"`
	Y0         int     `json:"y0"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
}

// Image runs OCR over the file at path. The tesseract client is closed on
// every exit path; leaking native recognition handles across jobs would
// exhaust the worker long before any queue backpressure kicks in.
func Image(ctx context.Context, path string) (any, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !imageExts[ext] {
		return nil, failf("Unsupported image format: %s", ext)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, failf("Image file not found")
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage("eng"); err != nil {
		return nil, fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImage(path); err != nil {
		return nil, failf("Failed to read image: %v", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, failf("Text recognition failed: %v", err)
	}
	if strings.TrimSpace(text) == "" {
		// An empty OCR pass reads as success to the engine but is useless
		// to the uploader, so it is reported as a failure.
		return nil, failf("No text detected in image")
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, failf("Text recognition failed: %v", err)
	}

	blocks := make([]WordBlock, 0, len(boxes))
	var confidenceSum float64
	for _, box := range boxes {
		blocks = append(blocks, WordBlock{
			Word:       box.Word,
			Confidence: box.Confidence,
			X0:         box.Box.Min.X,
			Y0:         box.Box.Min.Y,
			X1:         box.Box.Max.X,
			Y1:         box.Box.Max.Y,
		})
		confidenceSum += box.Confidence
	}
	var confidence float64
	if len(blocks) > 0 {
		confidence = confidenceSum / float64(len(blocks))
	}

	return &ImageResult{
		Text:       text,
		Confidence: confidence,
		WordBlocks: blocks,
	}, nil
}
