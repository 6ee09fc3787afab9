package extract

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageRejectsUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "scan.bmp", []byte("BM fake bitmap"))

	_, err := Image(context.Background(), path)
	require.Error(t, err)

	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.Contains(t, xerr.Message, "Unsupported image format")
	assert.Contains(t, xerr.Message, ".bmp")
}

func TestImageRejectsMissingFile(t *testing.T) {
	_, err := Image(context.Background(), filepath.Join(t.TempDir(), "gone.png"))
	require.Error(t, err)

	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.Contains(t, xerr.Message, "not found")
}

func TestImageExtensionAllowList(t *testing.T) {
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp", ".tiff"} {
		assert.True(t, imageExts[ext], ext)
	}
	for _, ext := range []string{".bmp", ".gif", ".svg", ".heic", ""} {
		assert.False(t, imageExts[ext], ext)
	}
}
