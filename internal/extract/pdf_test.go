package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFRejectsMissingMagic(t *testing.T) {
	path := writeFile(t, "fake.pdf", []byte("definitely not a pdf"))

	_, err := PDF(context.Background(), path)
	require.Error(t, err)

	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.Contains(t, xerr.Message, "not a valid PDF")
}

func TestPDFCorruptBody(t *testing.T) {
	// Valid magic followed by junk: the parser fails, but the failure must
	// come back as a typed, user-facing error rather than a panic.
	path := writeFile(t, "broken.pdf", []byte("%PDF-1.7\nnot actually a document"))

	_, err := PDF(context.Background(), path)
	require.Error(t, err)

	var xerr *Error
	require.ErrorAs(t, err, &xerr)
}

func TestMapPDFErrorKnownSignatures(t *testing.T) {
	err := mapPDFError(errors.New("read stream: flate: corrupt input before offset 1942"))
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, corruptedMessage, xerr.Message)

	err = mapPDFError(errors.New("malformed PDF: reading at offset 0: stream not present"))
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, corruptedMessage, xerr.Message)
}

func TestMapPDFErrorGeneric(t *testing.T) {
	err := mapPDFError(errors.New("unexpected object kind"))
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.NotEqual(t, corruptedMessage, xerr.Message)
	assert.Contains(t, xerr.Message, "Failed to parse PDF")
}

func TestPDFVersionFromHeader(t *testing.T) {
	assert.Equal(t, "1.7", pdfVersion([]byte("%PDF-1.7\n%binary")))
	assert.Equal(t, "1.4", pdfVersion([]byte("%PDF-1.4\r\nrest")))
}
