package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksmarkov/docpulse/internal/model"
)

func TestDispatchCoversAllDeclaredTypes(t *testing.T) {
	for _, ft := range []model.FileType{model.TypePDF, model.TypeImage, model.TypeCSV, model.TypeExcel} {
		fn, ok := ForType(ft)
		require.True(t, ok, string(ft))
		require.NotNil(t, fn, string(ft))
	}
}

func TestDispatchUnknownType(t *testing.T) {
	_, ok := ForType(model.FileType("docx"))
	assert.False(t, ok)
}

func TestRegistryIsACopy(t *testing.T) {
	reg := Registry()
	delete(reg, model.TypePDF)

	_, ok := ForType(model.TypePDF)
	assert.True(t, ok)
}

func TestRowsToRecords(t *testing.T) {
	records := rowsToRecords([]string{"a", "b"}, [][]string{
		{"1", "2"},
		{"", ""},
		{"3", "4", "extra ignored"},
	})
	require.Len(t, records, 2)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, records[0])
	assert.Equal(t, map[string]string{"a": "3", "b": "4"}, records[1])
}
