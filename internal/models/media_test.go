package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressFraction(t *testing.T) {
	assert.InDelta(t, 0.25, Progress{ProcessedBytes: 25, TotalBytes: 100, Processed: 9, Total: 10}.Fraction(), 1e-9)
	assert.InDelta(t, 0.5, Progress{Processed: 1, Total: 2}.Fraction(), 1e-9)
	assert.InDelta(t, 1.0, Progress{}.Fraction(), 1e-9)
}

func TestImportStatsAdd(t *testing.T) {
	total := ImportStats{Imported: 1, BytesImported: 10}
	total.Add(ImportStats{Imported: 2, Duplicates: 3, Failed: 1, Remaining: 4, BytesImported: 5})
	assert.Equal(t, ImportStats{Imported: 3, Duplicates: 3, Failed: 1, Remaining: 4, BytesImported: 15}, total)
}
