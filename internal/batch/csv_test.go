package batch

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cunyap/pypocquant/internal/pipeline"
)

func sampleRecords() []*pipeline.Record {
	return []*pipeline.Record{
		{
			FID:      "F0000001",
			Filename: "a.jpg",
			Issue:    pipeline.IssueNone,
			Bands: map[string]pipeline.BandResult{
				"igm": {Detected: true, Signal: 100, Ratio: 0.5},
				"ctl": {Detected: true, Signal: 200, Ratio: 1},
			},
			SensorScore: 1,
			User:        "jdoe",
		},
		{
			Filename: "b.jpg",
			Issue:    pipeline.IssueUnrecoverable,
			Bands:    map[string]pipeline.BandResult{},
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ResultsCSV)
	names := []string{"igm", "ctl"}
	require.NoError(t, WriteResults(path, sampleRecords(), names))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, pipeline.Header(names), rows[0])

	col := map[string]int{}
	for i, name := range rows[0] {
		col[name] = i
	}
	assert.Equal(t, "F0000001", rows[1][col["fid"]])
	assert.Equal(t, "0", rows[1][col["issue"]])
	assert.Equal(t, "7", rows[2][col["issue"]])
	assert.Equal(t, "b.jpg", rows[2][col["filename"]])
}

func TestAppendWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), ResultsCSV)
	names := []string{"igm", "ctl"}
	recs := sampleRecords()

	aw, err := newAppendWriter(path, names)
	require.NoError(t, err)
	require.NoError(t, aw.Append(recs[0]))
	require.NoError(t, aw.Close())

	// Reopening must not duplicate the header.
	aw, err = newAppendWriter(path, names)
	require.NoError(t, err)
	require.NoError(t, aw.Append(recs[1]))
	require.NoError(t, aw.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, pipeline.Header(names), rows[0])
	assert.NotEqual(t, rows[0], rows[1])
}

func TestUnrecoverableRecord(t *testing.T) {
	rec := unrecoverableRecord("/data/run1/IMG_0042.JPG")
	assert.Equal(t, "IMG_0042.JPG", rec.Filename)
	assert.Equal(t, ".JPG", rec.Extension)
	assert.Equal(t, "IMG_0042", rec.Basename)
	assert.Equal(t, pipeline.IssueUnrecoverable, rec.Issue)
}
