package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueCSVValue(t *testing.T) {
	assert.Equal(t, "0", IssueNone.CSVValue())
	assert.Equal(t, "1", IssueBarcodeExtractionFailed.CSVValue())
	assert.Equal(t, "2", IssueFIDExtractionFailed.CSVValue())
	assert.Equal(t, "3", IssuePoorAlignment.CSVValue())
	assert.Equal(t, "4", IssueSensorExtractionFailed.CSVValue())
	assert.Equal(t, "5", IssueBandQuantificationFailed.CSVValue())
	assert.Equal(t, "6", IssueControlBandMissing.CSVValue())
	assert.Equal(t, "7", IssueUnrecoverable.CSVValue())
}

func TestIssueString(t *testing.T) {
	assert.Equal(t, "none", IssueNone.String())
	assert.Equal(t, "control band missing", IssueControlBandMissing.String())
	assert.Equal(t, "unrecoverable failure", IssueUnrecoverable.String())
}

func TestHeaderOrder(t *testing.T) {
	cols := Header([]string{"igm", "igg", "ctl"})

	assert.Equal(t, "fid", cols[0])
	assert.Equal(t, []string{"igm", "igm_abs", "igm_ratio"}, cols[14:17])
	assert.Equal(t, []string{"sensor_score", "issue", "user"}, cols[len(cols)-3:])
	assert.Len(t, cols, 14+3*3+3)
}

func TestRowMatchesHeader(t *testing.T) {
	names := []string{"igm", "ctl"}
	rec := &Record{
		FID:         "F0123456",
		FIDNum:      "0123456",
		Filename:    "IMG_0001.JPG",
		Extension:   ".JPG",
		Basename:    "IMG_0001_JPG",
		User:        "jdoe",
		SensorScore: 0.97,
		Issue:       IssueNone,
		Bands: map[string]BandResult{
			"igm": {Detected: true, Signal: 1234.5, Ratio: 0.8},
			"ctl": {Detected: true, Signal: 1500, Ratio: 1},
		},
	}

	header := Header(names)
	row := rec.Row(names)
	require.Len(t, row, len(header))

	byName := map[string]string{}
	for i, col := range header {
		byName[col] = row[i]
	}
	assert.Equal(t, "F0123456", byName["fid"])
	assert.Equal(t, "1", byName["igm"])
	assert.Equal(t, "1234.5", byName["igm_abs"])
	assert.Equal(t, "0.8", byName["igm_ratio"])
	assert.Equal(t, "1", byName["ctl_ratio"])
	assert.Equal(t, "0.97", byName["sensor_score"])
	assert.Equal(t, "0", byName["issue"])
	assert.Equal(t, "jdoe", byName["user"])
}

func TestRowMissingBand(t *testing.T) {
	names := []string{"igm", "ctl"}
	rec := &Record{
		Issue: IssueControlBandMissing,
		Bands: map[string]BandResult{
			"igm": {Detected: true, Signal: 900},
		},
	}

	header := Header(names)
	row := rec.Row(names)
	byName := map[string]string{}
	for i, col := range header {
		byName[col] = row[i]
	}
	assert.Equal(t, "0", byName["ctl"])
	assert.Equal(t, "0", byName["ctl_abs"])
	assert.Equal(t, "6", byName["issue"])
}
