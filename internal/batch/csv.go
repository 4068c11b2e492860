package batch

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/cunyap/pypocquant/internal/pipeline"
)

// WriteResults writes the records as a CSV table with a fixed column
// order derived from the configured band names.
func WriteResults(path string, records []*pipeline.Record, bandNames []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results table: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(pipeline.Header(bandNames)); err != nil {
		return fmt.Errorf("write results header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write(rec.Row(bandNames)); err != nil {
			return fmt.Errorf("write result row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush results table: %w", err)
	}
	return nil
}

// appendWriter appends records to an existing results table, creating
// it with a header if needed. Used by the watch mode.
type appendWriter struct {
	f         *os.File
	w         *csv.Writer
	bandNames []string
}

func newAppendWriter(path string, bandNames []string) (*appendWriter, error) {
	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results table: %w", err)
	}
	aw := &appendWriter{f: f, w: csv.NewWriter(f), bandNames: bandNames}
	if fresh {
		if err := aw.w.Write(pipeline.Header(bandNames)); err != nil {
			f.Close()
			return nil, fmt.Errorf("write results header: %w", err)
		}
		aw.w.Flush()
	}
	return aw, nil
}

func (aw *appendWriter) Append(rec *pipeline.Record) error {
	if err := aw.w.Write(rec.Row(aw.bandNames)); err != nil {
		return fmt.Errorf("append result row: %w", err)
	}
	aw.w.Flush()
	return aw.w.Error()
}

func (aw *appendWriter) Close() error {
	aw.w.Flush()
	return aw.f.Close()
}
