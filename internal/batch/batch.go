// Package batch drives the per-image pipeline over whole folders with
// bounded parallelism and writes the combined results.
package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cunyap/pypocquant/internal/config"
	"github.com/cunyap/pypocquant/internal/imgio"
	"github.com/cunyap/pypocquant/internal/pipeline"
)

// ResultsCSV is the name of the combined results table in the results
// folder.
const ResultsCSV = "quantification_data.csv"

// SettingsSnapshot is the copy of the configuration an analysis ran
// with, for reproducibility.
const SettingsSnapshot = "settings_snapshot.json"

// LogFile receives the per-image processing log.
const LogFile = "log.txt"

// Run processes every supported image in inputDir and writes the
// results table, the processing log and a settings snapshot to
// resultsDir. One record is produced per input file regardless of
// per-image failures; only infrastructure errors abort the batch.
func Run(ctx context.Context, cfg config.Config, inputDir, resultsDir string, log *logrus.Logger) error {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return fmt.Errorf("create results folder: %w", err)
	}

	files, err := imgio.ListImages(inputDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported images in %s", inputDir)
	}

	if err := config.Save(cfg, filepath.Join(resultsDir, SettingsSnapshot)); err != nil {
		return err
	}

	logFile, err := os.Create(filepath.Join(resultsDir, LogFile))
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}
	defer logFile.Close()
	prevOut := log.Out
	log.SetOutput(io.MultiWriter(prevOut, logFile))
	defer log.SetOutput(prevOut)

	log.WithFields(logrus.Fields{
		"images":  len(files),
		"workers": cfg.Workers,
	}).Info("starting batch")

	// Each worker owns one processor; OCR and QR decoding contexts are
	// not shareable.
	pool := make(chan *pipeline.Processor, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		proc, err := pipeline.NewProcessor(cfg, resultsDir, log)
		if err != nil {
			close(pool)
			for p := range pool {
				p.Close()
			}
			return err
		}
		pool <- proc
	}
	defer func() {
		close(pool)
		for p := range pool {
			p.Close()
		}
	}()

	records := make([]*pipeline.Record, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, name := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			proc := <-pool
			defer func() { pool <- proc }()
			records[i] = processSafely(gctx, proc, filepath.Join(inputDir, name), log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Deterministic output order whatever the workers did.
	sort.Slice(records, func(a, b int) bool {
		return records[a].Filename < records[b].Filename
	})

	if err := WriteResults(filepath.Join(resultsDir, ResultsCSV), records, cfg.BandNames); err != nil {
		return err
	}
	log.WithField("records", len(records)).Info("batch finished")
	return nil
}

// processSafely isolates the batch from anything a single image can
// throw at it; a panicking stage yields an unrecoverable record.
func processSafely(ctx context.Context, proc *pipeline.Processor, path string, log *logrus.Logger) (rec *pipeline.Record) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"file":  filepath.Base(path),
				"panic": r,
			}).Error("image processing aborted")
			rec = unrecoverableRecord(path)
		}
	}()
	return proc.Process(ctx, path)
}

func unrecoverableRecord(path string) *pipeline.Record {
	filename := filepath.Base(path)
	ext := filepath.Ext(filename)
	return &pipeline.Record{
		Filename:  filename,
		Extension: ext,
		Basename:  filename[:len(filename)-len(ext)],
		Bands:     map[string]pipeline.BandResult{},
		Issue:     pipeline.IssueUnrecoverable,
	}
}
