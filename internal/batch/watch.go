package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/cunyap/pypocquant/internal/config"
	"github.com/cunyap/pypocquant/internal/imgio"
	"github.com/cunyap/pypocquant/internal/pipeline"
)

// settleDelay is how long a new file must keep its size before it is
// considered fully written. Cameras and network shares deliver images
// in chunks.
const settleDelay = 500 * time.Millisecond

// Watch processes images as they appear in inputDir, appending each
// record to the results table until the context is cancelled.
func Watch(ctx context.Context, cfg config.Config, inputDir, resultsDir string, log *logrus.Logger) error {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return fmt.Errorf("create results folder: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(inputDir); err != nil {
		return fmt.Errorf("watch %s: %w", inputDir, err)
	}

	proc, err := pipeline.NewProcessor(cfg, resultsDir, log)
	if err != nil {
		return err
	}
	defer proc.Close()

	out, err := newAppendWriter(filepath.Join(resultsDir, ResultsCSV), cfg.BandNames)
	if err != nil {
		return err
	}
	defer out.Close()

	log.WithField("folder", inputDir).Info("watching for new images")

	seen := newDedup()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watcher error")
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !imgio.IsSupported(event.Name) || !seen.shouldProcess(event.Name, time.Now()) {
				continue
			}
			if !waitSettled(ctx, event.Name) {
				continue
			}

			rec := processSafely(ctx, proc, event.Name, log)
			seen.mark(event.Name, time.Now())
			if err := out.Append(rec); err != nil {
				return err
			}
		}
	}
}

// reprocessWindow is how long after handling a file its trailing burst
// of Create and Write events is ignored. A write landing later than
// this is new content and the file is processed again.
const reprocessWindow = 2 * settleDelay

// pruneAfter bounds the event bookkeeping over long watch sessions.
const pruneAfter = time.Minute

// dedup collapses the event bursts a single file delivery produces.
type dedup struct {
	handled map[string]time.Time
}

func newDedup() *dedup {
	return &dedup{handled: map[string]time.Time{}}
}

// shouldProcess reports whether an event for the file at now warrants
// processing.
func (d *dedup) shouldProcess(name string, now time.Time) bool {
	t, ok := d.handled[name]
	return !ok || now.Sub(t) >= reprocessWindow
}

// mark records that the file was just processed and evicts stale
// entries.
func (d *dedup) mark(name string, now time.Time) {
	d.handled[name] = now
	for n, t := range d.handled {
		if now.Sub(t) > pruneAfter {
			delete(d.handled, n)
		}
	}
}

// waitSettled waits until the file stops growing. Returns false if the
// file disappeared or the context was cancelled.
func waitSettled(ctx context.Context, path string) bool {
	var lastSize int64 = -1
	for {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() == lastSize {
			return true
		}
		lastSize = info.Size()

		select {
		case <-ctx.Done():
			return false
		case <-time.After(settleDelay):
		}
	}
}
