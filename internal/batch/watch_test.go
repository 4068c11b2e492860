package batch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cunyap/pypocquant/internal/config"
)

func TestDedupCollapsesBurstAllowsRewrite(t *testing.T) {
	d := newDedup()
	now := time.Now()

	require.True(t, d.shouldProcess("a.png", now))
	d.mark("a.png", now)

	// Trailing events of the same delivery are swallowed.
	assert.False(t, d.shouldProcess("a.png", now.Add(reprocessWindow/2)))
	// A rewrite after the window is new content.
	assert.True(t, d.shouldProcess("a.png", now.Add(reprocessWindow)))
	assert.True(t, d.shouldProcess("b.png", now))
}

func TestDedupEvictsStaleEntries(t *testing.T) {
	d := newDedup()
	now := time.Now()

	d.mark("a.png", now)
	d.mark("b.png", now.Add(pruneAfter+time.Second))

	assert.Len(t, d.handled, 1)
	assert.True(t, d.shouldProcess("a.png", now.Add(pruneAfter+time.Second)))
	assert.False(t, d.shouldProcess("b.png", now.Add(pruneAfter+time.Second)))
}

func TestWatchProcessesNewImage(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()

	cfg := config.Default()
	cfg.QC = false
	cfg.Normalize()
	require.NoError(t, cfg.Validate())

	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, cfg, inDir, outDir, log) }()

	frame := image.NewRGBA(image.Rect(0, 0, 600, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 600; x++ {
			frame.Set(x, y, color.RGBA{R: 240, G: 240, B: 240, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, frame))

	imgPath := filepath.Join(inDir, "strip.png")
	csvPath := filepath.Join(outDir, ResultsCSV)

	// Rewrite on every tick so the watcher sees the file no matter when
	// it came up.
	require.Eventually(t, func() bool {
		if err := os.WriteFile(imgPath, buf.Bytes(), 0o644); err != nil {
			return false
		}
		data, err := os.ReadFile(csvPath)
		return err == nil && strings.Contains(string(data), "strip.png")
	}, 20*time.Second, 250*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
