// Package ocr provides text recognition for strip labels and sample
// identifiers using Tesseract.
package ocr

import (
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"

	"github.com/cunyap/pypocquant/pkg/geometry"
)

// Word is one recognized text fragment with its location.
type Word struct {
	Text       string
	Bounds     geometry.RectInt
	Confidence float64
}

// Engine wraps a Tesseract client. An Engine is not safe for concurrent
// use; each pipeline worker owns its own instance.
type Engine struct {
	client *gosseract.Client
}

// NewEngine creates a new OCR engine.
func NewEngine() (*Engine, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("set OCR language: %w", err)
	}

	// Strip labels and sample identifiers are not dictionary words;
	// disable dictionary-based correction so they are not "fixed".
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	return &Engine{client: client}, nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Words recognizes all text fragments in the image and returns them with
// their bounding boxes.
func (e *Engine) Words(img gocv.Mat) ([]Word, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode image for OCR: %w", err)
	}
	defer buf.Close()

	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return nil, fmt.Errorf("set OCR image: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("OCR bounding boxes: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		words = append(words, Word{
			Text: text,
			Bounds: geometry.RectInt{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
			Confidence: b.Confidence,
		})
	}
	return words, nil
}
