package orientation

import (
	"fmt"
	"math"
	"strings"

	"github.com/arbovm/levenshtein"
	"gocv.io/x/gocv"

	"github.com/cunyap/pypocquant/internal/imgproc"
	"github.com/cunyap/pypocquant/internal/ocr"
)

// OCRStrategy reads a known label text printed on one side of the
// cassette. The text may only be legible at one of the four cardinal
// rotations; its position in that view tells us whether the strip is
// flipped.
type OCRStrategy struct {
	Engine *ocr.Engine
	// Text is the label to search for, e.g. the assay name.
	Text string
	// OnRight states on which side of an upright strip the label sits.
	OnRight bool
}

// Name implements Strategy.
func (o *OCRStrategy) Name() string { return "ocr" }

// Evaluate implements Strategy.
func (o *OCRStrategy) Evaluate(gray gocv.Mat) (Decision, error) {
	d := Decision{Method: o.Name()}
	if o.Text == "" {
		return d, nil
	}
	if gray.Empty() {
		return d, fmt.Errorf("empty strip image")
	}

	for _, degrees := range []int{0, 90, 270, 180} {
		rotated := imgproc.RotateQuadrant(gray, degrees)
		words, err := o.Engine.Words(rotated)
		w, h := rotated.Cols(), rotated.Rows()
		rotated.Close()
		if err != nil {
			return d, err
		}

		for _, word := range words {
			if !matchesLabel(word.Text, o.Text) {
				continue
			}
			center := word.Bounds.Center()
			d.Rotate = o.wrongSide(degrees, center.X, center.Y, w, h)
			d.Confidence = word.Confidence / 100
			if d.Confidence > 1 {
				d.Confidence = 1
			}
			return d, nil
		}
	}
	return d, nil
}

// wrongSide reports whether the label position, observed at the given
// test rotation, implies the strip is facing the wrong way.
func (o *OCRStrategy) wrongSide(degrees, cx, cy, w, h int) bool {
	switch degrees {
	case 0:
		if o.OnRight {
			return cx < w/2
		}
		return cx > w/2
	case 90:
		// Right is now down.
		if o.OnRight {
			return cy < h/2
		}
		return cy > h/2
	case 270:
		// Right is now up.
		if o.OnRight {
			return cy > h/2
		}
		return cy < h/2
	default:
		// Legible only after a 180 flip: the label shows up on its
		// true side, so finding it there means the strip is flipped.
		if o.OnRight {
			return cx > w/2
		}
		return cx < w/2
	}
}

// matchesLabel accepts OCR tokens containing the label, tolerating up
// to a quarter of the label being misread.
func matchesLabel(token, label string) bool {
	token = strings.ToUpper(strings.TrimSpace(token))
	label = strings.ToUpper(label)
	if token == "" {
		return false
	}
	if strings.Contains(token, label) {
		return true
	}
	maxDist := int(math.Ceil(float64(len(label)) / 4))
	return levenshtein.Distance(token, label) <= maxDist
}
