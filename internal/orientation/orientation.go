// Package orientation decides whether the strip was placed facing the
// wrong way and needs a 180 degree flip. Detection approaches are
// modeled as ordered strategies so each can be tested on its own.
package orientation

import (
	"gocv.io/x/gocv"

	"github.com/cunyap/pypocquant/internal/imgproc"
	"github.com/cunyap/pypocquant/pkg/geometry"
)

// Decision is the outcome of one strategy evaluation.
type Decision struct {
	Method     string
	Rotate     bool
	Confidence float64
}

// Strategy inspects the strip in its current orientation and votes on
// whether it should be flipped.
type Strategy interface {
	Name() string
	Evaluate(gray gocv.Mat) (Decision, error)
}

// Corrector runs strategies in order, flipping the working images
// whenever a strategy asks for it. Later strategies see the orientation
// produced by earlier ones.
type Corrector struct {
	strategies []Strategy
}

// NewCorrector creates a corrector over the given strategies.
func NewCorrector(strategies ...Strategy) *Corrector {
	return &Corrector{strategies: strategies}
}

// Correct returns possibly flipped copies of the gray and color strip
// together with the decisions taken. The caller owns the returned Mats.
// A failing strategy is skipped; its decision carries zero confidence.
func (c *Corrector) Correct(gray, strip gocv.Mat) (gocv.Mat, gocv.Mat, []Decision) {
	outGray := gray.Clone()
	outStrip := strip.Clone()
	decisions := make([]Decision, 0, len(c.strategies))

	for _, s := range c.strategies {
		d, err := s.Evaluate(outGray)
		if err != nil {
			decisions = append(decisions, Decision{Method: s.Name()})
			continue
		}
		if d.Rotate {
			flippedGray := imgproc.RotateQuadrant(outGray, 180)
			flippedStrip := imgproc.RotateQuadrant(outStrip, 180)
			outGray.Close()
			outStrip.Close()
			outGray = flippedGray
			outStrip = flippedStrip
		}
		decisions = append(decisions, d)
	}
	return outGray, outStrip, decisions
}

// SearchRects computes the two candidate rectangles left and right of
// the strip center that are scanned for the round sample inlet.
// props[0] is the relative rectangle height, props[1] the relative
// inner cut-off from the center and props[2] the relative outer
// cut-off from the border.
func SearchRects(width, height int, props [3]float64) (left, right geometry.RectInt) {
	heightFactor := props[0]
	centerCut := int(props[1]*float64(width) + 0.5)
	borderCut := int(props[2]*float64(width) + 0.5)

	rectH := int(float64(height)*heightFactor + 0.5)
	rectY := int(float64(height)/2 - float64(height)*heightFactor/2 + 0.5)
	rectW := width/2 - centerCut - borderCut

	left = geometry.RectInt{X: borderCut, Y: rectY, Width: rectW, Height: rectH}
	right = geometry.RectInt{X: width/2 + centerCut, Y: rectY, Width: rectW, Height: rectH}
	return left, right
}
