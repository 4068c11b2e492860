package marker

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/cunyap/pypocquant/pkg/geometry"
)

// CoarseOrientation determines from the relative corner marker
// positions whether the photograph was taken sideways or upside down.
// It returns the clockwise rotation in degrees (0, 90, 180 or 270)
// needed to bring the template upright, and false if the orientation
// could not be established.
func CoarseOrientation(set *Set) (int, bool) {
	tl := firstCenter(set, PayloadTL, PayloadTLP)
	bl := firstCenter(set, PayloadBL, PayloadLG)
	br := firstCenter(set, PayloadBR, PayloadRG)
	tr := firstCenter(set, PayloadTR)

	// TR can be reconstructed from the other three corners.
	if tr == nil && tl != nil && bl != nil && br != nil {
		p := tl.Add(br.Sub(*bl))
		tr = &p
	}

	if tl != nil && tr != nil && bl != nil && br != nil {
		switch {
		case tl.X < tr.X && tl.Y < bl.Y && tl.X < br.X && tl.Y < br.Y:
			return 0, true
		case tr.X < br.X && tr.Y < tl.Y && tr.X < bl.X && tr.Y < bl.Y:
			return 90, true
		case br.X < bl.X && br.Y < tr.Y && br.X < tl.X && br.Y < tl.Y:
			return 180, true
		case bl.X < tl.X && bl.Y < br.Y && bl.X < tr.X && bl.Y < tr.Y:
			return 270, true
		}
	}

	// Fall back to comparing the mean positions of the left/right and
	// top/bottom marker groups. This can misjudge strongly tilted
	// photographs but handles partially decoded ones.
	left, okL := meanAxis(set, false, PayloadTLP, PayloadTL, PayloadBL, PayloadLG)
	right, okR := meanAxis(set, false, PayloadTR, PayloadBR, PayloadRG)
	top, okT := meanAxis(set, true, PayloadTLP, PayloadTL, PayloadTR)
	bottom, okB := meanAxis(set, true, PayloadBL, PayloadBR, PayloadLG, PayloadRG)
	if !okL || !okR || !okT || !okB {
		return 0, false
	}

	switch {
	case left < right && top < bottom:
		return 0, true
	case left > right && top > bottom:
		return 180, true
	case left > right && top < bottom:
		return 270, true
	case left < right && top > bottom:
		return 90, true
	}
	return 0, false
}

func firstCenter(set *Set, payloads ...string) *geometry.Point2D {
	for _, p := range payloads {
		if det := set.Find(p); det != nil {
			c := det.Center()
			return &c
		}
	}
	return nil
}

func meanAxis(set *Set, vertical bool, payloads ...string) (float64, bool) {
	sum := 0.0
	n := 0
	for _, p := range payloads {
		if det := set.Find(p); det != nil {
			if vertical {
				sum += det.Bounds.Y
			} else {
				sum += det.Bounds.X
			}
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// RotationFit is the estimated in-plane rotation of the template.
type RotationFit struct {
	// Angle is the correction to apply with imgproc.RotateBound.
	Angle float64
	// Residual is the per-pair RMS deviation from the fitted angle, in
	// degrees. High values indicate inconsistent marker positions.
	Residual float64
	// Pairs is the number of marker pairs that entered the fit.
	Pairs int
}

// markerPair describes two payloads with a known geometric relation on
// the template: either horizontally or vertically aligned.
type markerPair struct {
	a, b     string
	vertical bool
}

var rotationPairs = []markerPair{
	{PayloadBL, PayloadBR, false},
	{PayloadTL, PayloadTR, false},
	{PayloadTL, PayloadBL, true},
	{PayloadTR, PayloadBR, true},
}

// FitRotation estimates the template tilt with a least-squares fit over
// all decoded marker pairs, weighting each pair by its baseline length.
// It returns false if no usable pair was decoded.
func FitRotation(set *Set) (RotationFit, bool) {
	var angles, weights []float64

	for _, pair := range rotationPairs {
		a := firstCenter(set, pair.a)
		b := firstCenter(set, pair.b)
		if a == nil || b == nil {
			continue
		}
		angle := math.Atan2(b.Y-a.Y, b.X-a.X) * 180 / math.Pi
		if pair.vertical {
			angle -= 90
		}
		angles = append(angles, angle)
		weights = append(weights, a.Distance(*b))
	}
	if len(angles) == 0 {
		return RotationFit{}, false
	}

	mean := stat.Mean(angles, weights)
	residual := 0.0
	if len(angles) > 1 {
		residual = stat.StdDev(angles, weights)
	}
	return RotationFit{
		Angle:    mean,
		Residual: residual,
		Pairs:    len(angles),
	}, true
}

// StripBox is the cropped region containing the strip and its corner
// markers.
type StripBox struct {
	Rect geometry.RectInt
	// QRWidth and QRHeight are the median marker extents including the
	// configured border, usable to mask the markers out of the crop.
	QRWidth  int
	QRHeight int
}

// FindStripBox computes the strip box from the corner marker positions.
// Each decoded corner contributes its outer edge coordinates expanded
// by border pixels; the box edges are the medians of the candidates.
func FindStripBox(set *Set, border, imgWidth, imgHeight int) (StripBox, error) {
	var x0s, x1s, y0s, y1s []float64
	var widths, heights []float64

	b := float64(border)
	for _, det := range set.Detections {
		r := det.Bounds
		switch det.Payload {
		case PayloadTL:
			x0s = append(x0s, r.X-b)
			y0s = append(y0s, r.Y-b)
		case PayloadTR:
			x1s = append(x1s, r.X+r.Width+b)
			y0s = append(y0s, r.Y-b)
		case PayloadBL:
			x0s = append(x0s, r.X-b)
			y1s = append(y1s, r.Y+r.Height+b)
		case PayloadBR:
			x1s = append(x1s, r.X+r.Width+b)
			y1s = append(y1s, r.Y+r.Height+b)
		default:
			continue
		}
		widths = append(widths, r.Width+2*b)
		heights = append(heights, r.Height+2*b)
	}

	if len(x0s) == 0 || len(x1s) == 0 || len(y0s) == 0 || len(y1s) == 0 {
		return StripBox{}, fmt.Errorf("not enough corner markers to determine the strip box")
	}

	x0 := median(x0s)
	x1 := median(x1s)
	y0 := median(y0s)
	y1 := median(y1s)
	if x1 <= x0 || y1 <= y0 {
		return StripBox{}, fmt.Errorf("degenerate strip box from corner markers")
	}

	rect := geometry.RectInt{
		X:      int(x0),
		Y:      int(y0),
		Width:  int(x1 - x0),
		Height: int(y1 - y0),
	}.Clamp(imgWidth, imgHeight)
	if rect.Empty() {
		return StripBox{}, fmt.Errorf("strip box lies outside the image")
	}

	return StripBox{
		Rect:     rect,
		QRWidth:  int(median(widths)),
		QRHeight: int(median(heights)),
	}, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
