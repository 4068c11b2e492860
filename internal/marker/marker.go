// Package marker locates the printed QR registration markers on a strip
// photograph, derives the template alignment from their positions and
// decodes the sample identifier payload.
package marker

import (
	"math"
	"strings"

	"gocv.io/x/gocv"

	"github.com/cunyap/pypocquant/internal/imgproc"
	"github.com/cunyap/pypocquant/pkg/geometry"
)

// Template marker payloads. The four corner markers and TL_P anchor the
// strip box; L_G and R_G are present on the template but carry no
// information.
const (
	PayloadTL  = "TL"
	PayloadTR  = "TR"
	PayloadBL  = "BL"
	PayloadBR  = "BR"
	PayloadTLP = "TL_P"
	PayloadLG  = "L_G"
	PayloadRG  = "R_G"
)

// MaxScore is the number of payloads contributing to the detection
// score: the four corners, TL_P and the sample identifier.
const MaxScore = 6

// Detection is a single decoded marker with its position on the full
// resolution image.
type Detection struct {
	Payload string
	Bounds  geometry.Rect
}

// Center returns the centroid of the marker.
func (d Detection) Center() geometry.Point2D {
	return d.Bounds.Center()
}

// Set is the outcome of one decode pass over an image.
type Set struct {
	Detections []Detection
	Sample     SampleInfo
	Score      int

	// Winning decode strategy, for the log.
	Scaling      float64
	LowerPercent float64
	UpperPercent float64
}

// Find returns the first detection with the given payload, or nil.
func (s *Set) Find(payload string) *Detection {
	for i := range s.Detections {
		if s.Detections[i].Payload == payload {
			return &s.Detections[i]
		}
	}
	return nil
}

// Decoder finds and decodes QR markers. It is not safe for concurrent
// use; each pipeline worker owns its own instance.
type Decoder struct {
	det gocv.QRCodeDetector
}

// NewDecoder creates a marker decoder.
func NewDecoder() *Decoder {
	return &Decoder{det: gocv.NewQRCodeDetector()}
}

// Close releases detector resources.
func (d *Decoder) Close() {
	d.det.Close()
}

var (
	scalings      = []float64{0.25, 0.5, 1.0}
	lowerPercents = []float64{0, 5, 15, 25, 35}
	upperPercents = []float64{100, 98, 95, 92, 89}
)

// DecodeBest runs the decoder over a grid of image rescalings and
// intensity-percentile stretches and returns the detection set with the
// highest score. The search stops early once all markers are found.
// Detection positions always refer to the full-resolution image.
func (d *Decoder) DecodeBest(img gocv.Mat) *Set {
	gray := imgproc.ToGray(img)
	defer gray.Close()

	best := &Set{Score: -1, Scaling: 1.0, UpperPercent: 100}

	for _, scaling := range scalings {
		resized := gray.Clone()
		if scaling != 1.0 {
			resized.Close()
			resized = imgproc.Rescale(gray, scaling)
		}

		for _, lb := range lowerPercents {
			for _, ub := range upperPercents {
				stretched := imgproc.StretchPercentiles(resized, lb, ub)
				set := d.decodeOne(stretched)
				stretched.Close()

				set.Scaling = scaling
				set.LowerPercent = lb
				set.UpperPercent = ub
				rescaleDetections(set, 1.0/scaling)

				if set.Score > best.Score {
					best = set
				}
				if best.Score == MaxScore {
					resized.Close()
					return best
				}
			}
		}
		resized.Close()
	}
	return best
}

// decodeOne runs a single detection pass and scores the result.
func (d *Decoder) decodeOne(gray gocv.Mat) *Set {
	var decoded []string
	points := gocv.NewMat()
	defer points.Close()
	var codes []gocv.Mat

	set := &Set{}
	if !d.det.DetectAndDecodeMulti(gray, &decoded, &points, &codes) {
		return set
	}
	for i := range codes {
		codes[i].Close()
	}

	for i, payload := range decoded {
		det := Detection{
			Payload: strings.ToUpper(strings.TrimSpace(payload)),
			Bounds:  cornerBounds(points, i),
		}

		switch det.Payload {
		case PayloadTL, PayloadTR, PayloadBL, PayloadBR, PayloadTLP:
			set.Score++
		case PayloadLG, PayloadRG:
			// Present on the template but not scored.
		case "":
			// Marker localized but not decoded.
			continue
		default:
			if info, ok := ParseSampleText(det.Payload); ok {
				set.Sample = set.Sample.Merge(info)
				set.Score++
			}
		}
		set.Detections = append(set.Detections, det)
	}
	return set
}

// cornerBounds converts the 4 corner points of detection i into an
// axis-aligned bounding rectangle.
func cornerBounds(points gocv.Mat, i int) geometry.Rect {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for j := 0; j < 4; j++ {
		v := points.GetVecfAt(i, j)
		x, y := float64(v[0]), float64(v[1])
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
	}
	return geometry.NewRect(minX, minY, maxX-minX, maxY-minY)
}

func rescaleDetections(set *Set, factor float64) {
	if factor == 1.0 {
		return
	}
	for i := range set.Detections {
		b := &set.Detections[i].Bounds
		b.X *= factor
		b.Y *= factor
		b.Width *= factor
		b.Height *= factor
	}
}
