package orientation

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/cunyap/pypocquant/internal/imgproc"
	"github.com/cunyap/pypocquant/pkg/geometry"
)

// HoughStrategy looks for the circular sample inlet of the cassette.
// The inlet sits on one known side of the sensor; if the strongest
// circle evidence is on the other side, the strip is flipped.
type HoughStrategy struct {
	// Rects parameterizes the left/right search rectangles, see
	// SearchRects.
	Rects [3]float64
	// Stretch applies a 1..99 percentile contrast stretch before the
	// circle detection.
	Stretch bool
}

// Name implements Strategy.
func (h *HoughStrategy) Name() string { return "hough" }

// Circles detected beyond this rank carry too little accumulator
// support to be trusted.
const maxCircles = 30

// Evaluate implements Strategy.
func (h *HoughStrategy) Evaluate(gray gocv.Mat) (Decision, error) {
	if gray.Empty() {
		return Decision{}, fmt.Errorf("empty strip image")
	}

	left, right := SearchRects(gray.Cols(), gray.Rows(), h.Rects)
	work := h.preprocess(gray)
	defer work.Close()

	minRadius := int(0.15 * float64(gray.Rows()) * h.Rects[0])
	maxRadius := int(0.30 * float64(gray.Rows()) * h.Rects[0])

	circles := gocv.NewMat()
	defer circles.Close()
	gocv.HoughCirclesWithParams(
		work, &circles, gocv.HoughGradient,
		1, 1, 75, 20, minRadius, maxRadius)

	voteLeft, voteRight := weighedVotes(circles, left, right)

	d := Decision{Method: h.Name(), Rotate: voteRight > voteLeft}
	if total := voteLeft + voteRight; total > 0 {
		d.Confidence = math.Abs(voteRight-voteLeft) / total
	}
	return d, nil
}

// preprocess emphasizes circular edges: median blur against sensor
// noise, Laplacian edge response, dilation and an edge-preserving
// smooth.
func (h *HoughStrategy) preprocess(gray gocv.Mat) gocv.Mat {
	work := gray.Clone()
	if h.Stretch {
		stretched := imgproc.StretchPercentiles(work, 1, 99)
		work.Close()
		work = stretched
	}

	blurred := gocv.NewMat()
	gocv.MedianBlur(work, &blurred, 13)
	work.Close()

	edges := gocv.NewMat()
	gocv.Laplacian(blurred, &edges, gocv.MatTypeCV8U, 5, 1, 0, gocv.BorderDefault)
	blurred.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()
	dilated := gocv.NewMat()
	gocv.Dilate(edges, &dilated, kernel)
	edges.Close()

	smoothed := gocv.NewMat()
	gocv.BilateralFilter(dilated, &smoothed, 5, 9, 9)
	dilated.Close()
	return smoothed
}

// weighedVotes accumulates, for each side, circle votes weighted by
// their closeness to the rectangle center.
func weighedVotes(circles gocv.Mat, left, right geometry.RectInt) (float64, float64) {
	voteLeft, voteRight := 0.0, 0.0
	if circles.Empty() {
		return voteLeft, voteRight
	}

	leftRect := left.ToFloat()
	rightRect := right.ToFloat()

	n := circles.Cols()
	if n > maxCircles {
		n = maxCircles
	}
	for i := 0; i < n; i++ {
		v := circles.GetVecfAt(0, i)
		center := geometry.NewPoint2D(float64(v[0]), float64(v[1]))

		if leftRect.Contains(center) {
			w := 1 - center.Distance(leftRect.Center())/leftRect.HalfDiagonal()
			voteLeft += w
		}
		if rightRect.Contains(center) {
			w := 1 - center.Distance(rightRect.Center())/rightRect.HalfDiagonal()
			voteRight += w
		}
	}
	return voteLeft, voteRight
}
