package sensor

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/cunyap/pypocquant/internal/bands"
	"github.com/cunyap/pypocquant/internal/imgproc"
	"github.com/cunyap/pypocquant/pkg/geometry"
)

// Result is an extracted measurement window. The window is inverted so
// that the dark bands appear as bright peaks.
type Result struct {
	Window gocv.Mat
	Coords geometry.RectInt
	// Score is the registration confidence in [0, 1]; direct placement
	// reports 1.
	Score float64
}

// LocateParams configures the sensor search. Center, Size and
// SearchArea are in (y, x) / (height, width) order, matching the
// configuration file.
type LocateParams struct {
	Center           [2]int
	Size             [2]int
	SearchArea       [2]int
	ExpectedRelative []float64
	ControlIndex     int
	MinBarWidth      int
}

// Extract crops the measurement window at the configured position
// without searching.
func Extract(stripGray gocv.Mat, center, size [2]int) (Result, error) {
	rect := centeredRect(center, size)
	if !rect.Inside(stripGray.Cols(), stripGray.Rows()) {
		return Result{}, fmt.Errorf("sensor region %v outside strip image %dx%d",
			rect, stripGray.Cols(), stripGray.Rows())
	}

	region := stripGray.Region(rect.ToImageRect())
	defer region.Close()
	return Result{Window: imgproc.Invert(region), Coords: rect, Score: 1}, nil
}

// Locate searches the neighborhood of the configured sensor position
// for the control band and re-centers the measurement window on it.
// The score reflects how close the control band was found to its
// expected position; if the band is not found at all, the window is
// taken at the configured position with score 0.
func Locate(stripGray gocv.Mat, p LocateParams) (Result, error) {
	if p.SearchArea[0] < p.Size[0] || p.SearchArea[1] < p.Size[1] {
		p.SearchArea = p.Size
	}

	inverted := imgproc.Invert(stripGray)
	defer inverted.Close()

	searchRect := centeredRect(p.Center, p.SearchArea)
	if !searchRect.Inside(stripGray.Cols(), stripGray.Rows()) {
		return Result{}, fmt.Errorf("sensor search area %v outside strip image %dx%d",
			searchRect, stripGray.Cols(), stripGray.Rows())
	}
	search := inverted.Region(searchRect.ToImageRect())
	defer search.Close()

	bw, _ := imgproc.OtsuThreshold(search)
	defer bw.Close()

	// Column occupancy of the thresholded search area; the bands show
	// up as wide plateaus.
	profile := make([]float64, bw.Cols())
	for x := range profile {
		col := bw.Region(image.Rect(x, 0, x+1, bw.Rows()))
		profile[x] = float64(gocv.CountNonZero(col))
		col.Close()
	}

	expectedRel := p.ExpectedRelative[p.ControlIndex]
	bar, found := pickControlBar(profile, p, expectedRel)
	if !found {
		return fallback(inverted, p)
	}

	// Re-center horizontally from the expected control band position.
	correctedPos := bar.Index - (p.SearchArea[1]-p.Size[1])/2
	currRel := float64(correctedPos) / float64(p.Size[1])
	dx := int((expectedRel - currRel) * float64(p.Size[1]))

	// Re-center vertically on the mass of the control bar.
	barY, ok := barCenterY(bw, bar)
	if !ok {
		return fallback(inverted, p)
	}
	dy := int(math.Round(barY)) - p.SearchArea[0]/2

	center := [2]int{p.Center[0] + dy, p.Center[1] + dx}
	rect := centeredRect(center, p.Size)
	if !rect.Inside(stripGray.Cols(), stripGray.Rows()) {
		return fallback(inverted, p)
	}

	region := inverted.Region(rect.ToImageRect())
	defer region.Close()
	return Result{
		Window: region.Clone(),
		Coords: rect,
		Score:  registrationScore(currRel, expectedRel),
	}, nil
}

// pickControlBar finds the candidate bar closest to the expected
// relative control band position.
func pickControlBar(profile []float64, p LocateParams, expectedRel float64) (bands.Peak, bool) {
	const minProminence = 5
	var best bands.Peak
	bestDist := math.Inf(1)
	found := false
	for _, peak := range bands.FindPeaks(profile, float64(p.MinBarWidth), minProminence) {
		if peak.Width <= float64(p.MinBarWidth) {
			continue
		}
		rel := float64(peak.Index) / float64(p.SearchArea[1])
		if d := math.Abs(rel - expectedRel); d < bestDist {
			bestDist = d
			best = peak
			found = true
		}
	}
	return best, found
}

// barCenterY returns the mean row of the set pixels in the bar columns.
func barCenterY(bw gocv.Mat, bar bands.Peak) (float64, bool) {
	width := int(bar.Width)
	x0 := bar.Index - width/2
	x1 := x0 + width
	if x0 < 0 {
		x0 = 0
	}
	if x1 > bw.Cols() {
		x1 = bw.Cols()
	}
	if x1 <= x0 {
		return 0, false
	}

	sum := 0.0
	n := 0
	for y := 0; y < bw.Rows(); y++ {
		row := bw.Region(image.Rect(x0, y, x1, y+1))
		c := gocv.CountNonZero(row)
		row.Close()
		sum += float64(y * c)
		n += c
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func fallback(inverted gocv.Mat, p LocateParams) (Result, error) {
	rect := centeredRect(p.Center, p.Size)
	if !rect.Inside(inverted.Cols(), inverted.Rows()) {
		return Result{}, fmt.Errorf("sensor region %v outside strip image %dx%d",
			rect, inverted.Cols(), inverted.Rows())
	}
	region := inverted.Region(rect.ToImageRect())
	defer region.Close()
	return Result{Window: region.Clone(), Coords: rect, Score: 0}, nil
}

// registrationScore maps the residual distance between the found and
// expected control band position to [0, 1].
func registrationScore(currRel, expectedRel float64) float64 {
	score := 1 - math.Abs(currRel-expectedRel)
	if score < 0 {
		return 0
	}
	return score
}

func centeredRect(center, size [2]int) geometry.RectInt {
	return geometry.RectInt{
		X:      center[1] - size[1]/2,
		Y:      center[0] - size[0]/2,
		Width:  size[1],
		Height: size[0],
	}
}
