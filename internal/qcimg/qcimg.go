// Package qcimg writes the diagnostic images emitted alongside the
// quantification results.
package qcimg

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"github.com/cunyap/pypocquant/internal/bands"
	"github.com/cunyap/pypocquant/pkg/geometry"
)

const jpegQuality = 85

// Basename derives the QC file prefix from an input file name, so that
// "IMG_1234.JPG" yields "IMG_1234_JPG".
func Basename(filename string) string {
	return strings.ReplaceAll(filename, ".", "_")
}

// Save writes one QC image as <basename>_<stage>.jpg in dir.
func Save(dir, basename, stage string, img gocv.Mat) error {
	if img.Empty() {
		return fmt.Errorf("empty QC image for stage %s", stage)
	}
	path := filepath.Join(dir, basename+"_"+stage+".jpg")
	if !gocv.IMWriteWithParams(path, img, []int{gocv.IMWriteJpegQuality, jpegQuality}) {
		return fmt.Errorf("write QC image %s", path)
	}
	return nil
}

// DrawRect draws a rectangle outline on the image.
func DrawRect(img *gocv.Mat, r geometry.RectInt, c color.RGBA) {
	gocv.Rectangle(img, r.ToImageRect(), c, 2)
}

// DrawCornerDots marks the corner points used to build the strip box.
func DrawCornerDots(img *gocv.Mat, points []geometry.PointInt) {
	for _, p := range points {
		gocv.Circle(img, image.Point{X: p.X, Y: p.Y}, 11, color.RGBA{R: 255, A: 255}, -1)
	}
}

var bandPalette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
	{R: 140, G: 86, B: 75, A: 255},
}

// BandColor returns a stable plot color per band index.
func BandColor(i int) color.RGBA {
	return bandPalette[i%len(bandPalette)]
}

const (
	plotW      = 640
	plotH      = 400
	plotMargin = 30
)

// SaveProfilePlot renders the analyzed profile with the noise floor
// minima, the significance threshold and the detected band extents.
func SaveProfilePlot(dir, basename, stage string, a *bands.Analysis, borderX int, names []string) error {
	canvas := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(255, 255, 255, 255), plotH, plotW, gocv.MatTypeCV8UC3)
	defer canvas.Close()

	lo, hi := profileRange(a.Profile, borderX)
	toX := func(i int) int {
		return plotMargin + i*(plotW-2*plotMargin)/len(a.Profile)
	}
	toY := func(v float64) int {
		if hi == lo {
			return plotH / 2
		}
		frac := (v - lo) / (hi - lo)
		return plotH - plotMargin - int(frac*float64(plotH-2*plotMargin))
	}

	black := color.RGBA{A: 255}
	for i := borderX; i < len(a.Profile)-borderX-1; i++ {
		gocv.Line(&canvas,
			image.Point{X: toX(i), Y: toY(a.Profile[i])},
			image.Point{X: toX(i + 1), Y: toY(a.Profile[i+1])},
			black, 1)
	}

	// Noise floor maxima in green, significance threshold in red,
	// background median dashed green.
	green := color.RGBA{G: 160, A: 255}
	for _, idx := range a.NoiseIdx {
		gocv.Circle(&canvas, image.Point{X: toX(idx), Y: toY(a.Profile[idx])}, 2, green, -1)
	}
	if !math.IsInf(a.Threshold, 1) {
		red := color.RGBA{R: 255, A: 255}
		y := toY(a.Threshold)
		gocv.Line(&canvas, image.Point{X: plotMargin, Y: y}, image.Point{X: plotW - plotMargin, Y: y}, red, 1)
	}
	yMd := toY(a.NoiseMd)
	for x := plotMargin; x < plotW-plotMargin; x += 10 {
		gocv.Line(&canvas, image.Point{X: x, Y: yMd}, image.Point{X: x + 5, Y: yMd}, green, 1)
	}

	for i, name := range names {
		b, ok := a.Bands[name]
		if !ok {
			continue
		}
		c := BandColor(i)
		gocv.Circle(&canvas, image.Point{X: toX(b.PeakPos), Y: toY(a.Profile[b.PeakPos])}, 4, c, -1)
		gocv.Line(&canvas,
			image.Point{X: toX(b.Lower), Y: toY(a.Profile[b.Lower])},
			image.Point{X: toX(b.Upper), Y: toY(a.Profile[b.Upper])},
			c, 2)
		gocv.PutText(&canvas, name,
			image.Point{X: toX(b.PeakPos) - 10, Y: toY(a.Profile[b.PeakPos]) - 10},
			gocv.FontHersheySimplex, 0.4, c, 1)
	}

	return Save(dir, basename, stage, canvas)
}

// SaveBackgroundPlot renders the profile before background subtraction
// together with the fitted background and the offset baseline that was
// actually removed.
func SaveBackgroundPlot(dir, basename, stage string, a *bands.Analysis, borderX int, offset float64) error {
	if len(a.RawProfile) == 0 || len(a.Background) == 0 {
		return nil
	}
	canvas := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(255, 255, 255, 255), plotH, plotW, gocv.MatTypeCV8UC3)
	defer canvas.Close()

	lo, hi := profileRange(a.RawProfile, borderX)
	for i := borderX; i < len(a.Background)-borderX; i++ {
		lo = math.Min(lo, a.Background[i]-offset)
		hi = math.Max(hi, a.Background[i])
	}
	toX := func(i int) int {
		return plotMargin + i*(plotW-2*plotMargin)/len(a.RawProfile)
	}
	toY := func(v float64) int {
		if hi == lo {
			return plotH / 2
		}
		frac := (v - lo) / (hi - lo)
		return plotH - plotMargin - int(frac*float64(plotH-2*plotMargin))
	}

	black := color.RGBA{A: 255}
	red := color.RGBA{R: 255, A: 255}
	for i := borderX; i < len(a.RawProfile)-borderX-1; i++ {
		gocv.Line(&canvas,
			image.Point{X: toX(i), Y: toY(a.RawProfile[i])},
			image.Point{X: toX(i + 1), Y: toY(a.RawProfile[i+1])},
			black, 1)
		gocv.Line(&canvas,
			image.Point{X: toX(i), Y: toY(a.Background[i])},
			image.Point{X: toX(i + 1), Y: toY(a.Background[i+1])},
			red, 1)
	}

	// The removed baseline, dashed.
	for i := borderX; i < len(a.Background)-borderX-1; i += 2 {
		gocv.Line(&canvas,
			image.Point{X: toX(i), Y: toY(a.Background[i] - offset)},
			image.Point{X: toX(i + 1), Y: toY(a.Background[i+1] - offset)},
			red, 1)
	}

	return Save(dir, basename, stage, canvas)
}

// SaveOverlay draws the detected band extents onto the sensor window.
func SaveOverlay(dir, basename, stage string, window gocv.Mat, a *bands.Analysis, borderY int, names []string) error {
	overlay := gocv.NewMat()
	defer overlay.Close()
	gocv.CvtColor(window, &overlay, gocv.ColorGrayToBGR)

	for i, name := range names {
		b, ok := a.Bands[name]
		if !ok {
			continue
		}
		rect := image.Rect(b.Lower, borderY, b.Upper, window.Rows()-borderY)
		gocv.Rectangle(&overlay, rect, BandColor(i), 1)
	}
	return Save(dir, basename, stage, overlay)
}

func profileRange(profile []float64, border int) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := border; i < len(profile)-border; i++ {
		lo = math.Min(lo, profile[i])
		hi = math.Max(hi, profile[i])
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	return lo, hi
}
