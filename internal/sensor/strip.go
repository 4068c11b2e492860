// Package sensor segments the physical strip out of the marker box and
// locates the measurement window on it.
package sensor

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/cunyap/pypocquant/internal/imgproc"
	"github.com/cunyap/pypocquant/pkg/geometry"
)

// ExtractStrip segments the strip from the box image, removes any
// residual tilt and crops tightly around the plastic cassette. Both the
// gray and the color crop are returned; the caller owns them.
func ExtractStrip(boxGray, box gocv.Mat) (gocv.Mat, gocv.Mat, error) {
	bw, _ := imgproc.OtsuThreshold(boxGray)
	defer bw.Close()

	// A bright border touching the image edge would merge the strip
	// with the frame; carve it open at the four edge midpoints.
	carveEdges(bw)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()
	clean := gocv.NewMat()
	defer clean.Close()
	gocv.MorphologyExWithParams(bw, &clean, gocv.MorphOpen, kernel, 3, gocv.BorderConstant)

	contours := gocv.FindContours(clean, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()

	// The strip is a large object covering the center of the box, not
	// necessarily the largest one.
	idx := findCenteredContour(contours, boxGray.Cols()/2, boxGray.Rows()/2)
	if idx < 0 {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("no strip-like object covers the box center")
	}

	mask := gocv.NewMatWithSize(boxGray.Rows(), boxGray.Cols(), gocv.MatTypeCV8U)
	gocv.DrawContours(&mask, contours, idx, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	rect := gocv.MinAreaRect(contours.At(idx))
	bounding := gocv.BoundingRect(contours.At(idx))

	grayRot := boxGray.Clone()
	colorRot := box.Clone()
	if bounding.Dx() > bounding.Dy() {
		if corr := levelingAngle(rect.Angle); corr != 0 {
			rotatedMask := imgproc.RotateBound(mask, corr)
			mask.Close()
			mask = rotatedMask

			grayRot.Close()
			colorRot.Close()
			grayRot = imgproc.RotateBound(boxGray, corr)
			colorRot = imgproc.RotateBound(box, corr)
		}
	}
	defer mask.Close()

	// Rebinarize after warping and crop to the refined outline.
	binMask := gocv.NewMat()
	defer binMask.Close()
	gocv.Threshold(mask, &binMask, 127, 255, gocv.ThresholdBinary)

	crop, err := stripOutline(binMask)
	if err != nil {
		grayRot.Close()
		colorRot.Close()
		return gocv.Mat{}, gocv.Mat{}, err
	}

	region := crop.ToImageRect()
	stripGray := grayRot.Region(region).Clone()
	strip := colorRot.Region(region).Clone()
	grayRot.Close()
	colorRot.Close()
	return stripGray, strip, nil
}

// carveEdges opens a 3-pixel channel from each edge midpoint inward
// until the mask is dark, so the background stays connected around any
// bright frame.
func carveEdges(bw gocv.Mat) {
	rows, cols := bw.Rows(), bw.Cols()
	midY, midX := rows/2, cols/2

	on := func(r, c int) bool { return bw.GetUCharAt(r, c) > 0 }

	for x := 0; x < cols && (on(midY-1, x) || on(midY, x) || on(midY+1, x)); x++ {
		bw.SetUCharAt(midY-1, x, 0)
		bw.SetUCharAt(midY, x, 0)
		bw.SetUCharAt(midY+1, x, 0)
	}
	for x := cols - 1; x >= 0 && (on(midY-1, x) || on(midY, x) || on(midY+1, x)); x-- {
		bw.SetUCharAt(midY-1, x, 0)
		bw.SetUCharAt(midY, x, 0)
		bw.SetUCharAt(midY+1, x, 0)
	}
	for y := 0; y < rows && (on(y, midX-1) || on(y, midX) || on(y, midX+1)); y++ {
		bw.SetUCharAt(y, midX-1, 0)
		bw.SetUCharAt(y, midX, 0)
		bw.SetUCharAt(y, midX+1, 0)
	}
	for y := rows - 1; y >= 0 && (on(y, midX-1) || on(y, midX) || on(y, midX+1)); y-- {
		bw.SetUCharAt(y, midX-1, 0)
		bw.SetUCharAt(y, midX, 0)
		bw.SetUCharAt(y, midX+1, 0)
	}
}

// findCenteredContour returns the index of the largest contour that
// contains the given point, or -1.
func findCenteredContour(contours gocv.PointsVector, cx, cy int) int {
	best := -1
	bestArea := -1.0
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if gocv.PointPolygonTest(c, image.Point{X: cx, Y: cy}, false) < 0 {
			continue
		}
		if area := gocv.ContourArea(c); area > bestArea {
			bestArea = area
			best = i
		}
	}
	return best
}

// levelingAngle maps the minAreaRect angle to the correction that makes
// a horizontally oriented rectangle level.
func levelingAngle(angle float64) float64 {
	switch {
	case angle >= 0 && angle < 45:
		return -angle
	case angle < 0 && angle >= -45:
		return angle
	case angle >= 45 && angle < 90:
		return 90 - angle
	default:
		return angle + 90
	}
}

// stripOutline refines the bounding box of the mask by trimming rows
// and columns whose coverage falls below fraction of the extent, which
// removes bumps such as the absorbent pad sticking out of the cassette.
func stripOutline(mask gocv.Mat) (geometry.RectInt, error) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()
	if contours.Size() == 0 {
		return geometry.RectInt{}, fmt.Errorf("strip outline lost after rotation")
	}

	longest := 0
	for i := 1; i < contours.Size(); i++ {
		if contours.At(i).Size() > contours.At(longest).Size() {
			longest = i
		}
	}
	r := gocv.BoundingRect(contours.At(longest))

	const fraction = 0.75
	minCols := fraction * float64(r.Dy())
	minRows := fraction * float64(r.Dx())

	countCol := func(x int) int {
		col := mask.Region(image.Rect(x, 0, x+1, mask.Rows()))
		defer col.Close()
		return gocv.CountNonZero(col)
	}
	countRow := func(y int) int {
		row := mask.Region(image.Rect(0, y, mask.Cols(), y+1))
		defer row.Close()
		return gocv.CountNonZero(row)
	}

	x0, x1 := r.Min.X, r.Max.X-1
	y0, y1 := r.Min.Y, r.Max.Y-1
	midX := r.Min.X + r.Dx()/2
	midY := r.Min.Y + r.Dy()/2

	for x := r.Min.X; x < midX; x++ {
		if float64(countCol(x)) > minCols {
			x0 = x
			break
		}
	}
	for x := r.Max.X - 1; x > midX; x-- {
		if float64(countCol(x)) > minCols {
			x1 = x
			break
		}
	}
	for y := r.Min.Y; y < midY; y++ {
		if float64(countRow(y)) > minRows {
			y0 = y
			break
		}
	}
	for y := r.Max.Y - 1; y > midY; y-- {
		if float64(countRow(y)) > minRows {
			y1 = y
			break
		}
	}

	out := geometry.RectInt{X: x0, Y: y0, Width: x1 - x0 + 1, Height: y1 - y0 + 1}
	if out.Empty() {
		return geometry.RectInt{}, fmt.Errorf("degenerate strip outline")
	}
	return out, nil
}
