// Package imgproc holds shared low-level image operations used by the
// localization, orientation and quantification stages.
package imgproc

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// ToGray converts a BGR image to grayscale. Grayscale input is cloned.
func ToGray(src gocv.Mat) gocv.Mat {
	if src.Channels() == 1 {
		return src.Clone()
	}
	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	return dst
}

// Invert returns 255 - src for an 8-bit image, so that dark bands on a
// bright strip become bright peaks.
func Invert(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	white := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(255, 255, 255, 255), src.Rows(), src.Cols(), src.Type())
	defer white.Close()
	gocv.Subtract(white, src, &dst)
	return dst
}

// Histogram returns the 256-bin intensity histogram of an 8-bit
// single-channel image.
func Histogram(src gocv.Mat) [256]int {
	var hist [256]int
	data, err := src.DataPtrUint8()
	if err != nil {
		// Non-continuous Mat; fall back to per-pixel access.
		for r := 0; r < src.Rows(); r++ {
			for c := 0; c < src.Cols(); c++ {
				hist[src.GetUCharAt(r, c)]++
			}
		}
		return hist
	}
	for _, v := range data {
		hist[v]++
	}
	return hist
}

// Percentile returns the intensity value at the given percentile
// (0..100) of an 8-bit single-channel image.
func Percentile(src gocv.Mat, p float64) float64 {
	hist := Histogram(src)
	total := 0
	for _, n := range hist {
		total += n
	}
	if total == 0 {
		return 0
	}
	target := p / 100 * float64(total-1)
	cum := 0
	for v, n := range hist {
		cum += n
		if float64(cum-1) >= target {
			return float64(v)
		}
	}
	return 255
}

// StretchPercentiles linearly rescales intensities so that the lower
// percentile maps to 0 and the upper percentile to 255.
func StretchPercentiles(src gocv.Mat, lower, upper float64) gocv.Mat {
	lo := Percentile(src, lower)
	hi := Percentile(src, upper)
	if hi <= lo {
		return src.Clone()
	}

	lut := gocv.NewMatWithSize(1, 256, gocv.MatTypeCV8U)
	defer lut.Close()
	scale := 255 / (hi - lo)
	for v := 0; v < 256; v++ {
		mapped := (float64(v) - lo) * scale
		if mapped < 0 {
			mapped = 0
		}
		if mapped > 255 {
			mapped = 255
		}
		lut.SetUCharAt(0, v, uint8(math.Round(mapped)))
	}

	dst := gocv.NewMat()
	gocv.LUT(src, lut, &dst)
	return dst
}

// Rescale resizes the image by the given factor using Lanczos
// interpolation.
func Rescale(src gocv.Mat, factor float64) gocv.Mat {
	dst := gocv.NewMat()
	w := int(factor * float64(src.Cols()))
	h := int(factor * float64(src.Rows()))
	gocv.Resize(src, &dst, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationLanczos4)
	return dst
}

// RotateQuadrant rotates an image by 0, 90, 180 or 270 degrees
// clockwise.
func RotateQuadrant(src gocv.Mat, degrees int) gocv.Mat {
	dst := gocv.NewMat()
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		gocv.Rotate(src, &dst, gocv.Rotate90Clockwise)
	case 180:
		gocv.Rotate(src, &dst, gocv.Rotate180Clockwise)
	case 270:
		gocv.Rotate(src, &dst, gocv.Rotate90CounterClockwise)
	default:
		dst = src.Clone()
	}
	return dst
}

// RotateBound rotates an image counter-clockwise by an arbitrary angle
// in degrees, growing the canvas so that no content is clipped.
func RotateBound(src gocv.Mat, angleDegrees float64) gocv.Mat {
	h := src.Rows()
	w := src.Cols()

	center := image.Point{X: w / 2, Y: h / 2}
	rotMat := gocv.GetRotationMatrix2D(center, angleDegrees, 1.0)
	defer rotMat.Close()

	angleRad := angleDegrees * math.Pi / 180
	cos := math.Abs(math.Cos(angleRad))
	sin := math.Abs(math.Sin(angleRad))
	newW := int(float64(h)*sin + float64(w)*cos)
	newH := int(float64(h)*cos + float64(w)*sin)

	// Shift the transform so the rotated content stays centered in the
	// grown canvas.
	rotMat.SetDoubleAt(0, 2, rotMat.GetDoubleAt(0, 2)+float64(newW-w)/2)
	rotMat.SetDoubleAt(1, 2, rotMat.GetDoubleAt(1, 2)+float64(newH-h)/2)

	dst := gocv.NewMat()
	gocv.WarpAffine(src, &dst, rotMat, image.Point{X: newW, Y: newH})
	return dst
}

// OtsuThreshold binarizes an 8-bit single-channel image with Otsu's
// method and returns the mask together with the chosen threshold.
func OtsuThreshold(src gocv.Mat) (gocv.Mat, float32) {
	dst := gocv.NewMat()
	thresh := gocv.Threshold(src, &dst, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	return dst, thresh
}
