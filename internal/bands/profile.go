// Package bands extracts the intensity profile from a sensor window and
// quantifies the signal of each test band.
package bands

import (
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// MedianProfile collapses the sensor window into a per-column median
// intensity profile. Columns inside the lateral border are left at zero
// so that indices still map to window coordinates.
func MedianProfile(window gocv.Mat, borderX, borderY int) []float64 {
	cols := window.Cols()
	rows := window.Rows()
	profile := make([]float64, cols)

	for c := borderX; c < cols-borderX; c++ {
		var hist [256]int
		n := 0
		for r := borderY; r < rows-borderY; r++ {
			hist[window.GetUCharAt(r, c)]++
			n++
		}
		if n == 0 {
			continue
		}
		profile[c] = histMedian(hist[:], n)
	}
	return profile
}

// histMedian computes the median of n 8-bit samples from their
// histogram.
func histMedian(hist []int, n int) float64 {
	lo := (n - 1) / 2
	hi := n / 2
	cum := 0
	var vLo, vHi float64
	haveLo := false
	for v, c := range hist {
		cum += c
		if !haveLo && cum > lo {
			vLo = float64(v)
			haveLo = true
		}
		if cum > hi {
			vHi = float64(v)
			return (vLo + vHi) / 2
		}
	}
	return 0
}

// FitBackground estimates the slowly varying background of the profile
// with a robust (Huber-weighted) linear fit over the analyzed region
// and subtracts it in place, minus a constant offset so genuine signal
// is not clipped at zero. The fitted background is returned for
// inspection.
func FitBackground(profile []float64, border int, offset float64) []float64 {
	n := len(profile) - 2*border
	if n < 2 {
		return make([]float64, len(profile))
	}

	x := make([]float64, n)
	y := make([]float64, n)
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = float64(i)
		y[i] = profile[border+i]
		w[i] = 1
	}

	// Iteratively reweighted least squares with the Huber weight
	// function.
	const huberK = 1.345
	var alpha, beta float64
	for iter := 0; iter < 20; iter++ {
		alpha, beta = stat.LinearRegression(x, y, w, false)

		resid := make([]float64, n)
		for i := range resid {
			resid[i] = math.Abs(y[i] - (alpha + beta*x[i]))
		}
		scale := 1.4826 * median(resid)
		if scale < 1e-9 {
			break
		}

		changed := false
		for i := range w {
			nw := 1.0
			if r := resid[i] / scale; r > huberK {
				nw = huberK / r
			}
			if math.Abs(nw-w[i]) > 1e-6 {
				changed = true
			}
			w[i] = nw
		}
		if !changed {
			break
		}
	}

	background := make([]float64, len(profile))
	for i := 0; i < n; i++ {
		fitted := alpha + beta*x[i]
		background[border+i] = fitted
		profile[border+i] = y[i] - (fitted - offset)
	}
	return background
}

// EstimateThreshold derives the significance threshold for band peaks
// from the local maxima of the profile noise floor. A first threshold
// over all local maxima rejects the real band peaks as outliers; the
// final threshold is re-estimated from the surviving values. It returns
// the peak threshold, the lowest plausible background level, the
// surviving maxima indices and the background median.
func EstimateThreshold(profile []float64, border int, factor float64) (threshold, floor float64, maxima []int, md float64) {
	maxima = localMaxima(profile, border, len(profile)-border)
	if len(maxima) == 0 {
		return math.Inf(1), math.Inf(-1), nil, 0
	}

	values := make([]float64, len(maxima))
	for i, idx := range maxima {
		values[i] = profile[idx]
	}
	md = median(values)
	ma := medianAbsDeviation(values, md)
	threshold = md + factor*ma

	// Reject the outliers (the band peaks themselves) and re-estimate.
	kept := values[:0]
	keptIdx := maxima[:0]
	for i, v := range values {
		if v < threshold {
			kept = append(kept, v)
			keptIdx = append(keptIdx, maxima[i])
		}
	}
	if len(kept) == 0 {
		return threshold, md - factor*ma, nil, md
	}

	md = median(kept)
	ma = medianAbsDeviation(kept, md)
	threshold = md + factor*ma
	floor = md - factor*ma

	maxima = keptIdx[:0]
	for i, idx := range keptIdx {
		if kept[i] < threshold {
			maxima = append(maxima, idx)
		}
	}
	return threshold, floor, maxima, md
}

// localMaxima returns the indices in [lo, hi) whose value dominates
// their immediate neighborhood. The interval edges never qualify.
func localMaxima(profile []float64, lo, hi int) []int {
	var out []int
	for i := lo + 1; i < hi-1; i++ {
		if profile[i] >= profile[i-1] && profile[i] >= profile[i+1] {
			out = append(out, i)
		}
	}
	return out
}

// SmoothGaussian low-pass filters profile[lo:hi] in place with a
// Gaussian kernel. Values outside the interval are untouched; the
// segment is reflected at its ends.
func SmoothGaussian(profile []float64, lo, hi int, sigma float64) {
	n := hi - lo
	if n <= 1 || sigma <= 0 {
		return
	}

	radius := int(math.Ceil(4 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	src := make([]float64, n)
	copy(src, profile[lo:hi])
	for i := 0; i < n; i++ {
		acc := 0.0
		for k := -radius; k <= radius; k++ {
			j := i + k
			if j < 0 {
				j = -j - 1
			}
			if j >= n {
				j = 2*n - j - 1
			}
			acc += src[j] * kernel[k+radius]
		}
		profile[lo+i] = acc
	}
}

// ClampFloor raises every value in profile[lo:hi] to at least floor.
func ClampFloor(profile []float64, lo, hi int, floor float64) {
	for i := lo; i < hi; i++ {
		if profile[i] < floor {
			profile[i] = floor
		}
	}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func medianAbsDeviation(values []float64, md float64) float64 {
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - md)
	}
	return median(dev)
}
