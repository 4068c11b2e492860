package bands

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// Params configures the band quantification.
type Params struct {
	BorderX          int
	BorderY          int
	ThreshFactor     float64
	PeakWidth        int
	Names            []string
	ExpectedRelative []float64
	ControlIndex     int
	SubtractBg       bool
	BgOffset         float64
	EdgeFraction     float64
}

// Band is a quantified test band.
type Band struct {
	Name       string
	PeakPos    int
	Lower      int
	Upper      int
	Signal     float64
	Normalized float64
	Skewness   float64
}

// Analysis holds the quantification outcome together with the
// intermediate profile data used for inspection plots.
type Analysis struct {
	Bands map[string]*Band

	Profile []float64
	// RawProfile is the profile before background subtraction; set only
	// when the background was fitted.
	RawProfile []float64
	Background []float64
	Threshold  float64
	NoiseIdx   []int
	NoiseMd    float64
}

// assignment tolerance between a detected peak and its expected
// relative position.
const positionTolerance = 0.1

// Quantify measures the signal of every band in the (inverted) sensor
// window. The control band is normalized to 1 and all other bands are
// reported relative to it.
func Quantify(window gocv.Mat, p Params) (*Analysis, error) {
	if window.Empty() {
		return nil, fmt.Errorf("empty sensor window")
	}
	if len(p.Names) != len(p.ExpectedRelative) {
		return nil, fmt.Errorf("band names and expected positions must match")
	}
	cols := window.Cols()
	if cols <= 2*p.BorderX || window.Rows() <= 2*p.BorderY {
		return nil, fmt.Errorf("sensor window %dx%d smaller than its borders",
			cols, window.Rows())
	}

	profile := MedianProfile(window, p.BorderX, p.BorderY)
	a := &Analysis{Bands: map[string]*Band{}, Profile: profile}

	if p.SubtractBg {
		a.RawProfile = append([]float64(nil), profile...)
		a.Background = FitBackground(profile, p.BorderX, p.BgOffset)
	}

	// The threshold is estimated on the noisy profile; smoothing comes
	// after so it does not depress the noise statistics.
	threshold, floor, noiseIdx, md := EstimateThreshold(profile, p.BorderX, p.ThreshFactor)
	a.Threshold = threshold
	a.NoiseIdx = noiseIdx
	a.NoiseMd = md

	SmoothGaussian(profile, p.BorderX, cols-p.BorderX, 1)
	ClampFloor(profile, p.BorderX, cols-p.BorderX, floor)

	// Peak candidates, shifted back to window coordinates.
	inner := profile[p.BorderX : cols-p.BorderX]
	var positions []int
	var bounds []Bounds
	for _, peak := range FindPeaks(inner, float64(p.PeakWidth), 0) {
		idx := peak.Index + p.BorderX
		if profile[idx] < threshold {
			continue
		}
		positions = append(positions, idx)
		bounds = append(bounds, FindPeakBounds(profile, p.BorderX, idx, p.EdgeFraction))
	}
	splitOverlaps(bounds)

	assigned := assignBands(positions, cols, p.ExpectedRelative)
	for bandIdx, candIdx := range assigned {
		if candIdx < 0 {
			continue
		}
		b := &Band{
			Name:     p.Names[bandIdx],
			PeakPos:  positions[candIdx],
			Lower:    bounds[candIdx].Lower,
			Upper:    bounds[candIdx].Upper,
			Skewness: bounds[candIdx].Skewness,
		}
		b.Signal = integrate(profile, b.Lower, b.Upper)
		a.Bands[b.Name] = b
	}

	// Normalize against the control band.
	if ctl, ok := a.Bands[p.Names[p.ControlIndex]]; ok && ctl.Signal != 0 {
		ctl.Normalized = 1
		for _, b := range a.Bands {
			if b != ctl {
				b.Normalized = b.Signal / ctl.Signal
			}
		}
	}
	return a, nil
}

// assignBands matches candidate peaks to expected band positions with a
// globally optimal one-to-one assignment, rejecting matches further
// than the position tolerance. It returns one candidate index (or -1)
// per expected band.
func assignBands(positions []int, profileLen int, expected []float64) []int {
	relative := make([]float64, len(positions))
	for i, pos := range positions {
		relative[i] = float64(pos) / float64(profileLen)
	}

	best := make([]int, len(expected))
	for i := range best {
		best[i] = -1
	}
	bestCost := math.Inf(1)

	used := make([]bool, len(positions))
	current := make([]int, len(expected))

	var search func(band int, cost float64)
	search = func(band int, cost float64) {
		if cost >= bestCost {
			return
		}
		if band == len(expected) {
			bestCost = cost
			copy(best, current)
			return
		}
		// Leave this band unmatched; a miss is penalized just above
		// the tolerance so real matches are always preferred.
		current[band] = -1
		search(band+1, cost+positionTolerance*1.001)

		for c := range positions {
			if used[c] {
				continue
			}
			d := math.Abs(relative[c] - expected[band])
			if d > positionTolerance {
				continue
			}
			used[c] = true
			current[band] = c
			search(band+1, cost+d)
			used[c] = false
		}
		current[band] = -1
	}
	search(0, 0)
	return best
}
