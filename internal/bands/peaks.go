package bands

import "math"

// Peak is a candidate band peak in a 1-D profile.
type Peak struct {
	Index      int
	Height     float64
	Prominence float64
	Width      float64
}

// FindPeaks locates local maxima in the profile and keeps those whose
// width at half prominence is at least minWidth and whose prominence is
// at least minProminence (either can be zero to disable the check).
// Plateaus count as a single peak at their midpoint.
func FindPeaks(profile []float64, minWidth, minProminence float64) []Peak {
	var peaks []Peak
	n := len(profile)

	i := 1
	for i < n-1 {
		if profile[i-1] >= profile[i] {
			i++
			continue
		}
		// Ascend found; find the plateau end.
		j := i
		for j < n-1 && profile[j+1] == profile[j] {
			j++
		}
		if j >= n-1 || profile[j+1] > profile[j] {
			i = j + 1
			continue
		}

		idx := (i + j) / 2
		p := Peak{Index: idx, Height: profile[idx]}
		p.Prominence = prominence(profile, idx)
		p.Width = widthAtHalfProminence(profile, idx, p.Prominence)

		if p.Width >= minWidth && p.Prominence >= minProminence {
			peaks = append(peaks, p)
		}
		i = j + 1
	}
	return peaks
}

// prominence measures how much a peak rises above the higher of the two
// valleys separating it from taller terrain.
func prominence(profile []float64, idx int) float64 {
	h := profile[idx]

	leftMin := h
	for i := idx - 1; i >= 0; i-- {
		if profile[i] > h {
			break
		}
		leftMin = math.Min(leftMin, profile[i])
	}

	rightMin := h
	for i := idx + 1; i < len(profile); i++ {
		if profile[i] > h {
			break
		}
		rightMin = math.Min(rightMin, profile[i])
	}

	return h - math.Max(leftMin, rightMin)
}

// widthAtHalfProminence measures the peak width at the intensity level
// half way down its prominence, interpolating the crossings.
func widthAtHalfProminence(profile []float64, idx int, prom float64) float64 {
	level := profile[idx] - prom/2

	left := float64(idx)
	for i := idx - 1; i >= 0; i-- {
		if profile[i] < level {
			left = float64(i) + (level-profile[i])/(profile[i+1]-profile[i])
			break
		}
		left = float64(i)
	}

	right := float64(idx)
	for i := idx + 1; i < len(profile); i++ {
		if profile[i] < level {
			right = float64(i) - (level-profile[i])/(profile[i-1]-profile[i])
			break
		}
		right = float64(i)
	}

	return right - left
}

// descend walks outward from the peak in the given direction while the
// profile keeps descending, tolerating up to maxSkip rising samples so
// a noisy bump does not stop the walk early.
func descend(profile []float64, peakIdx, limit, step, maxSkip int) (bound int, level float64) {
	level = profile[peakIdx]
	bound = peakIdx + step
	skipped := 0
	for i := peakIdx + step; i != limit; i += step {
		if profile[i] <= level {
			level = profile[i]
			bound = i
		} else {
			if skipped > maxSkip {
				break
			}
			skipped++
		}
	}
	return bound, level
}

// Bounds describes the extent of a single band around its peak.
type Bounds struct {
	Lower, Upper int
	// Skewness is the ratio of the upper to the lower half-width.
	Skewness float64
}

// FindPeakBounds determines where a band starts and ends by walking
// down both flanks of the peak. If a flank levels out while still well
// above the band background (relative intensity above edgeFraction),
// the walk is retried with a growing noise-skip allowance.
func FindPeakBounds(profile []float64, border, peakIdx int, edgeFraction float64) Bounds {
	lowest := border
	highest := len(profile) - border
	peak := profile[peakIdx]

	lower, lowerLevel := descend(profile, peakIdx, lowest, -1, 1)
	upper, upperLevel := descend(profile, peakIdx, highest, +1, 1)

	relIntensity := func(level float64) float64 {
		background := math.Min(lowerLevel, upperLevel)
		if peak == background {
			return 0
		}
		return (level - background) / (peak - background)
	}

	for maxSkip := 2; relIntensity(lowerLevel) > edgeFraction && maxSkip <= 5; maxSkip++ {
		lower, lowerLevel = descend(profile, peakIdx, lowest, -1, maxSkip)
	}
	for maxSkip := 2; relIntensity(upperLevel) > edgeFraction && maxSkip <= 5; maxSkip++ {
		upper, upperLevel = descend(profile, peakIdx, highest, +1, maxSkip)
	}

	skew := math.Inf(1)
	if d := peakIdx - lower; d > 0 {
		skew = float64(upper-peakIdx) / float64(d)
	}
	return Bounds{Lower: lower, Upper: upper, Skewness: skew}
}

// splitOverlaps separates adjacent bands whose bounds overlap at the
// midpoint between them. The bounds must be ordered by position.
func splitOverlaps(bounds []Bounds) {
	for i := 0; i < len(bounds)-1; i++ {
		if bounds[i].Upper >= bounds[i+1].Lower {
			split := (bounds[i].Upper + bounds[i+1].Lower) / 2
			bounds[i+1].Lower = split
			bounds[i].Upper = split - 1
		}
	}
}

// integrate sums the profile over the band extent after removing the
// straight baseline drawn between the two bounds.
func integrate(profile []float64, lower, upper int) float64 {
	if upper <= lower {
		return 0
	}
	dy := (profile[upper] - profile[lower]) / float64(upper-lower+1)
	total := 0.0
	for i, c := 0, lower; c <= upper; i, c = i+1, c+1 {
		total += profile[c] - (profile[lower] + float64(i)*dy)
	}
	return total
}
