package bands

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestMedianProfile(t *testing.T) {
	window := gocv.NewMatWithSize(20, 30, gocv.MatTypeCV8UC1)
	defer window.Close()

	for y := 0; y < 20; y++ {
		for x := 0; x < 30; x++ {
			v := uint8(40)
			if x == 15 {
				v = 200
			}
			window.SetUCharAt(y, x, v)
		}
	}
	// One outlier row must not move the column medians.
	for x := 0; x < 30; x++ {
		window.SetUCharAt(10, x, 255)
	}

	profile := MedianProfile(window, 2, 2)
	require.Len(t, profile, 30)
	assert.InDelta(t, 40, profile[5], 1)
	assert.InDelta(t, 200, profile[15], 1)
}

func TestFitBackgroundRemovesRamp(t *testing.T) {
	n := 100
	profile := make([]float64, n)
	for i := range profile {
		profile[i] = 30 + 0.5*float64(i)
	}
	// A band on top of the ramp must survive the robust fit.
	profile[50] += 80
	profile[51] += 80

	background := FitBackground(profile, 5, 20)
	require.Len(t, background, n)

	// Inside the border the ramp collapses onto the offset level.
	assert.InDelta(t, 20, profile[10], 2)
	assert.InDelta(t, 20, profile[90], 2)
	assert.InDelta(t, 100, profile[50], 3)
	assert.InDelta(t, 30+0.5*10, background[10], 2)
}

func TestEstimateThresholdSeparatesBands(t *testing.T) {
	n := 120
	profile := make([]float64, n)
	// Rippling noise floor with three strong band peaks.
	for i := range profile {
		profile[i] = 20 + float64((i*7)%5)
	}
	for _, idx := range []int{30, 60, 90} {
		profile[idx] = 150
	}

	threshold, floor, maxima, md := EstimateThreshold(profile, 5, 2)
	assert.Greater(t, threshold, md)
	assert.Less(t, threshold, 150.0)
	assert.LessOrEqual(t, floor, md)
	assert.InDelta(t, 23.5, md, 1)
	assert.NotEmpty(t, maxima)
	for _, idx := range maxima {
		assert.NotContains(t, []int{30, 60, 90}, idx)
	}
}

func TestEstimateThresholdEmptyInterior(t *testing.T) {
	profile := make([]float64, 10)
	threshold, floor, maxima, _ := EstimateThreshold(profile, 5, 2)
	assert.True(t, math.IsInf(threshold, 1))
	assert.True(t, math.IsInf(floor, -1))
	assert.Empty(t, maxima)
}

func TestSmoothGaussianPreservesMassAndBorders(t *testing.T) {
	profile := make([]float64, 60)
	profile[30] = 100
	profile[0] = 7
	profile[59] = 9

	before := 0.0
	for i := 5; i < 55; i++ {
		before += profile[i]
	}

	SmoothGaussian(profile, 5, 55, 1)

	after := 0.0
	for i := 5; i < 55; i++ {
		after += profile[i]
	}
	assert.InDelta(t, before, after, 1e-6)
	assert.Equal(t, 7.0, profile[0])
	assert.Equal(t, 9.0, profile[59])
	// The spike spreads but remains the maximum.
	assert.Less(t, profile[30], 100.0)
	assert.Greater(t, profile[30], profile[28])
}

func TestClampFloor(t *testing.T) {
	profile := []float64{1, 2, 3, 4, 5}
	ClampFloor(profile, 1, 4, 3)
	assert.Equal(t, []float64{1, 3, 3, 4, 5}, profile)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 3.0, median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
	assert.Equal(t, 0.0, median(nil))
}
