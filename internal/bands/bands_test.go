package bands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func testParams() Params {
	return Params{
		BorderX:          7,
		BorderY:          7,
		ThreshFactor:     2,
		PeakWidth:        7,
		Names:            []string{"igm", "igg", "ctl"},
		ExpectedRelative: []float64{0.25, 0.53, 0.79},
		ControlIndex:     2,
		SubtractBg:       true,
		BgOffset:         20,
		EdgeFraction:     0.25,
	}
}

// sensorWindow builds a synthetic inverted sensor window: a rippled
// dark background with bright vertical bands at the given relative
// positions.
func sensorWindow(rows, cols int, rel []float64, heights []uint8) gocv.Mat {
	window := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			window.SetUCharAt(y, x, uint8(20+(x*7)%5))
		}
	}
	for i, r := range rel {
		center := int(r * float64(cols))
		for x := center - 5; x <= center+5; x++ {
			d := x - center
			if d < 0 {
				d = -d
			}
			v := heights[i] - uint8(d*int(heights[i])/8)
			for y := 0; y < rows; y++ {
				window.SetUCharAt(y, x, 20+v)
			}
		}
	}
	return window
}

func TestQuantifyThreeBands(t *testing.T) {
	p := testParams()
	window := sensorWindow(61, 249, p.ExpectedRelative, []uint8{120, 60, 100})
	defer window.Close()

	a, err := Quantify(window, p)
	require.NoError(t, err)
	require.Len(t, a.Bands, 3)

	ctl := a.Bands["ctl"]
	require.NotNil(t, ctl)
	assert.Equal(t, 1.0, ctl.Normalized)
	assert.InDelta(t, int(0.79*249), ctl.PeakPos, 4)

	igm := a.Bands["igm"]
	require.NotNil(t, igm)
	assert.InDelta(t, int(0.25*249), igm.PeakPos, 4)
	assert.Greater(t, igm.Signal, 0.0)
	assert.Greater(t, igm.Normalized, 1.0)

	igg := a.Bands["igg"]
	require.NotNil(t, igg)
	assert.Greater(t, igg.Normalized, 0.0)
	assert.Less(t, igg.Normalized, 1.0)
}

func TestQuantifyMissingBand(t *testing.T) {
	p := testParams()
	// Only the igm and control bands are present.
	window := sensorWindow(61, 249, []float64{0.25, 0.79}, []uint8{120, 100})
	defer window.Close()

	a, err := Quantify(window, p)
	require.NoError(t, err)

	assert.Contains(t, a.Bands, "igm")
	assert.Contains(t, a.Bands, "ctl")
	assert.NotContains(t, a.Bands, "igg")
	assert.Equal(t, 1.0, a.Bands["ctl"].Normalized)
}

func TestQuantifyBlankStrip(t *testing.T) {
	p := testParams()
	window := sensorWindow(61, 249, nil, nil)
	defer window.Close()

	a, err := Quantify(window, p)
	require.NoError(t, err)
	assert.Empty(t, a.Bands)
}

func TestQuantifyEmptyWindow(t *testing.T) {
	window := gocv.NewMat()
	defer window.Close()
	_, err := Quantify(window, testParams())
	assert.Error(t, err)
}

func TestQuantifyWindowSmallerThanBorders(t *testing.T) {
	window := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC1)
	defer window.Close()
	_, err := Quantify(window, testParams())
	assert.Error(t, err)
}

func TestQuantifyMismatchedNames(t *testing.T) {
	p := testParams()
	p.Names = []string{"a"}
	window := gocv.NewMatWithSize(61, 249, gocv.MatTypeCV8UC1)
	defer window.Close()
	_, err := Quantify(window, p)
	assert.Error(t, err)
}

func TestAssignBandsExact(t *testing.T) {
	// Candidates at the expected positions of a 200 px profile.
	got := assignBands([]int{50, 106, 158}, 200, []float64{0.25, 0.53, 0.79})
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestAssignBandsMissingMiddle(t *testing.T) {
	got := assignBands([]int{50, 158}, 200, []float64{0.25, 0.53, 0.79})
	assert.Equal(t, []int{0, -1, 1}, got)
}

func TestAssignBandsRejectsFarCandidates(t *testing.T) {
	got := assignBands([]int{0, 199}, 200, []float64{0.5})
	assert.Equal(t, []int{-1}, got)
}

func TestAssignBandsPrefersGlobalOptimum(t *testing.T) {
	// A single candidate between two expected positions must go to the
	// nearer one.
	got := assignBands([]int{100}, 200, []float64{0.45, 0.53})
	assert.Equal(t, []int{-1, 0}, got)
}

func TestQuantifyKeepsRawProfile(t *testing.T) {
	p := testParams()
	window := sensorWindow(61, 249, p.ExpectedRelative, []uint8{120, 60, 100})
	defer window.Close()

	a, err := Quantify(window, p)
	require.NoError(t, err)
	require.Len(t, a.RawProfile, len(a.Profile))
	require.Len(t, a.Background, len(a.Profile))
	// The subtraction touched the working profile only.
	assert.Greater(t, a.RawProfile[20], a.Profile[20])
}
