package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestLevelingAngle(t *testing.T) {
	cases := []struct {
		angle, want float64
	}{
		{10, -10},
		{-10, -10},
		{44, -44},
		{-44, -44},
		{60, 30},
		{89, 1},
		{-60, 30},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, levelingAngle(c.angle), 1e-9, "angle %v", c.angle)
	}
}

// boxWithStrip draws a bright horizontal strip on a dark box image.
func boxWithStrip(rows, cols int, stripH, stripW int) (gocv.Mat, gocv.Mat) {
	gray := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	y0 := (rows - stripH) / 2
	x0 := (cols - stripW) / 2
	for y := y0; y < y0+stripH; y++ {
		for x := x0; x < x0+stripW; x++ {
			gray.SetUCharAt(y, x, 235)
		}
	}
	color := gocv.NewMat()
	gocv.CvtColor(gray, &color, gocv.ColorGrayToBGR)
	return gray, color
}

func TestExtractStripHorizontal(t *testing.T) {
	gray, box := boxWithStrip(400, 1200, 220, 1000)
	defer gray.Close()
	defer box.Close()

	stripGray, strip, err := ExtractStrip(gray, box)
	require.NoError(t, err)
	defer stripGray.Close()
	defer strip.Close()

	// The cut follows the bright strip outline.
	assert.InDelta(t, 1000, stripGray.Cols(), 30)
	assert.InDelta(t, 220, stripGray.Rows(), 30)
	assert.Greater(t, stripGray.Cols(), stripGray.Rows())
	assert.Equal(t, 3, strip.Channels())
}

func TestExtractStripTrimsProtrusions(t *testing.T) {
	gray := gocv.NewMatWithSize(400, 1200, gocv.MatTypeCV8UC1)
	defer gray.Close()
	for y := 90; y < 310; y++ {
		for x := 100; x < 1100; x++ {
			gray.SetUCharAt(y, x, 235)
		}
	}
	// A small pad sticking out of the cassette top edge.
	for y := 70; y < 90; y++ {
		for x := 580; x < 620; x++ {
			gray.SetUCharAt(y, x, 235)
		}
	}
	bgr := gocv.NewMat()
	gocv.CvtColor(gray, &bgr, gocv.ColorGrayToBGR)
	defer bgr.Close()

	stripGray, strip, err := ExtractStrip(gray, bgr)
	require.NoError(t, err)
	defer stripGray.Close()
	defer strip.Close()

	// The protrusion is trimmed away, not included in the crop.
	assert.InDelta(t, 220, stripGray.Rows(), 30)
}

func TestExtractStripEmptyBox(t *testing.T) {
	gray := gocv.NewMatWithSize(200, 600, gocv.MatTypeCV8UC1)
	defer gray.Close()
	box := gocv.NewMat()
	gocv.CvtColor(gray, &box, gocv.ColorGrayToBGR)
	defer box.Close()

	_, _, err := ExtractStrip(gray, box)
	assert.Error(t, err)
}
