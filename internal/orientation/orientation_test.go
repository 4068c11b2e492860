package orientation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestSearchRects(t *testing.T) {
	left, right := SearchRects(1000, 400, [3]float64{0.52, 0.15, 0.09})

	assert.Equal(t, 90, left.X)
	assert.Equal(t, 650, right.X)
	assert.Equal(t, left.Width, right.Width)
	assert.Equal(t, 260, left.Width)
	assert.Equal(t, 208, left.Height)
	assert.Equal(t, 96, left.Y)

	// Both rectangles stay inside the strip.
	assert.True(t, left.Inside(1000, 400))
	assert.True(t, right.Inside(1000, 400))
}

func TestSearchRectsSymmetricAboutCenter(t *testing.T) {
	left, right := SearchRects(1000, 400, [3]float64{0.52, 0.15, 0.09})
	assert.Equal(t, 1000, right.X+right.Width+left.X)
}

func TestWrongSide(t *testing.T) {
	onRight := &OCRStrategy{OnRight: true}
	onLeft := &OCRStrategy{OnRight: false}

	cases := []struct {
		degrees  int
		cx, cy   int
		right    bool
		left     bool
	}{
		// Upright view: the label must sit on its configured side.
		{0, 800, 200, false, true},
		{0, 100, 200, true, false},
		// 90 degrees clockwise: the right side points down.
		{90, 200, 700, false, true},
		{90, 200, 100, true, false},
		// 270 degrees clockwise: the right side points up.
		{270, 200, 100, false, true},
		{270, 200, 700, true, false},
		// Legible only after a 180 flip: finding the label on its
		// true side means the strip faces the wrong way.
		{180, 800, 200, true, false},
		{180, 100, 200, false, true},
	}
	for _, c := range cases {
		w, h := 1000, 400
		if c.degrees == 90 || c.degrees == 270 {
			w, h = 400, 1000
		}
		name := fmt.Sprintf("%d/%d,%d", c.degrees, c.cx, c.cy)
		assert.Equal(t, c.right, onRight.wrongSide(c.degrees, c.cx, c.cy, w, h), name)
		assert.Equal(t, c.left, onLeft.wrongSide(c.degrees, c.cx, c.cy, w, h), name)
	}
}

func TestMatchesLabel(t *testing.T) {
	assert.True(t, matchesLabel("COVID", "COVID"))
	assert.True(t, matchesLabel("covid-19", "COVID"))
	assert.True(t, matchesLabel("C0VID", "COVID"))
	assert.False(t, matchesLabel("INFLUENZA", "COVID"))
	assert.False(t, matchesLabel("", "COVID"))
}

type fixedStrategy struct {
	name   string
	rotate bool
	err    error
}

func (f *fixedStrategy) Name() string { return f.name }

func (f *fixedStrategy) Evaluate(gray gocv.Mat) (Decision, error) {
	if f.err != nil {
		return Decision{}, f.err
	}
	return Decision{Method: f.name, Rotate: f.rotate, Confidence: 1}, nil
}

// gradientStrip returns a gray strip whose top-left corner is the only
// bright pixel, making flips observable.
func gradientStrip() gocv.Mat {
	m := gocv.NewMatWithSize(40, 100, gocv.MatTypeCV8UC1)
	m.SetUCharAt(0, 0, 255)
	return m
}

func TestCorrectorNoFlip(t *testing.T) {
	gray := gradientStrip()
	defer gray.Close()
	strip := gray.Clone()
	defer strip.Close()

	c := NewCorrector(&fixedStrategy{name: "a"}, &fixedStrategy{name: "b"})
	outGray, outStrip, decisions := c.Correct(gray, strip)
	defer outGray.Close()
	defer outStrip.Close()

	require.Len(t, decisions, 2)
	assert.False(t, decisions[0].Rotate)
	assert.Equal(t, uint8(255), outGray.GetUCharAt(0, 0))
}

func TestCorrectorFlips(t *testing.T) {
	gray := gradientStrip()
	defer gray.Close()
	strip := gray.Clone()
	defer strip.Close()

	c := NewCorrector(&fixedStrategy{name: "a", rotate: true})
	outGray, outStrip, decisions := c.Correct(gray, strip)
	defer outGray.Close()
	defer outStrip.Close()

	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Rotate)
	// The bright corner moved to the bottom-right.
	assert.Equal(t, uint8(0), outGray.GetUCharAt(0, 0))
	assert.Equal(t, uint8(255), outGray.GetUCharAt(39, 99))
	assert.Equal(t, uint8(255), outStrip.GetUCharAt(39, 99))
}

func TestCorrectorDoubleFlipRestores(t *testing.T) {
	gray := gradientStrip()
	defer gray.Close()
	strip := gray.Clone()
	defer strip.Close()

	c := NewCorrector(
		&fixedStrategy{name: "a", rotate: true},
		&fixedStrategy{name: "b", rotate: true},
	)
	outGray, outStrip, decisions := c.Correct(gray, strip)
	defer outGray.Close()
	defer outStrip.Close()

	require.Len(t, decisions, 2)
	assert.Equal(t, uint8(255), outGray.GetUCharAt(0, 0))
}

func TestCorrectorSkipsFailingStrategy(t *testing.T) {
	gray := gradientStrip()
	defer gray.Close()
	strip := gray.Clone()
	defer strip.Close()

	c := NewCorrector(
		&fixedStrategy{name: "a", err: fmt.Errorf("boom")},
		&fixedStrategy{name: "b", rotate: true},
	)
	outGray, outStrip, decisions := c.Correct(gray, strip)
	defer outGray.Close()
	defer outStrip.Close()

	require.Len(t, decisions, 2)
	assert.Zero(t, decisions[0].Confidence)
	assert.True(t, decisions[1].Rotate)
	assert.Equal(t, uint8(255), outGray.GetUCharAt(39, 99))
}
