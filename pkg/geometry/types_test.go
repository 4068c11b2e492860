package geometry

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint2DArithmetic(t *testing.T) {
	a := NewPoint2D(1, 2)
	b := NewPoint2D(4, 6)

	assert.Equal(t, 5.0, a.Distance(b))
	assert.Equal(t, NewPoint2D(5, 8), a.Add(b))
	assert.Equal(t, NewPoint2D(3, 4), b.Sub(a))
	assert.Equal(t, NewPoint2D(2, 4), a.Scale(2))
}

func TestRectContainsAndCenter(t *testing.T) {
	r := NewRect(10, 20, 100, 50)

	assert.Equal(t, NewPoint2D(60, 45), r.Center())
	assert.True(t, r.Contains(NewPoint2D(60, 45)))
	assert.True(t, r.Contains(NewPoint2D(10, 20)))
	assert.False(t, r.Contains(NewPoint2D(9, 45)))
	assert.False(t, r.Contains(NewPoint2D(60, 71)))
}

func TestRectIntClamp(t *testing.T) {
	r := RectInt{X: -10, Y: -5, Width: 200, Height: 100}
	c := r.Clamp(150, 80)

	assert.Equal(t, 0, c.X)
	assert.Equal(t, 0, c.Y)
	assert.Equal(t, 150, c.Width)
	assert.Equal(t, 80, c.Height)
	assert.True(t, c.Inside(150, 80))
}

func TestRectIntInside(t *testing.T) {
	assert.True(t, RectInt{X: 0, Y: 0, Width: 10, Height: 10}.Inside(10, 10))
	assert.False(t, RectInt{X: 1, Y: 0, Width: 10, Height: 10}.Inside(10, 10))
	assert.False(t, RectInt{X: -1, Y: 0, Width: 5, Height: 5}.Inside(10, 10))
}

func TestRectIntEmpty(t *testing.T) {
	assert.True(t, RectInt{}.Empty())
	assert.True(t, RectInt{Width: 10}.Empty())
	assert.False(t, RectInt{Width: 1, Height: 1}.Empty())
}

func TestRectIntToImageRect(t *testing.T) {
	r := RectInt{X: 2, Y: 3, Width: 4, Height: 5}
	assert.Equal(t, image.Rect(2, 3, 6, 8), r.ToImageRect())
}

func TestRectRoundTrip(t *testing.T) {
	r := NewRect(1.7, 2.2, 10.9, 5.1)
	i := r.ToInt()
	assert.Equal(t, RectInt{X: 2, Y: 2, Width: 11, Height: 5}, i)
	assert.Equal(t, NewRect(2, 2, 11, 5), i.ToFloat())
}
