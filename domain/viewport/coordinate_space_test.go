package viewport

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"learngraph/domain/core/valueobjects"
)

const tolerance = 1e-6

func assertPointNear(t *testing.T, want, got valueobjects.Point, msgAndArgs ...interface{}) {
	t.Helper()
	scale := math.Max(1, math.Max(math.Abs(want.X), math.Abs(want.Y)))
	assert.InDelta(t, want.X, got.X, tolerance*scale, msgAndArgs...)
	assert.InDelta(t, want.Y, got.Y, tolerance*scale, msgAndArgs...)
}

func TestClampScale(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1, 1},
		{0.05, MinScale},
		{10, MaxScale},
		{-2, MinScale},
		{math.NaN(), 1},
		{math.Inf(1), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampScale(tt.in))
	}
}

func TestToScreenToWorld(t *testing.T) {
	c := NewCoordinateSpace()
	c.SetOffset(valueobjects.Point{X: 50, Y: -20})
	c.SetScale(2)

	assert.Equal(t, valueobjects.Point{X: 100, Y: 40}, c.ToScreen(valueobjects.Point{X: 100, Y: 0}))
	assert.Equal(t, valueobjects.Point{X: 100, Y: 0}, c.ToWorld(valueobjects.Point{X: 100, Y: 40}))
}

func TestRoundTrip_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		c := NewCoordinateSpace()
		c.SetOffset(valueobjects.Point{X: rng.Float64()*2e4 - 1e4, Y: rng.Float64()*2e4 - 1e4})
		c.SetScale(MinScale + rng.Float64()*(MaxScale-MinScale))

		p := valueobjects.Point{X: rng.Float64()*4000 - 2000, Y: rng.Float64()*4000 - 2000}
		assertPointNear(t, p, c.ToScreen(c.ToWorld(p)), "iteration %d", i)
		assertPointNear(t, p, c.ToWorld(c.ToScreen(p)), "iteration %d", i)
	}
}

func TestZoomAt_AnchorInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		c := NewCoordinateSpace()
		c.SetOffset(valueobjects.Point{X: rng.Float64()*1000 - 500, Y: rng.Float64()*1000 - 500})
		c.SetScale(MinScale + rng.Float64()*(MaxScale-MinScale))

		anchor := valueobjects.Point{X: rng.Float64() * 1920, Y: rng.Float64() * 1080}
		before := c.ToWorld(anchor)

		// includes out-of-range targets that get clamped
		c.ZoomAt(anchor, rng.Float64()*4)

		assertPointNear(t, before, c.ToWorld(anchor), "iteration %d", i)
		assert.GreaterOrEqual(t, c.Scale(), MinScale)
		assert.LessOrEqual(t, c.Scale(), MaxScale)
	}
}

func TestZoomBy(t *testing.T) {
	c := NewCoordinateSpace()
	anchor := valueobjects.Point{X: 400, Y: 300}
	before := c.ToWorld(anchor)

	c.ZoomBy(anchor, 1.5)
	c.ZoomBy(anchor, 1.5)

	assert.InDelta(t, 2.25, c.Scale(), tolerance)
	assertPointNear(t, before, c.ToWorld(anchor))
}

func TestPan(t *testing.T) {
	c := NewCoordinateSpace()
	c.SetScale(2)
	world := valueobjects.Point{X: 10, Y: 10}
	before := c.ToScreen(world)

	c.Pan(30, -40)

	after := c.ToScreen(world)
	assertPointNear(t, valueobjects.Point{X: before.X + 30, Y: before.Y - 40}, after)
}

func TestVisibleRectAndCenter(t *testing.T) {
	c := NewCoordinateSpace()
	c.SetOffset(valueobjects.Point{X: 100, Y: 200})
	c.SetScale(0.5)

	r := c.VisibleRect(800, 600)
	assert.Equal(t, valueobjects.Rect{X: 100, Y: 200, Width: 1600, Height: 1200}, r)
	assert.Equal(t, valueobjects.Point{X: 900, Y: 800}, c.Center(800, 600))

	c.CenterOn(valueobjects.Point{X: 0, Y: 0}, 800, 600)
	assertPointNear(t, valueobjects.Point{}, c.Center(800, 600))
}

func TestInvalidInputsIgnored(t *testing.T) {
	c := NewCoordinateSpace()
	c.SetOffset(valueobjects.Point{X: math.NaN(), Y: 0})
	c.ZoomAt(valueobjects.Point{X: math.Inf(1), Y: 0}, 2)

	assert.Equal(t, valueobjects.Point{}, c.Offset())
	assert.Equal(t, 1.0, c.Scale())
}
