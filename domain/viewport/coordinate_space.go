package viewport

import (
	"math"

	"learngraph/domain/core/valueobjects"
)

const (
	MinScale = 0.1
	MaxScale = 3.0
)

// CoordinateSpace maps world coordinates, where nodes live, to screen
// pixels under the current pan offset and zoom scale.
//
//	screen = (world - offset) * scale
//	world  = screen / scale + offset
type CoordinateSpace struct {
	offsetX float64
	offsetY float64
	scale   float64
}

// NewCoordinateSpace returns an unpanned space at scale 1
func NewCoordinateSpace() *CoordinateSpace {
	return &CoordinateSpace{scale: 1}
}

// ClampScale limits s to [MinScale, MaxScale]. Non-finite values map to 1.
func ClampScale(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 1
	}
	return math.Max(MinScale, math.Min(MaxScale, s))
}

// Scale returns the current zoom factor
func (c *CoordinateSpace) Scale() float64 {
	return c.scale
}

// Offset returns the world coordinate shown at the screen origin
func (c *CoordinateSpace) Offset() valueobjects.Point {
	return valueobjects.Point{X: c.offsetX, Y: c.offsetY}
}

// SetOffset pans so that world point p sits at the screen origin
func (c *CoordinateSpace) SetOffset(p valueobjects.Point) {
	if !p.IsValid() {
		return
	}
	c.offsetX, c.offsetY = p.X, p.Y
}

// SetScale changes the zoom around the screen origin
func (c *CoordinateSpace) SetScale(s float64) {
	c.scale = ClampScale(s)
}

// ToScreen converts a world point to screen pixels
func (c *CoordinateSpace) ToScreen(world valueobjects.Point) valueobjects.Point {
	return valueobjects.Point{
		X: (world.X - c.offsetX) * c.scale,
		Y: (world.Y - c.offsetY) * c.scale,
	}
}

// ToWorld converts screen pixels to a world point
func (c *CoordinateSpace) ToWorld(screen valueobjects.Point) valueobjects.Point {
	return valueobjects.Point{
		X: screen.X/c.scale + c.offsetX,
		Y: screen.Y/c.scale + c.offsetY,
	}
}

// ZoomAt changes the scale while keeping the world point under the screen
// anchor fixed, so ToWorld(anchor) is the same before and after.
func (c *CoordinateSpace) ZoomAt(anchor valueobjects.Point, newScale float64) {
	if !anchor.IsValid() {
		return
	}
	world := c.ToWorld(anchor)
	c.scale = ClampScale(newScale)
	c.offsetX = world.X - anchor.X/c.scale
	c.offsetY = world.Y - anchor.Y/c.scale
}

// ZoomBy multiplies the scale by factor around anchor
func (c *CoordinateSpace) ZoomBy(anchor valueobjects.Point, factor float64) {
	c.ZoomAt(anchor, c.scale*factor)
}

// Pan moves the view by a screen-space drag of (dx, dy) pixels. Content
// follows the pointer, so the offset moves the opposite way.
func (c *CoordinateSpace) Pan(dx, dy float64) {
	c.offsetX -= dx / c.scale
	c.offsetY -= dy / c.scale
}

// VisibleRect returns the world rectangle covered by a viewport of the
// given pixel size
func (c *CoordinateSpace) VisibleRect(width, height float64) valueobjects.Rect {
	return valueobjects.Rect{
		X:      c.offsetX,
		Y:      c.offsetY,
		Width:  width / c.scale,
		Height: height / c.scale,
	}
}

// Center returns the world point at the middle of a viewport of the given
// pixel size
func (c *CoordinateSpace) Center(width, height float64) valueobjects.Point {
	return c.ToWorld(valueobjects.Point{X: width / 2, Y: height / 2})
}

// CenterOn pans so that world point p is in the middle of the viewport
func (c *CoordinateSpace) CenterOn(p valueobjects.Point, width, height float64) {
	if !p.IsValid() {
		return
	}
	c.offsetX = p.X - width/2/c.scale
	c.offsetY = p.Y - height/2/c.scale
}
