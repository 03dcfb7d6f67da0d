package valueobjects

import (
	"fmt"
	"math"
)

// Point is a 2D coordinate. Graph nodes store world coordinates; the
// viewport converts them to screen pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint creates a point, rejecting NaN and infinite coordinates
func NewPoint(x, y float64) (Point, error) {
	if !isFinite(x) || !isFinite(y) {
		return Point{}, fmt.Errorf("invalid coordinates: (%v, %v)", x, y)
	}
	return Point{X: x, Y: y}, nil
}

// IsValid reports whether both coordinates are finite
func (p Point) IsValid() bool {
	return isFinite(p.X) && isFinite(p.Y)
}

// Add returns p translated by (dx, dy)
func (p Point) Add(dx, dy float64) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// DistanceTo calculates the Euclidean distance to another point
func (p Point) DistanceTo(other Point) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewRect creates a rectangle; negative extents are normalized so that
// dragging a selection up or left still yields a usable rect.
func NewRect(x, y, width, height float64) (Rect, error) {
	if !isFinite(x) || !isFinite(y) || !isFinite(width) || !isFinite(height) {
		return Rect{}, fmt.Errorf("invalid rect: (%v, %v, %v, %v)", x, y, width, height)
	}
	if width < 0 {
		x, width = x+width, -width
	}
	if height < 0 {
		y, height = y+height, -height
	}
	return Rect{X: x, Y: y, Width: width, Height: height}, nil
}

// Contains reports whether p lies inside r, edges included
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Center returns the midpoint of r
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
