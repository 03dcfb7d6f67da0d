package entities

import (
	"learngraph/domain/core/valueobjects"
)

// LineStyle describes how an edge is drawn
type LineStyle string

const (
	LineStyleSolid  LineStyle = "solid"
	LineStyleDashed LineStyle = "dashed"
	LineStyleDotted LineStyle = "dotted"
)

// Edge connects two nodes. Edges are undirected for identity purposes:
// at most one edge may exist between a pair of nodes.
type Edge struct {
	From      valueobjects.NodeID `json:"from"`
	To        valueobjects.NodeID `json:"to"`
	Label     string              `json:"label,omitempty"`
	Color     string              `json:"color,omitempty"`
	LineStyle LineStyle           `json:"lineStyle,omitempty"`
	ShowArrow bool                `json:"showArrow,omitempty"`
	Tentative bool                `json:"tentative,omitempty"`
}

// EdgeKey returns the direction-independent key for a node pair
func EdgeKey(a, b valueobjects.NodeID) string {
	if b < a {
		a, b = b, a
	}
	return string(a) + "\x00" + string(b)
}

// Key returns the edge's direction-independent key
func (e *Edge) Key() string {
	return EdgeKey(e.From, e.To)
}

// Touches reports whether id is one of the edge's endpoints
func (e *Edge) Touches(id valueobjects.NodeID) bool {
	return e.From == id || e.To == id
}

// Other returns the endpoint opposite id
func (e *Edge) Other(id valueobjects.NodeID) valueobjects.NodeID {
	if e.From == id {
		return e.To
	}
	return e.From
}
