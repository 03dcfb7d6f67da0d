package aggregates

import (
	"fmt"

	"learngraph/domain/core/entities"
	"learngraph/domain/core/valueobjects"
	"learngraph/domain/events"
	pkgerrors "learngraph/pkg/errors"
)

// EdgeOption sets optional edge attributes
type EdgeOption func(*entities.Edge)

// WithLabel sets the edge label
func WithLabel(label string) EdgeOption {
	return func(e *entities.Edge) { e.Label = label }
}

// WithColor sets the edge color
func WithColor(color string) EdgeOption {
	return func(e *entities.Edge) { e.Color = color }
}

// WithLineStyle sets how the edge is drawn
func WithLineStyle(style entities.LineStyle) EdgeOption {
	return func(e *entities.Edge) { e.LineStyle = style }
}

// WithArrow draws an arrow head at the To end
func WithArrow() EdgeOption {
	return func(e *entities.Edge) { e.ShowArrow = true }
}

// AddEdge connects two existing nodes. Adding an edge that already exists
// in either direction is a no-op and returns added=false. An edge touching
// a tentative node is itself tentative.
func (g *GraphStore) AddEdge(from, to valueobjects.NodeID, opts ...EdgeOption) (added bool, err error) {
	return g.addEdge(from, to, false, opts)
}

// AddTentativeEdge connects two nodes with an edge pending approval
func (g *GraphStore) AddTentativeEdge(from, to valueobjects.NodeID, opts ...EdgeOption) (added bool, err error) {
	return g.addEdge(from, to, true, opts)
}

func (g *GraphStore) addEdge(from, to valueobjects.NodeID, tentative bool, opts []EdgeOption) (bool, error) {
	if from == to {
		return false, pkgerrors.NewValidationError("cannot connect a node to itself")
	}
	src, err := g.lookup(from)
	if err != nil {
		return false, err
	}
	dst, err := g.lookup(to)
	if err != nil {
		return false, err
	}
	if _, exists := g.edges[entities.EdgeKey(from, to)]; exists {
		return false, nil
	}

	edge := &entities.Edge{
		From:      from,
		To:        to,
		LineStyle: entities.LineStyleSolid,
		Tentative: tentative || src.Tentative || dst.Tentative,
	}
	for _, opt := range opts {
		opt(edge)
	}

	g.insertEdge(edge)
	g.emit(events.NewEdgeChange(events.EdgeAdded, from, to, edge.Tentative, g.now()))
	return true, nil
}

func (g *GraphStore) insertEdge(e *entities.Edge) {
	key := e.Key()
	g.edges[key] = e
	g.edgeOrder = append(g.edgeOrder, key)
}

// RemoveEdge deletes the edge between from and to, in either direction
func (g *GraphStore) RemoveEdge(from, to valueobjects.NodeID) error {
	key := entities.EdgeKey(from, to)
	e, ok := g.edges[key]
	if !ok {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("edge %s-%s", from, to))
	}
	delete(g.edges, key)
	for i, k := range g.edgeOrder {
		if k == key {
			g.edgeOrder = append(g.edgeOrder[:i], g.edgeOrder[i+1:]...)
			break
		}
	}
	g.emit(events.NewEdgeChange(events.EdgeRemoved, e.From, e.To, e.Tentative, g.now()))
	return nil
}

// FindEdge returns the edge between a and b in either direction
func (g *GraphStore) FindEdge(a, b valueobjects.NodeID) (entities.Edge, bool) {
	e, ok := g.edges[entities.EdgeKey(a, b)]
	if !ok {
		return entities.Edge{}, false
	}
	return *e, true
}

// Edges returns copies of all edges in insertion order
func (g *GraphStore) Edges() []entities.Edge {
	out := make([]entities.Edge, 0, len(g.edgeOrder))
	for _, key := range g.edgeOrder {
		out = append(out, *g.edges[key])
	}
	return out
}

// ApprovedEdges returns copies of the non-tentative edges
func (g *GraphStore) ApprovedEdges() []entities.Edge {
	out := make([]entities.Edge, 0, len(g.edgeOrder))
	for _, key := range g.edgeOrder {
		if e := g.edges[key]; !e.Tentative {
			out = append(out, *e)
		}
	}
	return out
}

// EdgesOf returns the edges touching id
func (g *GraphStore) EdgesOf(id valueobjects.NodeID) []entities.Edge {
	var out []entities.Edge
	for _, key := range g.edgeOrder {
		if e := g.edges[key]; e.Touches(id) {
			out = append(out, *e)
		}
	}
	return out
}

// EdgeCount returns the number of edges
func (g *GraphStore) EdgeCount() int {
	return len(g.edges)
}
