package aggregates

import (
	"fmt"

	"learngraph/domain/core/entities"
	"learngraph/domain/core/valueobjects"
	"learngraph/domain/events"
	pkgerrors "learngraph/pkg/errors"
)

// ApproveNode accepts a tentative node. Its confidence is dropped, and
// tentative edges whose endpoints are now both approved are approved too.
// Approving an already approved node is a no-op.
func (g *GraphStore) ApproveNode(id valueobjects.NodeID) error {
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	if !n.Tentative {
		return nil
	}

	now := g.now()
	n.Tentative = false
	n.Confidence = nil
	n.UpdatedAt = now
	g.emit(events.NewNodeChange(events.NodeApproved, id, false, now))

	for _, key := range g.edgeOrder {
		e := g.edges[key]
		if e.Tentative && e.Touches(id) && !g.nodes[e.Other(id)].Tentative {
			e.Tentative = false
			g.emit(events.NewEdgeChange(events.EdgeApproved, e.From, e.To, false, now))
		}
	}
	return nil
}

// ApproveEdge accepts a tentative edge. Both endpoints must already be
// approved so that persisted edges never reference unsaved nodes.
func (g *GraphStore) ApproveEdge(from, to valueobjects.NodeID) error {
	e, ok := g.edges[entities.EdgeKey(from, to)]
	if !ok {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("edge %s-%s", from, to))
	}
	if !e.Tentative {
		return nil
	}
	if g.nodes[e.From].Tentative || g.nodes[e.To].Tentative {
		return pkgerrors.NewValidationError("approve both endpoints before the edge")
	}
	e.Tentative = false
	g.emit(events.NewEdgeChange(events.EdgeApproved, e.From, e.To, false, g.now()))
	return nil
}

// ApproveAll accepts the whole pending subgraph and returns the number of
// nodes approved
func (g *GraphStore) ApproveAll() int {
	var pending []valueobjects.NodeID
	for _, id := range g.nodeOrder {
		if g.nodes[id].Tentative {
			pending = append(pending, id)
		}
	}
	for _, id := range pending {
		_ = g.ApproveNode(id)
	}

	now := g.now()
	for _, key := range g.edgeOrder {
		if e := g.edges[key]; e.Tentative {
			e.Tentative = false
			g.emit(events.NewEdgeChange(events.EdgeApproved, e.From, e.To, false, now))
		}
	}
	return len(pending)
}

// DismissAll rejects every tentative node and edge
func (g *GraphStore) DismissAll() int {
	var pending []valueobjects.NodeID
	for _, id := range g.nodeOrder {
		if g.nodes[id].Tentative {
			pending = append(pending, id)
		}
	}
	for _, id := range pending {
		_ = g.DismissNode(id)
	}

	var edges []entities.Edge
	for _, key := range g.edgeOrder {
		if e := g.edges[key]; e.Tentative {
			edges = append(edges, *e)
		}
	}
	for _, e := range edges {
		_ = g.RemoveEdge(e.From, e.To)
	}
	return len(pending)
}
