package events

import (
	"time"

	"learngraph/domain/core/valueobjects"
)

// ChangeKind names a graph mutation
type ChangeKind string

const (
	NodeCreated        ChangeKind = "node.created"
	NodeDeleted        ChangeKind = "node.deleted"
	NodeMoved          ChangeKind = "node.moved"
	NodeRenamed        ChangeKind = "node.renamed"
	NodeContentUpdated ChangeKind = "node.content_updated"
	NodeDueDateSet     ChangeKind = "node.due_date_set"
	NodeApproved       ChangeKind = "node.approved"
	NodeDismissed      ChangeKind = "node.dismissed"
	EdgeAdded          ChangeKind = "edge.added"
	EdgeRemoved        ChangeKind = "edge.removed"
	EdgeApproved       ChangeKind = "edge.approved"
	GraphReset         ChangeKind = "graph.reset"
	GraphRestored      ChangeKind = "graph.restored"
)

// GraphChanged is emitted synchronously by the graph store after every
// mutation. Edge changes carry From/To; node changes carry NodeID.
type GraphChanged struct {
	BaseEvent
	Kind      ChangeKind          `json:"kind"`
	NodeID    valueobjects.NodeID `json:"node_id,omitempty"`
	From      valueobjects.NodeID `json:"from,omitempty"`
	To        valueobjects.NodeID `json:"to,omitempty"`
	Tentative bool                `json:"tentative,omitempty"`
}

// NewNodeChange creates a node-scoped change
func NewNodeChange(kind ChangeKind, id valueobjects.NodeID, tentative bool, at time.Time) GraphChanged {
	return GraphChanged{
		BaseEvent: BaseEvent{
			AggregateID: id.String(),
			EventType:   string(kind),
			Timestamp:   at,
			Version:     1,
		},
		Kind:      kind,
		NodeID:    id,
		Tentative: tentative,
	}
}

// NewEdgeChange creates an edge-scoped change
func NewEdgeChange(kind ChangeKind, from, to valueobjects.NodeID, tentative bool, at time.Time) GraphChanged {
	return GraphChanged{
		BaseEvent: BaseEvent{
			AggregateID: from.String() + "->" + to.String(),
			EventType:   string(kind),
			Timestamp:   at,
			Version:     1,
		},
		Kind:      kind,
		From:      from,
		To:        to,
		Tentative: tentative,
	}
}

// NewGraphChange creates a whole-graph change such as a reset
func NewGraphChange(kind ChangeKind, at time.Time) GraphChanged {
	return GraphChanged{
		BaseEvent: BaseEvent{
			AggregateID: "graph",
			EventType:   string(kind),
			Timestamp:   at,
			Version:     1,
		},
		Kind: kind,
	}
}

// AffectsPersistence reports whether the change alters the approved
// graph and therefore needs a save. Tentative edits and the load path
// itself (reset/restore) do not.
func (c GraphChanged) AffectsPersistence() bool {
	if c.Tentative {
		return false
	}
	return c.Kind != GraphReset && c.Kind != GraphRestored
}

// IsEdgeChange reports whether the change concerns an edge
func (c GraphChanged) IsEdgeChange() bool {
	switch c.Kind {
	case EdgeAdded, EdgeRemoved, EdgeApproved:
		return true
	}
	return false
}
