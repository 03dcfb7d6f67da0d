package services

import (
	"time"

	"learngraph/application/ports"
	"learngraph/domain/core/aggregates"
	"learngraph/domain/core/entities"
	"learngraph/domain/core/valueobjects"
)

// TreeFromSnapshot converts approved graph state into its persisted form.
// Tentative elements are dropped; content is kept only for node types
// that carry it.
func TreeFromSnapshot(userID string, snap aggregates.Snapshot, createdAt, updatedAt time.Time) *ports.TreeRecord {
	rec := &ports.TreeRecord{
		UserID:    userID,
		Nodes:     make([]ports.TreeNodeRecord, 0, len(snap.Nodes)),
		Edges:     make([]ports.TreeEdgeRecord, 0, len(snap.Edges)),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	for _, n := range snap.Nodes {
		if n.Tentative {
			continue
		}
		nr := ports.TreeNodeRecord{
			ID:      n.ID.String(),
			Type:    n.Type.String(),
			Title:   n.Title,
			X:       n.Position.X,
			Y:       n.Position.Y,
			DueDate: n.DueDate,
		}
		if n.Type.CarriesContent() {
			nr.Content = n.Content
		}
		rec.Nodes = append(rec.Nodes, nr)
	}
	for _, e := range snap.Edges {
		if e.Tentative {
			continue
		}
		rec.Edges = append(rec.Edges, ports.TreeEdgeRecord{From: e.From.String(), To: e.To.String()})
	}
	return rec
}

// EntitiesFromTree converts a persisted tree back into graph entities
func EntitiesFromTree(rec *ports.TreeRecord, now time.Time) ([]entities.Node, []entities.Edge) {
	nodes := make([]entities.Node, 0, len(rec.Nodes))
	for _, nr := range rec.Nodes {
		nodes = append(nodes, entities.Node{
			ID:        valueobjects.NodeID(nr.ID),
			Type:      valueobjects.NodeType(nr.Type),
			Title:     nr.Title,
			Content:   nr.Content,
			DueDate:   nr.DueDate,
			Position:  valueobjects.Point{X: nr.X, Y: nr.Y},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	edges := make([]entities.Edge, 0, len(rec.Edges))
	for _, er := range rec.Edges {
		edges = append(edges, entities.Edge{
			From:      valueobjects.NodeID(er.From),
			To:        valueobjects.NodeID(er.To),
			LineStyle: entities.LineStyleSolid,
		})
	}
	return nodes, edges
}
