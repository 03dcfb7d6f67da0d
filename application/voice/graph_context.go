package voice

import (
	"encoding/json"

	"learngraph/domain/core/aggregates"
)

type contextNode struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	DueDate   string  `json:"dueDate,omitempty"`
	Tentative bool    `json:"tentative,omitempty"`
}

type contextEdge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Tentative bool   `json:"tentative,omitempty"`
}

type graphContext struct {
	Nodes []contextNode `json:"nodes"`
	Edges []contextEdge `json:"edges"`
}

// GraphContext renders the current graph as the text the agent sees
// alongside each response request. Node content is left out to keep the
// message small.
func GraphContext(snap aggregates.Snapshot) string {
	gc := graphContext{
		Nodes: make([]contextNode, 0, len(snap.Nodes)),
		Edges: make([]contextEdge, 0, len(snap.Edges)),
	}
	for _, n := range snap.Nodes {
		gc.Nodes = append(gc.Nodes, contextNode{
			ID:        n.ID.String(),
			Type:      n.Type.String(),
			Title:     n.Title,
			X:         n.Position.X,
			Y:         n.Position.Y,
			DueDate:   n.DueDate,
			Tentative: n.Tentative,
		})
	}
	for _, e := range snap.Edges {
		gc.Edges = append(gc.Edges, contextEdge{From: e.From.String(), To: e.To.String(), Tentative: e.Tentative})
	}
	data, err := json.Marshal(gc)
	if err != nil {
		return `{"nodes":[],"edges":[]}`
	}
	return "Current learning graph: " + string(data)
}
