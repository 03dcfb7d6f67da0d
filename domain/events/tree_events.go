package events

import (
	"time"
)

const (
	TreeSavedEvent        = "tree.saved"
	TreeBootstrappedEvent = "tree.bootstrapped"
)

// TreeSaved is raised by the backend after a tree snapshot is stored
type TreeSaved struct {
	BaseEvent
	UserID    string `json:"user_id"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

// NewTreeSaved creates a TreeSaved event
func NewTreeSaved(userID string, nodeCount, edgeCount int, at time.Time) TreeSaved {
	return TreeSaved{
		BaseEvent: newBaseEvent(userID, TreeSavedEvent, at),
		UserID:    userID,
		NodeCount: nodeCount,
		EdgeCount: edgeCount,
	}
}

// TreeBootstrapped is raised when an empty tree is created on first use
type TreeBootstrapped struct {
	BaseEvent
	UserID string `json:"user_id"`
}

// NewTreeBootstrapped creates a TreeBootstrapped event
func NewTreeBootstrapped(userID string, at time.Time) TreeBootstrapped {
	return TreeBootstrapped{
		BaseEvent: newBaseEvent(userID, TreeBootstrappedEvent, at),
		UserID:    userID,
	}
}
