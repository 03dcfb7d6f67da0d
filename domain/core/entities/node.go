package entities

import (
	"math"
	"strings"
	"time"

	"learngraph/domain/core/valueobjects"
	pkgerrors "learngraph/pkg/errors"
)

// DueDateLayout is the calendar-date format used for node due dates
const DueDateLayout = "2006-01-02"

// MaxTitleLength bounds node titles
const MaxTitleLength = 200

// Node is one unit of the learner's graph. Nodes carry no rendering
// state; views are tracked separately by id.
//
// The GraphStore hands out copies, so mutating a returned Node does not
// change the graph.
type Node struct {
	ID         valueobjects.NodeID   `json:"id"`
	Type       valueobjects.NodeType `json:"type"`
	Title      string                `json:"title"`
	Content    string                `json:"content,omitempty"`
	DueDate    string                `json:"dueDate,omitempty"`
	Position   valueobjects.Point    `json:"position"`
	Confidence *float64              `json:"confidence,omitempty"`
	Tentative  bool                  `json:"tentative,omitempty"`
	CreatedAt  time.Time             `json:"createdAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// NormalizeTitle trims a title and enforces the length bounds
func NormalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", pkgerrors.NewValidationError("title cannot be empty")
	}
	if len(title) > MaxTitleLength {
		return "", pkgerrors.NewValidationError("title cannot exceed 200 characters")
	}
	return title, nil
}

// ValidateDueDate accepts an empty string or a YYYY-MM-DD date
func ValidateDueDate(due string) error {
	if due == "" {
		return nil
	}
	if _, err := time.Parse(DueDateLayout, due); err != nil {
		return pkgerrors.NewValidationError("due date must be formatted as YYYY-MM-DD")
	}
	return nil
}

// ValidateConfidence checks that c is within [0, 1]
func ValidateConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return pkgerrors.NewValidationError("confidence must be between 0 and 1")
	}
	return nil
}

// Validate checks the node's own fields. Type membership and id
// uniqueness depend on the graph and are checked there.
func (n *Node) Validate() error {
	if n.ID.IsZero() {
		return pkgerrors.NewValidationError("node id cannot be empty")
	}
	if _, err := NormalizeTitle(n.Title); err != nil {
		return err
	}
	if !n.Position.IsValid() {
		return pkgerrors.NewValidationError("node position must be finite")
	}
	if err := ValidateDueDate(n.DueDate); err != nil {
		return err
	}
	if n.Confidence != nil {
		if !n.Tentative {
			return pkgerrors.NewValidationError("confidence is only allowed on tentative nodes")
		}
		if err := ValidateConfidence(*n.Confidence); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy
func (n *Node) Clone() Node {
	c := *n
	if n.Confidence != nil {
		v := *n.Confidence
		c.Confidence = &v
	}
	return c
}
