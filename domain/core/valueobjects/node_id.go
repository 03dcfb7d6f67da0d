package valueobjects

import (
	"errors"
	"strconv"
	"strings"
)

// NodeID identifies a node within a graph. Ids allocated locally are
// decimal counters; ids loaded from storage are opaque strings.
type NodeID string

// NewNodeIDFromString creates a NodeID from an existing string
func NewNodeIDFromString(id string) (NodeID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("node ID cannot be empty")
	}
	if len(id) > 128 {
		return "", errors.New("node ID cannot exceed 128 characters")
	}
	return NodeID(id), nil
}

// NumericNodeID formats a counter value as a NodeID
func NumericNodeID(n int) NodeID {
	return NodeID(strconv.Itoa(n))
}

// Numeric returns the counter value of a numeric-looking id
func (id NodeID) Numeric() (int, bool) {
	s := string(id)
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// String returns the string representation of the NodeID
func (id NodeID) String() string {
	return string(id)
}

// IsZero checks if the NodeID is the zero value
func (id NodeID) IsZero() bool {
	return id == ""
}
