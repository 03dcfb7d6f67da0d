package valueobjects

import (
	"errors"
	"regexp"
	"strings"
)

// NodeType classifies what a node represents in the learner's graph
type NodeType string

const (
	NodeTypeMotivator  NodeType = "motivator"
	NodeTypeTask       NodeType = "task"
	NodeTypeChallenge  NodeType = "challenge"
	NodeTypeIdea       NodeType = "idea"
	NodeTypeClass      NodeType = "class"
	NodeTypeAssignment NodeType = "assignment"
	NodeTypeTest       NodeType = "test"
	NodeTypeProject    NodeType = "project"
	NodeTypeEssay      NodeType = "essay"
	NodeTypeImage      NodeType = "image"
)

var builtinNodeTypes = []NodeType{
	NodeTypeMotivator,
	NodeTypeTask,
	NodeTypeChallenge,
	NodeTypeIdea,
	NodeTypeClass,
	NodeTypeAssignment,
	NodeTypeTest,
	NodeTypeProject,
	NodeTypeEssay,
	NodeTypeImage,
}

var nodeTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// BuiltinNodeTypes returns the fixed node types in display order
func BuiltinNodeTypes() []NodeType {
	out := make([]NodeType, len(builtinNodeTypes))
	copy(out, builtinNodeTypes)
	return out
}

// ParseNodeType normalizes s and checks that it is a well-formed type name.
// Whether the type is known is decided by the graph's type registry.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return "", errors.New("node type cannot be empty")
	}
	if !nodeTypePattern.MatchString(string(t)) {
		return "", errors.New("node type must be lowercase letters, digits, '-' or '_'")
	}
	return t, nil
}

// IsBuiltin reports whether t is one of the fixed node types
func (t NodeType) IsBuiltin() bool {
	for _, b := range builtinNodeTypes {
		if t == b {
			return true
		}
	}
	return false
}

// CarriesContent reports whether the node's content is part of the
// persisted tree. Only image nodes store their payload.
func (t NodeType) CarriesContent() bool {
	return t == NodeTypeImage
}

func (t NodeType) String() string {
	return string(t)
}
