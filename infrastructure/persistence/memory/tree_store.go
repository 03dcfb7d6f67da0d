package memory

import (
	"context"
	"sync"

	"learngraph/application/ports"
	pkgerrors "learngraph/pkg/errors"
)

// TreeStore keeps trees in process memory. Used for local development
// and tests.
type TreeStore struct {
	mu    sync.RWMutex
	trees map[string]*ports.TreeRecord
}

// NewTreeStore creates an empty store
func NewTreeStore() *TreeStore {
	return &TreeStore{trees: make(map[string]*ports.TreeRecord)}
}

// GetTree returns a copy of the stored tree
func (s *TreeStore) GetTree(ctx context.Context, userID string) (*ports.TreeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.trees[userID]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("tree")
	}
	return cloneTree(rec), nil
}

// PutTree stores a copy of tree
func (s *TreeStore) PutTree(ctx context.Context, tree *ports.TreeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tree == nil || tree.UserID == "" {
		return pkgerrors.NewValidationError("tree userId is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[tree.UserID] = cloneTree(tree)
	return nil
}

// CreateTreeIfAbsent stores tree only if the user has none
func (s *TreeStore) CreateTreeIfAbsent(ctx context.Context, tree *ports.TreeRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if tree == nil || tree.UserID == "" {
		return false, pkgerrors.NewValidationError("tree userId is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.trees[tree.UserID]; exists {
		return false, nil
	}
	s.trees[tree.UserID] = cloneTree(tree)
	return true, nil
}

// Len returns the number of stored trees
func (s *TreeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trees)
}

func cloneTree(rec *ports.TreeRecord) *ports.TreeRecord {
	c := *rec
	c.Nodes = append([]ports.TreeNodeRecord{}, rec.Nodes...)
	c.Edges = append([]ports.TreeEdgeRecord{}, rec.Edges...)
	return &c
}
