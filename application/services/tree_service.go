package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"learngraph/application/ports"
	"learngraph/domain/core/valueobjects"
	"learngraph/domain/events"
	pkgerrors "learngraph/pkg/errors"
	"learngraph/pkg/timing"
	"learngraph/pkg/validation"
)

// TreeService backs the persistence endpoint. It validates incoming
// snapshots, enforces referential integrity and publishes tree events.
type TreeService struct {
	trees     ports.TreeStore
	publisher ports.EventPublisher
	observer  SaveObserver
	validate  *validation.Validator
	clock     timing.Clock
	logger    *zap.Logger
}

// NewTreeService creates a new tree service. publisher and observer may
// be nil.
func NewTreeService(
	trees ports.TreeStore,
	publisher ports.EventPublisher,
	observer SaveObserver,
	clock timing.Clock,
	logger *zap.Logger,
) *TreeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TreeService{
		trees:     trees,
		publisher: publisher,
		observer:  observer,
		validate:  validation.Default(),
		clock:     timing.OrReal(clock),
		logger:    logger,
	}
}

// GetTree returns the user's tree. A missing tree is a NotFound error;
// the client bootstraps on it.
func (s *TreeService) GetTree(ctx context.Context, userID string) (*ports.TreeRecord, error) {
	if userID == "" {
		return nil, pkgerrors.NewValidationError("user id is required")
	}
	start := s.clock.Now()
	rec, err := s.trees.GetTree(ctx, userID)
	switch {
	case err == nil:
		s.observe("get", "success", start)
	case pkgerrors.IsNotFound(err):
		s.observe("get", "not_found", start)
	default:
		s.observe("get", "error", start)
		s.logger.Error("Failed to load tree", zap.String("userId", userID), zap.Error(err))
	}
	return rec, err
}

// PutTree validates and replaces the user's tree
func (s *TreeService) PutTree(ctx context.Context, userID string, tree *ports.TreeRecord) error {
	if err := s.prepare(userID, tree); err != nil {
		return err
	}

	start := s.clock.Now()
	if err := s.trees.PutTree(ctx, tree); err != nil {
		s.observe("put", "error", start)
		s.logger.Error("Failed to store tree", zap.String("userId", userID), zap.Error(err))
		return err
	}
	s.observe("put", "success", start)

	s.logger.Info("Tree stored",
		zap.String("userId", userID),
		zap.Int("nodeCount", len(tree.Nodes)),
		zap.Int("edgeCount", len(tree.Edges)),
	)
	s.publish(ctx, events.NewTreeSaved(userID, len(tree.Nodes), len(tree.Edges), tree.UpdatedAt))
	return nil
}

// CreateTree stores tree only when the user has none. A store that
// cannot create conditionally falls back to a read followed by a write.
func (s *TreeService) CreateTree(ctx context.Context, userID string, tree *ports.TreeRecord) (bool, error) {
	if err := s.prepare(userID, tree); err != nil {
		return false, err
	}

	start := s.clock.Now()
	created, err := s.createIfAbsent(ctx, tree)
	if err != nil {
		s.observe("create", "error", start)
		s.logger.Error("Failed to create tree", zap.String("userId", userID), zap.Error(err))
		return false, err
	}
	if !created {
		s.observe("create", "exists", start)
		return false, nil
	}
	s.observe("create", "success", start)

	s.logger.Info("Tree bootstrapped", zap.String("userId", userID))
	s.publish(ctx, events.NewTreeBootstrapped(userID, tree.CreatedAt))
	return true, nil
}

func (s *TreeService) createIfAbsent(ctx context.Context, tree *ports.TreeRecord) (bool, error) {
	if creator, ok := s.trees.(ports.TreeCreator); ok {
		return creator.CreateTreeIfAbsent(ctx, tree)
	}
	_, err := s.trees.GetTree(ctx, tree.UserID)
	if err == nil {
		return false, nil
	}
	if !pkgerrors.IsNotFound(err) {
		return false, err
	}
	return true, s.trees.PutTree(ctx, tree)
}

// prepare binds the tree to userID, fills timestamps and validates it
func (s *TreeService) prepare(userID string, tree *ports.TreeRecord) error {
	if userID == "" {
		return pkgerrors.NewValidationError("user id is required")
	}
	if tree == nil {
		return pkgerrors.NewValidationError("tree body is required")
	}
	if tree.UserID != "" && tree.UserID != userID {
		return pkgerrors.NewValidationError("tree userId does not match path")
	}
	tree.UserID = userID

	now := s.clock.Now().UTC()
	if tree.CreatedAt.IsZero() {
		tree.CreatedAt = now
	}
	tree.UpdatedAt = now
	if tree.Nodes == nil {
		tree.Nodes = []ports.TreeNodeRecord{}
	}
	if tree.Edges == nil {
		tree.Edges = []ports.TreeEdgeRecord{}
	}

	if err := s.validate.Struct(tree); err != nil {
		appErr := pkgerrors.NewValidationError("invalid tree")
		if verrs, ok := err.(validation.Errors); ok {
			appErr = appErr.WithDetails(map[string]interface{}{"fields": verrs})
		}
		return appErr.WithCause(err)
	}
	return checkReferences(tree)
}

// checkReferences enforces unique node ids and well-formed node types. Edges
// must join two distinct existing nodes, at most once in either direction.
func checkReferences(tree *ports.TreeRecord) error {
	ids := make(map[string]struct{}, len(tree.Nodes))
	for _, n := range tree.Nodes {
		if _, dup := ids[n.ID]; dup {
			return pkgerrors.NewValidationError("duplicate node id").
				WithDetails(map[string]interface{}{"nodeId": n.ID})
		}
		if _, err := valueobjects.ParseNodeType(n.Type); err != nil {
			return pkgerrors.NewValidationError("invalid node type").
				WithDetails(map[string]interface{}{"nodeId": n.ID, "type": n.Type})
		}
		ids[n.ID] = struct{}{}
	}

	type pair struct{ from, to string }
	seen := make(map[pair]struct{}, len(tree.Edges))
	for _, e := range tree.Edges {
		if e.From == e.To {
			return pkgerrors.NewValidationError("edge endpoints must differ").
				WithDetails(map[string]interface{}{"from": e.From})
		}
		_, okFrom := ids[e.From]
		_, okTo := ids[e.To]
		if !okFrom || !okTo {
			return pkgerrors.NewValidationError("edge references unknown node").
				WithDetails(map[string]interface{}{"from": e.From, "to": e.To})
		}
		key := pair{e.From, e.To}
		if key.to < key.from {
			key = pair{e.To, e.From}
		}
		if _, dup := seen[key]; dup {
			return pkgerrors.NewValidationError("duplicate edge").
				WithDetails(map[string]interface{}{"from": e.From, "to": e.To})
		}
		seen[key] = struct{}{}
	}
	return nil
}

// publish is best effort; the tree is already stored
func (s *TreeService) publish(ctx context.Context, event events.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish tree event",
			zap.String("eventType", event.GetEventType()),
			zap.String("aggregateID", event.GetAggregateID()),
			zap.Error(err),
		)
	}
}

func (s *TreeService) observe(operation, result string, start time.Time) {
	if s.observer != nil {
		s.observer.ObserveTreeSave(operation, result, s.clock.Now().Sub(start))
	}
}
