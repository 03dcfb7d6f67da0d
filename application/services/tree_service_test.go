package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"learngraph/application/ports"
	"learngraph/domain/events"
	"learngraph/infrastructure/messaging/local"
	"learngraph/infrastructure/persistence/memory"
	pkgerrors "learngraph/pkg/errors"
	"learngraph/pkg/timing"
)

type saveRecorder struct {
	mu      sync.Mutex
	results []string
}

func (r *saveRecorder) ObserveTreeSave(operation, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, operation+":"+result)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.DomainEvent) error {
	return errors.New("bus down")
}

func (failingPublisher) PublishBatch(context.Context, []events.DomainEvent) error {
	return errors.New("bus down")
}

func sampleTree() *ports.TreeRecord {
	return &ports.TreeRecord{
		Nodes: []ports.TreeNodeRecord{
			{ID: "goal-1", Type: "motivator", Title: "Learn Go", X: 10, Y: 20},
			{ID: "task-1", Type: "task", Title: "Read the tour", DueDate: "2024-10-01"},
		},
		Edges: []ports.TreeEdgeRecord{{From: "goal-1", To: "task-1"}},
	}
}

func newTreeServiceFixture() (*TreeService, *memory.TreeStore, *local.Publisher, *saveRecorder, *timing.FakeClock) {
	store := memory.NewTreeStore()
	pub := local.NewPublisher(nil, 10)
	obs := &saveRecorder{}
	clock := timing.NewFakeClock(gatewayEpoch)
	return NewTreeService(store, pub, obs, clock, nil), store, pub, obs, clock
}

func TestTreeService_PutAndGet(t *testing.T) {
	svc, _, pub, obs, clock := newTreeServiceFixture()
	ctx := context.Background()

	_, err := svc.GetTree(ctx, "user-1")
	assert.True(t, pkgerrors.IsNotFound(err))

	require.NoError(t, svc.PutTree(ctx, "user-1", sampleTree()))

	clock.Advance(time.Minute)
	got, err := svc.GetTree(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Len(t, got.Nodes, 2)
	assert.Len(t, got.Edges, 1)
	assert.Equal(t, gatewayEpoch, got.UpdatedAt)
	assert.Equal(t, gatewayEpoch, got.CreatedAt)

	recent := pub.Recent()
	require.Len(t, recent, 1)
	saved, ok := recent[0].(events.TreeSaved)
	require.True(t, ok)
	assert.Equal(t, events.TreeSavedEvent, saved.GetEventType())
	assert.Equal(t, 2, saved.NodeCount)
	assert.Equal(t, 1, saved.EdgeCount)

	assert.Equal(t, []string{"get:not_found", "put:success", "get:success"}, obs.results)
}

func TestTreeService_PutKeepsCreatedAt(t *testing.T) {
	svc, _, _, _, clock := newTreeServiceFixture()
	ctx := context.Background()

	tree := sampleTree()
	tree.CreatedAt = gatewayEpoch.Add(-24 * time.Hour)
	clock.Advance(time.Hour)
	require.NoError(t, svc.PutTree(ctx, "user-1", tree))

	got, err := svc.GetTree(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, gatewayEpoch.Add(-24*time.Hour), got.CreatedAt)
	assert.Equal(t, gatewayEpoch.Add(time.Hour), got.UpdatedAt)
}

func TestTreeService_PutRejectsInvalidTrees(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		mutate func(*ports.TreeRecord)
	}{
		{name: "missing user", userID: "", mutate: func(*ports.TreeRecord) {}},
		{name: "user mismatch", userID: "user-1", mutate: func(tr *ports.TreeRecord) { tr.UserID = "user-2" }},
		{name: "missing title", userID: "user-1", mutate: func(tr *ports.TreeRecord) { tr.Nodes[0].Title = "" }},
		{name: "bad due date", userID: "user-1", mutate: func(tr *ports.TreeRecord) { tr.Nodes[1].DueDate = "tomorrow" }},
		{name: "bad node type", userID: "user-1", mutate: func(tr *ports.TreeRecord) { tr.Nodes[0].Type = "Goal!" }},
		{name: "duplicate node", userID: "user-1", mutate: func(tr *ports.TreeRecord) { tr.Nodes[1].ID = "goal-1" }},
		{name: "dangling edge", userID: "user-1", mutate: func(tr *ports.TreeRecord) { tr.Edges[0].To = "ghost" }},
		{name: "self loop", userID: "user-1", mutate: func(tr *ports.TreeRecord) { tr.Edges[0].To = "goal-1" }},
		{name: "reverse duplicate edge", userID: "user-1", mutate: func(tr *ports.TreeRecord) {
			tr.Edges = append(tr.Edges, ports.TreeEdgeRecord{From: "task-1", To: "goal-1"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, pub, _, _ := newTreeServiceFixture()
			tree := sampleTree()
			tt.mutate(tree)

			err := svc.PutTree(context.Background(), tt.userID, tree)
			assert.True(t, pkgerrors.IsValidation(err), "got %v", err)
			assert.Equal(t, 0, store.Len())
			assert.Empty(t, pub.Recent())
		})
	}
}

func TestTreeService_PutNilTree(t *testing.T) {
	svc, _, _, _, _ := newTreeServiceFixture()
	err := svc.PutTree(context.Background(), "user-1", nil)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestTreeService_CreateTree(t *testing.T) {
	svc, _, pub, obs, _ := newTreeServiceFixture()
	ctx := context.Background()

	created, err := svc.CreateTree(ctx, "user-1", ports.NewEmptyTree("user-1", gatewayEpoch))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.CreateTree(ctx, "user-1", sampleTree())
	require.NoError(t, err)
	assert.False(t, created)

	got, err := svc.GetTree(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, got.Nodes)

	recent := pub.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, events.TreeBootstrappedEvent, recent[0].GetEventType())
	assert.Equal(t, []string{"create:success", "create:exists", "get:success"}, obs.results)
}

func TestTreeService_CreateTreeWithoutConditionalStore(t *testing.T) {
	trees := new(MockTreeStore)
	trees.On("GetTree", mock.Anything, "user-1").Return(nil, pkgerrors.NewNotFoundError("tree")).Once()
	trees.On("PutTree", mock.Anything, mock.Anything).Return(nil).Once()
	svc := NewTreeService(trees, nil, nil, timing.NewFakeClock(gatewayEpoch), nil)

	created, err := svc.CreateTree(context.Background(), "user-1", ports.NewEmptyTree("user-1", gatewayEpoch))
	require.NoError(t, err)
	assert.True(t, created)

	trees.On("GetTree", mock.Anything, "user-1").Return(ports.NewEmptyTree("user-1", gatewayEpoch), nil).Once()
	created, err = svc.CreateTree(context.Background(), "user-1", ports.NewEmptyTree("user-1", gatewayEpoch))
	require.NoError(t, err)
	assert.False(t, created)
	trees.AssertExpectations(t)
}

func TestTreeService_StoreFailure(t *testing.T) {
	trees := new(MockTreeStore)
	trees.On("PutTree", mock.Anything, mock.Anything).Return(pkgerrors.NewDatabaseError("put", errors.New("disk full")))
	obs := &saveRecorder{}
	pub := local.NewPublisher(nil, 10)
	svc := NewTreeService(trees, pub, obs, timing.NewFakeClock(gatewayEpoch), nil)

	err := svc.PutTree(context.Background(), "user-1", sampleTree())
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDatabase))
	assert.Empty(t, pub.Recent())
	assert.Equal(t, []string{"put:error"}, obs.results)
}

func TestTreeService_PublishFailureIsNotFatal(t *testing.T) {
	store := memory.NewTreeStore()
	svc := NewTreeService(store, failingPublisher{}, nil, timing.NewFakeClock(gatewayEpoch), nil)

	require.NoError(t, svc.PutTree(context.Background(), "user-1", sampleTree()))
	assert.Equal(t, 1, store.Len())
}
