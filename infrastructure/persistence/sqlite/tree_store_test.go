package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learngraph/application/ports"
	pkgerrors "learngraph/pkg/errors"
)

func openTestStore(t *testing.T) *TreeStore {
	t.Helper()
	store, err := Open(MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleTree(userID string) *ports.TreeRecord {
	created := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	return &ports.TreeRecord{
		UserID: userID,
		Nodes: []ports.TreeNodeRecord{
			{ID: "node-3", Type: "goal", Title: "Half marathon", X: 400, Y: 120, DueDate: "2026-10-01"},
			{ID: "node-1", Type: "skill", Title: "Tempo runs", X: 100, Y: 120, Content: "twice a week"},
		},
		Edges:     []ports.TreeEdgeRecord{{From: "node-1", To: "node-3"}},
		CreatedAt: created,
		UpdatedAt: created.Add(2 * time.Minute),
	}
}

func TestTreeStore_RoundTripPreservesOrder(t *testing.T) {
	store := openTestStore(t)
	tree := sampleTree("user-1")

	require.NoError(t, store.PutTree(context.Background(), tree))

	got, err := store.GetTree(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, tree.Nodes, got.Nodes)
	assert.Equal(t, tree.Edges, got.Edges)
	assert.True(t, tree.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, tree.UpdatedAt.Equal(got.UpdatedAt))
}

func TestTreeStore_PutReplacesContents(t *testing.T) {
	store := openTestStore(t)
	tree := sampleTree("user-1")
	require.NoError(t, store.PutTree(context.Background(), tree))

	tree.Nodes = tree.Nodes[:1]
	tree.Edges = nil
	tree.UpdatedAt = tree.UpdatedAt.Add(time.Hour)
	require.NoError(t, store.PutTree(context.Background(), tree))

	got, err := store.GetTree(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)
	assert.Empty(t, got.Edges)
	assert.True(t, tree.UpdatedAt.Equal(got.UpdatedAt))
	assert.True(t, tree.CreatedAt.Equal(got.CreatedAt))
}

func TestTreeStore_Missing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetTree(context.Background(), "nobody")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestTreeStore_CreateIfAbsent(t *testing.T) {
	store := openTestStore(t)

	created, err := store.CreateTreeIfAbsent(context.Background(), sampleTree("user-1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.CreateTreeIfAbsent(context.Background(), ports.NewEmptyTree("user-1", time.Now()))
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.GetTree(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)
}

func TestTreeStore_DuplicateNodeRollsBack(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.PutTree(context.Background(), sampleTree("user-1")))

	bad := sampleTree("user-1")
	bad.Nodes = append(bad.Nodes, bad.Nodes[0])
	err := store.PutTree(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDatabase))

	got, err := store.GetTree(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2, "failed write must leave the previous tree intact")
}

func TestTreeStore_FileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "trees.db")

	store, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.PutTree(context.Background(), sampleTree("user-1")))
	require.NoError(t, store.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetTree(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)
}

func TestOpen_DriverFailure(t *testing.T) {
	orig := openDB
	defer func() { openDB = orig }()
	openDB = func(string, string) (*sql.DB, error) {
		return nil, errors.New("driver unavailable")
	}

	_, err := Open(MemoryPath, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver unavailable")
}
