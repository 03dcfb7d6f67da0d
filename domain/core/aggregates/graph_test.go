package aggregates

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learngraph/domain/core/entities"
	"learngraph/domain/core/valueobjects"
	"learngraph/domain/events"
	pkgerrors "learngraph/pkg/errors"
)

func fixedClock() func() time.Time {
	t := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func newTestStore(t *testing.T) *GraphStore {
	t.Helper()
	return NewGraphStore(WithClock(fixedClock()))
}

func mustNode(t *testing.T, g *GraphStore, title string, x, y float64) entities.Node {
	t.Helper()
	n, err := g.CreateNode(valueobjects.NodeTypeTask, title, valueobjects.Point{X: x, Y: y})
	require.NoError(t, err)
	return n
}

type reservedSet map[valueobjects.NodeID]bool

func (r reservedSet) IsReserved(id valueobjects.NodeID) bool { return r[id] }

func TestCreateNode(t *testing.T) {
	tests := []struct {
		name     string
		nodeType valueobjects.NodeType
		title    string
		pos      valueobjects.Point
		opts     []NodeOption
		check    func(t *testing.T, err error)
	}{
		{
			name:     "valid task",
			nodeType: valueobjects.NodeTypeTask,
			title:    "Finish essay",
			pos:      valueobjects.Point{X: 100, Y: 100},
			check:    func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:     "unknown type",
			nodeType: "spaceship",
			title:    "x",
			check:    func(t *testing.T, err error) { assert.True(t, pkgerrors.IsValidation(err)) },
		},
		{
			name:     "blank title",
			nodeType: valueobjects.NodeTypeIdea,
			title:    "  ",
			check:    func(t *testing.T, err error) { assert.True(t, pkgerrors.IsValidation(err)) },
		},
		{
			name:     "confidence on approved node",
			nodeType: valueobjects.NodeTypeIdea,
			title:    "x",
			opts:     []NodeOption{WithConfidence(0.5)},
			check:    func(t *testing.T, err error) { assert.True(t, pkgerrors.IsValidation(err)) },
		},
		{
			name:     "image with content",
			nodeType: valueobjects.NodeTypeImage,
			title:    "Diagram",
			opts:     []NodeOption{WithContent("data:image/png;base64,AAAA")},
			check:    func(t *testing.T, err error) { assert.NoError(t, err) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestStore(t)
			_, err := g.CreateNode(tt.nodeType, tt.title, tt.pos, tt.opts...)
			tt.check(t, err)
		})
	}
}

func TestCreateNode_ExplicitIDConflict(t *testing.T) {
	g := newTestStore(t)
	_, err := g.CreateNode(valueobjects.NodeTypeTask, "a", valueobjects.Point{}, WithNodeID("n-1"))
	require.NoError(t, err)

	_, err = g.CreateNode(valueobjects.NodeTypeTask, "b", valueobjects.Point{}, WithNodeID("n-1"))
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Equal(t, 1, g.Len())
}

func TestScenarioA_NodesInRect(t *testing.T) {
	g := newTestStore(t)
	n := mustNode(t, g, "Finish essay", 100, 100)
	mustNode(t, g, "Far away", 500, 500)

	rect, err := valueobjects.NewRect(0, 0, 200, 200)
	require.NoError(t, err)

	assert.Equal(t, []valueobjects.NodeID{n.ID}, g.NodesInRect(rect))
}

func TestScenarioB_AddEdgeIsIdempotentBothDirections(t *testing.T) {
	g := newTestStore(t)
	a := mustNode(t, g, "A", 0, 0)
	b := mustNode(t, g, "B", 10, 0)

	added, err := g.AddEdge(a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = g.AddEdge(b.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, added, "reverse edge already exists")

	added, err = g.AddEdge(a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, added)

	assert.Len(t, g.Edges(), 1)
}

func TestAddEdge_Validation(t *testing.T) {
	g := newTestStore(t)
	a := mustNode(t, g, "A", 0, 0)

	_, err := g.AddEdge(a.ID, a.ID)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = g.AddEdge(a.ID, "404")
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.Zero(t, g.EdgeCount())
}

func TestRemoveEdge(t *testing.T) {
	g := newTestStore(t)
	a := mustNode(t, g, "A", 0, 0)
	b := mustNode(t, g, "B", 0, 0)
	_, err := g.AddEdge(a.ID, b.ID, WithLabel("leads to"), WithArrow())
	require.NoError(t, err)

	e, ok := g.FindEdge(b.ID, a.ID)
	require.True(t, ok)
	assert.Equal(t, "leads to", e.Label)
	assert.True(t, e.ShowArrow)

	require.NoError(t, g.RemoveEdge(b.ID, a.ID))
	assert.Zero(t, g.EdgeCount())
	assert.True(t, pkgerrors.IsNotFound(g.RemoveEdge(a.ID, b.ID)))
}

func TestDeleteNode_CascadesEdges(t *testing.T) {
	g := newTestStore(t)
	a := mustNode(t, g, "A", 0, 0)
	b := mustNode(t, g, "B", 0, 0)
	c := mustNode(t, g, "C", 0, 0)
	for _, pair := range [][2]valueobjects.NodeID{{a.ID, b.ID}, {c.ID, a.ID}, {b.ID, c.ID}} {
		_, err := g.AddEdge(pair[0], pair[1])
		require.NoError(t, err)
	}

	var seen []events.GraphChanged
	g.Subscribe(func(c events.GraphChanged) {
		// listeners must never see an edge whose endpoint is gone
		for _, e := range g.Edges() {
			assert.True(t, g.HasNode(e.From) && g.HasNode(e.To))
		}
		seen = append(seen, c)
	})

	require.NoError(t, g.DeleteNode(a.ID))

	for _, e := range g.Edges() {
		assert.False(t, e.Touches(a.ID))
	}
	assert.Len(t, g.Edges(), 1)
	require.Len(t, seen, 3)
	assert.Equal(t, events.EdgeRemoved, seen[0].Kind)
	assert.Equal(t, events.EdgeRemoved, seen[1].Kind)
	assert.Equal(t, events.NodeDeleted, seen[2].Kind)

	assert.True(t, pkgerrors.IsNotFound(g.DeleteNode(a.ID)))
}

func TestMutations(t *testing.T) {
	g := newTestStore(t)
	n := mustNode(t, g, "Read", 0, 0)

	require.NoError(t, g.UpdateNodeTitle(n.ID, " Read chapter 4 "))
	require.NoError(t, g.MoveNode(n.ID, valueobjects.Point{X: 30, Y: -5}))
	require.NoError(t, g.UpdateNodeContent(n.ID, "pages 40-60"))
	require.NoError(t, g.SetDueDate(n.ID, "2024-10-01"))

	got, ok := g.FindNode(n.ID)
	require.True(t, ok)
	assert.Equal(t, "Read chapter 4", got.Title)
	assert.Equal(t, valueobjects.Point{X: 30, Y: -5}, got.Position)
	assert.Equal(t, "pages 40-60", got.Content)
	assert.Equal(t, "2024-10-01", got.DueDate)

	assert.True(t, pkgerrors.IsValidation(g.SetDueDate(n.ID, "tomorrow")))
	assert.True(t, pkgerrors.IsValidation(g.UpdateNodeTitle(n.ID, "")))
	assert.True(t, pkgerrors.IsNotFound(g.MoveNode("missing", valueobjects.Point{})))

	// returned nodes are copies
	got.Title = "changed"
	again, _ := g.FindNode(n.ID)
	assert.Equal(t, "Read chapter 4", again.Title)
}

func TestIDUniqueness_RandomSequence(t *testing.T) {
	g := newTestStore(t)
	rng := rand.New(rand.NewSource(42))

	var live []valueobjects.NodeID
	for i := 0; i < 500; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(live))
			require.NoError(t, g.DeleteNode(live[idx]))
			live = append(live[:idx], live[idx+1:]...)
			continue
		}
		n, err := g.CreateNode(valueobjects.NodeTypeIdea, "idea", valueobjects.Point{})
		require.NoError(t, err)
		live = append(live, n.ID)
	}

	seen := map[valueobjects.NodeID]bool{}
	for _, n := range g.Nodes() {
		assert.False(t, seen[n.ID], "duplicate id %s", n.ID)
		seen[n.ID] = true
	}
	assert.Equal(t, len(live), len(seen))
}

func TestAllocation_SkipsExistingAndReservedIDs(t *testing.T) {
	reserved := reservedSet{"2": true}
	g := NewGraphStore(WithClock(fixedClock()), WithIDReserver(reserved))

	_, err := g.CreateNode(valueobjects.NodeTypeTask, "explicit", valueobjects.Point{}, WithNodeID("3"))
	require.NoError(t, err)
	assert.Equal(t, 4, g.NextID(), "explicit numeric ids advance the counter")

	g.nextID = 1 // simulate drift between the counter and the store
	first := mustNode(t, g, "first", 0, 0)
	second := mustNode(t, g, "second", 0, 0)

	assert.Equal(t, valueobjects.NodeID("1"), first.ID)
	assert.Equal(t, valueobjects.NodeID("4"), second.ID, "2 is reserved and 3 exists")

	_, err = g.CreateNode(valueobjects.NodeTypeTask, "clash", valueobjects.Point{}, WithNodeID("2"))
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestRestore_ReseedsAndSkipsInvalid(t *testing.T) {
	g := newTestStore(t)
	mustNode(t, g, "stale", 0, 0)

	nodes := []entities.Node{
		{ID: "5", Type: valueobjects.NodeTypeTask, Title: "five"},
		{ID: "12", Type: "lab-report", Title: "twelve"},
		{ID: "abc", Type: valueobjects.NodeTypeIdea, Title: "opaque"},
		{ID: "5", Type: valueobjects.NodeTypeTask, Title: "dup"},
		{ID: "7", Type: valueobjects.NodeTypeTask, Title: ""},
	}
	edges := []entities.Edge{
		{From: "5", To: "12"},
		{From: "12", To: "5"},
		{From: "5", To: "99"},
	}

	var kinds []events.ChangeKind
	g.Subscribe(func(c events.GraphChanged) { kinds = append(kinds, c.Kind) })

	res := g.Restore(nodes, edges)

	assert.Equal(t, 3, res.Nodes)
	assert.Equal(t, 1, res.Edges)
	assert.Equal(t, []valueobjects.NodeID{"5", "7"}, res.SkippedNodes)
	assert.Len(t, res.SkippedEdges, 2)
	assert.Equal(t, 13, g.NextID())
	assert.True(t, g.IsKnownType("lab-report"))
	assert.Equal(t, []events.ChangeKind{events.GraphReset, events.GraphRestored}, kinds)

	n := mustNode(t, g, "new", 0, 0)
	assert.Equal(t, valueobjects.NodeID("13"), n.ID)
}

func TestTentativeFlow(t *testing.T) {
	g := newTestStore(t)
	approved := mustNode(t, g, "Goal", 0, 0)

	tent, err := g.AddTentativeNode(valueobjects.NodeTypeIdea, "Suggested", valueobjects.Point{X: 5, Y: 5}, WithConfidence(0.7))
	require.NoError(t, err)
	require.True(t, tent.Tentative)

	added, err := g.AddEdge(approved.ID, tent.ID)
	require.NoError(t, err)
	require.True(t, added)

	e, _ := g.FindEdge(approved.ID, tent.ID)
	assert.True(t, e.Tentative, "edge touching a tentative node is tentative")
	assert.Len(t, g.ApprovedNodes(), 1)
	assert.Empty(t, g.ApprovedEdges())
	assert.True(t, pkgerrors.IsValidation(g.ApproveEdge(approved.ID, tent.ID)))

	var persisted []events.GraphChanged
	g.Subscribe(func(c events.GraphChanged) {
		if c.AffectsPersistence() {
			persisted = append(persisted, c)
		}
	})

	require.NoError(t, g.ApproveNode(tent.ID))

	got, _ := g.FindNode(tent.ID)
	assert.False(t, got.Tentative)
	assert.Nil(t, got.Confidence)
	assert.Len(t, g.ApprovedEdges(), 1)
	require.Len(t, persisted, 2)
	assert.Equal(t, events.NodeApproved, persisted[0].Kind)
	assert.Equal(t, events.EdgeApproved, persisted[1].Kind)
}

func TestDismissNode(t *testing.T) {
	g := newTestStore(t)
	a := mustNode(t, g, "A", 0, 0)
	tent, err := g.AddTentativeNode(valueobjects.NodeTypeIdea, "Maybe", valueobjects.Point{})
	require.NoError(t, err)
	_, err = g.AddTentativeEdge(a.ID, tent.ID)
	require.NoError(t, err)

	var changes []events.GraphChanged
	g.Subscribe(func(c events.GraphChanged) { changes = append(changes, c) })

	assert.True(t, pkgerrors.IsValidation(g.DismissNode(a.ID)), "approved nodes are deleted, not dismissed")
	require.NoError(t, g.DismissNode(tent.ID))

	assert.False(t, g.HasNode(tent.ID))
	assert.Zero(t, g.EdgeCount())
	for _, c := range changes {
		assert.False(t, c.AffectsPersistence(), "dismissal never schedules a save")
	}
}

func TestApproveAllAndDismissAll(t *testing.T) {
	g := newTestStore(t)
	a := mustNode(t, g, "A", 0, 0)
	b := mustNode(t, g, "B", 0, 0)
	t1, _ := g.AddTentativeNode(valueobjects.NodeTypeIdea, "T1", valueobjects.Point{})
	t2, _ := g.AddTentativeNode(valueobjects.NodeTypeIdea, "T2", valueobjects.Point{})
	_, _ = g.AddTentativeEdge(t1.ID, t2.ID)
	_, _ = g.AddTentativeEdge(a.ID, b.ID)

	assert.Equal(t, 2, g.ApproveAll())
	assert.Len(t, g.ApprovedNodes(), 4)
	assert.Len(t, g.ApprovedEdges(), 2)
	assert.Empty(t, g.TentativeNodes())

	t3, _ := g.AddTentativeNode(valueobjects.NodeTypeIdea, "T3", valueobjects.Point{})
	_, _ = g.AddTentativeEdge(t3.ID, a.ID)
	_, _ = g.AddTentativeEdge(b.ID, t1.ID)
	require.NoError(t, g.RemoveEdge(b.ID, t1.ID))
	_, _ = g.AddTentativeEdge(b.ID, t1.ID)

	assert.Equal(t, 1, g.DismissAll())
	assert.Len(t, g.Nodes(), 4)
	assert.Len(t, g.Edges(), 2)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	g := newTestStore(t)
	count := 0
	unsubscribe := g.Subscribe(func(events.GraphChanged) { count++ })

	mustNode(t, g, "A", 0, 0)
	unsubscribe()
	mustNode(t, g, "B", 0, 0)

	assert.Equal(t, 1, count)
}

func TestRegisterNodeType(t *testing.T) {
	g := newTestStore(t)
	_, err := g.CreateNode("flashcard", "Card", valueobjects.Point{})
	require.True(t, pkgerrors.IsValidation(err))

	nt, err := g.RegisterNodeType("Flashcard")
	require.NoError(t, err)
	assert.Equal(t, valueobjects.NodeType("flashcard"), nt)
	assert.Contains(t, g.NodeTypes(), nt)

	_, err = g.CreateNode("flashcard", "Card", valueobjects.Point{})
	assert.NoError(t, err)

	_, err = g.RegisterNodeType("not valid!")
	assert.True(t, pkgerrors.IsValidation(err))
}
