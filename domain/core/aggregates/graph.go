package aggregates

import (
	"fmt"
	"time"

	"learngraph/domain/core/entities"
	"learngraph/domain/core/valueobjects"
	"learngraph/domain/events"
	pkgerrors "learngraph/pkg/errors"
)

// IDReserver reports node ids that are held outside the store, such as
// by a renderer's view registry. Allocation never hands out a reserved id.
type IDReserver interface {
	IsReserved(id valueobjects.NodeID) bool
}

// ChangeListener receives every graph change after it is applied
type ChangeListener func(events.GraphChanged)

// Option configures a GraphStore
type Option func(*GraphStore)

// WithClock overrides the time source used for node timestamps and events
func WithClock(now func() time.Time) Option {
	return func(g *GraphStore) {
		if now != nil {
			g.now = now
		}
	}
}

// WithIDReserver makes id allocation skip ids reserved by r
func WithIDReserver(r IDReserver) Option {
	return func(g *GraphStore) {
		g.reserver = r
	}
}

type subscription struct {
	id int
	fn ChangeListener
}

// GraphStore is the aggregate root for the learner's graph. It owns every
// node and edge and enforces id uniqueness and referential integrity.
//
// GraphStore is not safe for concurrent use. It is owned by a single
// goroutine (the voice session loop or the caller that created it), and
// listeners run synchronously on that goroutine.
type GraphStore struct {
	nodes     map[valueobjects.NodeID]*entities.Node
	nodeOrder []valueobjects.NodeID
	edges     map[string]*entities.Edge
	edgeOrder []string
	types     map[valueobjects.NodeType]struct{}

	nextID   int
	reserver IDReserver

	subs   []subscription
	subSeq int

	now func() time.Time
}

// NewGraphStore creates an empty store that knows the builtin node types
func NewGraphStore(opts ...Option) *GraphStore {
	g := &GraphStore{
		nodes:  make(map[valueobjects.NodeID]*entities.Node),
		edges:  make(map[string]*entities.Edge),
		types:  make(map[valueobjects.NodeType]struct{}),
		nextID: 1,
		now:    time.Now,
	}
	for _, t := range valueobjects.BuiltinNodeTypes() {
		g.types[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetIDReserver replaces the id reserver. Used when the registry is
// constructed after the store.
func (g *GraphStore) SetIDReserver(r IDReserver) {
	g.reserver = r
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (g *GraphStore) Subscribe(fn ChangeListener) (unsubscribe func()) {
	g.subSeq++
	id := g.subSeq
	g.subs = append(g.subs, subscription{id: id, fn: fn})
	return func() {
		for i, s := range g.subs {
			if s.id == id {
				g.subs = append(g.subs[:i], g.subs[i+1:]...)
				return
			}
		}
	}
}

func (g *GraphStore) emit(change events.GraphChanged) {
	subs := make([]subscription, len(g.subs))
	copy(subs, g.subs)
	for _, s := range subs {
		s.fn(change)
	}
}

// RegisterNodeType adds an extension node type
func (g *GraphStore) RegisterNodeType(raw string) (valueobjects.NodeType, error) {
	t, err := valueobjects.ParseNodeType(raw)
	if err != nil {
		return "", pkgerrors.NewValidationError(err.Error())
	}
	g.types[t] = struct{}{}
	return t, nil
}

// IsKnownType reports whether t is builtin or registered
func (g *GraphStore) IsKnownType(t valueobjects.NodeType) bool {
	_, ok := g.types[t]
	return ok
}

// NodeTypes returns the builtin types followed by registered extensions
func (g *GraphStore) NodeTypes() []valueobjects.NodeType {
	out := valueobjects.BuiltinNodeTypes()
	for t := range g.types {
		if !t.IsBuiltin() {
			out = append(out, t)
		}
	}
	return out
}

func (g *GraphStore) resolveType(raw valueobjects.NodeType) (valueobjects.NodeType, error) {
	t, err := valueobjects.ParseNodeType(string(raw))
	if err != nil {
		return "", pkgerrors.NewValidationError(err.Error())
	}
	if !g.IsKnownType(t) {
		return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown node type %q", t))
	}
	return t, nil
}

// Node options

type nodeConfig struct {
	id         valueobjects.NodeID
	content    string
	dueDate    string
	confidence *float64
}

// NodeOption sets optional node fields at creation
type NodeOption func(*nodeConfig)

// WithNodeID requests an explicit id instead of allocating one
func WithNodeID(id valueobjects.NodeID) NodeOption {
	return func(c *nodeConfig) { c.id = id }
}

// WithContent sets the node body
func WithContent(content string) NodeOption {
	return func(c *nodeConfig) { c.content = content }
}

// WithDueDate sets a YYYY-MM-DD due date
func WithDueDate(due string) NodeOption {
	return func(c *nodeConfig) { c.dueDate = due }
}

// WithConfidence attaches the agent's confidence to a tentative node
func WithConfidence(confidence float64) NodeOption {
	return func(c *nodeConfig) { c.confidence = &confidence }
}

// CreateNode adds an approved node. Without WithNodeID the next free
// numeric id is allocated.
func (g *GraphStore) CreateNode(nodeType valueobjects.NodeType, title string, pos valueobjects.Point, opts ...NodeOption) (entities.Node, error) {
	return g.addNode(nodeType, title, pos, false, opts)
}

// AddTentativeNode adds a node pending user approval. It is excluded from
// persistence until ApproveNode or ApproveAll.
func (g *GraphStore) AddTentativeNode(nodeType valueobjects.NodeType, title string, pos valueobjects.Point, opts ...NodeOption) (entities.Node, error) {
	return g.addNode(nodeType, title, pos, true, opts)
}

func (g *GraphStore) addNode(nodeType valueobjects.NodeType, title string, pos valueobjects.Point, tentative bool, opts []NodeOption) (entities.Node, error) {
	var cfg nodeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	t, err := g.resolveType(nodeType)
	if err != nil {
		return entities.Node{}, err
	}
	title, err = entities.NormalizeTitle(title)
	if err != nil {
		return entities.Node{}, err
	}

	id := cfg.id
	if id.IsZero() {
		id = g.allocateID()
	} else {
		if id, err = valueobjects.NewNodeIDFromString(id.String()); err != nil {
			return entities.Node{}, pkgerrors.NewValidationError(err.Error())
		}
		if g.taken(id) {
			return entities.Node{}, pkgerrors.NewConflictError(fmt.Sprintf("node id %s already in use", id))
		}
	}

	now := g.now()
	node := &entities.Node{
		ID:         id,
		Type:       t,
		Title:      title,
		Content:    cfg.content,
		DueDate:    cfg.dueDate,
		Position:   pos,
		Confidence: cfg.confidence,
		Tentative:  tentative,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := node.Validate(); err != nil {
		return entities.Node{}, err
	}

	g.insertNode(node)
	if n, ok := id.Numeric(); ok && n >= g.nextID {
		g.nextID = n + 1
	}

	g.emit(events.NewNodeChange(events.NodeCreated, id, tentative, now))
	return node.Clone(), nil
}

func (g *GraphStore) taken(id valueobjects.NodeID) bool {
	if _, ok := g.nodes[id]; ok {
		return true
	}
	return g.reserver != nil && g.reserver.IsReserved(id)
}

// allocateID probes the counter, skipping ids that exist in the store or
// are reserved elsewhere.
func (g *GraphStore) allocateID() valueobjects.NodeID {
	for {
		id := valueobjects.NumericNodeID(g.nextID)
		g.nextID++
		if !g.taken(id) {
			return id
		}
	}
}

// ReseedIDs moves the id counter past every numeric id in the store
func (g *GraphStore) ReseedIDs() {
	highest := 0
	for id := range g.nodes {
		if n, ok := id.Numeric(); ok && n > highest {
			highest = n
		}
	}
	g.nextID = highest + 1
}

// NextID returns the counter value the next allocation starts probing at
func (g *GraphStore) NextID() int {
	return g.nextID
}

func (g *GraphStore) insertNode(n *entities.Node) {
	g.nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
}

func (g *GraphStore) lookup(id valueobjects.NodeID) (*entities.Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id))
	}
	return n, nil
}

// DeleteNode removes a node and every edge that references it
func (g *GraphStore) DeleteNode(id valueobjects.NodeID) error {
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	g.removeNode(n, events.NodeDeleted)
	return nil
}

// DismissNode rejects a tentative node, removing it and its edges
func (g *GraphStore) DismissNode(id valueobjects.NodeID) error {
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	if !n.Tentative {
		return pkgerrors.NewValidationError(fmt.Sprintf("node %s is not tentative", id))
	}
	g.removeNode(n, events.NodeDismissed)
	return nil
}

func (g *GraphStore) removeNode(n *entities.Node, kind events.ChangeKind) {
	now := g.now()
	removed := g.detachEdges(n.ID)

	delete(g.nodes, n.ID)
	for i, id := range g.nodeOrder {
		if id == n.ID {
			g.nodeOrder = append(g.nodeOrder[:i], g.nodeOrder[i+1:]...)
			break
		}
	}

	for _, e := range removed {
		g.emit(events.NewEdgeChange(events.EdgeRemoved, e.From, e.To, e.Tentative, now))
	}
	g.emit(events.NewNodeChange(kind, n.ID, n.Tentative, now))
}

// detachEdges drops every edge touching id before any notification goes
// out, so listeners never observe a dangling edge.
func (g *GraphStore) detachEdges(id valueobjects.NodeID) []entities.Edge {
	var removed []entities.Edge
	kept := g.edgeOrder[:0]
	for _, key := range g.edgeOrder {
		e := g.edges[key]
		if e.Touches(id) {
			removed = append(removed, *e)
			delete(g.edges, key)
			continue
		}
		kept = append(kept, key)
	}
	g.edgeOrder = kept
	return removed
}

// UpdateNodeTitle renames a node
func (g *GraphStore) UpdateNodeTitle(id valueobjects.NodeID, title string) error {
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	title, err = entities.NormalizeTitle(title)
	if err != nil {
		return err
	}
	n.Title = title
	g.touch(n, events.NodeRenamed)
	return nil
}

// UpdateNodeContent replaces a node's body
func (g *GraphStore) UpdateNodeContent(id valueobjects.NodeID, content string) error {
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	n.Content = content
	g.touch(n, events.NodeContentUpdated)
	return nil
}

// SetDueDate sets or clears (empty string) a node's due date
func (g *GraphStore) SetDueDate(id valueobjects.NodeID, due string) error {
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	if err := entities.ValidateDueDate(due); err != nil {
		return err
	}
	n.DueDate = due
	g.touch(n, events.NodeDueDateSet)
	return nil
}

// MoveNode sets a node's world position
func (g *GraphStore) MoveNode(id valueobjects.NodeID, pos valueobjects.Point) error {
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	if !pos.IsValid() {
		return pkgerrors.NewValidationError("node position must be finite")
	}
	n.Position = pos
	g.touch(n, events.NodeMoved)
	return nil
}

func (g *GraphStore) touch(n *entities.Node, kind events.ChangeKind) {
	now := g.now()
	n.UpdatedAt = now
	g.emit(events.NewNodeChange(kind, n.ID, n.Tentative, now))
}

// FindNode returns a copy of the node with the given id
func (g *GraphStore) FindNode(id valueobjects.NodeID) (entities.Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return entities.Node{}, false
	}
	return n.Clone(), true
}

// HasNode reports whether id is in the store
func (g *GraphStore) HasNode(id valueobjects.NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// NodesInRect returns the ids of nodes whose position lies in r, in
// creation order
func (g *GraphStore) NodesInRect(r valueobjects.Rect) []valueobjects.NodeID {
	ids := []valueobjects.NodeID{}
	for _, id := range g.nodeOrder {
		if r.Contains(g.nodes[id].Position) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Nodes returns copies of all nodes, tentative included, in creation order
func (g *GraphStore) Nodes() []entities.Node {
	out := make([]entities.Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id].Clone())
	}
	return out
}

// ApprovedNodes returns copies of the non-tentative nodes
func (g *GraphStore) ApprovedNodes() []entities.Node {
	out := make([]entities.Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		if n := g.nodes[id]; !n.Tentative {
			out = append(out, n.Clone())
		}
	}
	return out
}

// TentativeNodes returns copies of the nodes pending approval
func (g *GraphStore) TentativeNodes() []entities.Node {
	var out []entities.Node
	for _, id := range g.nodeOrder {
		if n := g.nodes[id]; n.Tentative {
			out = append(out, n.Clone())
		}
	}
	return out
}

// Len returns the number of nodes
func (g *GraphStore) Len() int {
	return len(g.nodes)
}

// Snapshot is a point-in-time copy of the whole graph
type Snapshot struct {
	Nodes []entities.Node `json:"nodes"`
	Edges []entities.Edge `json:"edges"`
}

// Snapshot copies every node and edge, tentative included
func (g *GraphStore) Snapshot() Snapshot {
	return Snapshot{Nodes: g.Nodes(), Edges: g.Edges()}
}

// ApprovedSnapshot copies only what is eligible for persistence
func (g *GraphStore) ApprovedSnapshot() Snapshot {
	return Snapshot{Nodes: g.ApprovedNodes(), Edges: g.ApprovedEdges()}
}

// Reset removes everything and restarts the id counter
func (g *GraphStore) Reset() {
	g.nodes = make(map[valueobjects.NodeID]*entities.Node)
	g.nodeOrder = nil
	g.edges = make(map[string]*entities.Edge)
	g.edgeOrder = nil
	g.nextID = 1
	g.emit(events.NewGraphChange(events.GraphReset, g.now()))
}

// RestoreResult reports records that Restore could not accept
type RestoreResult struct {
	Nodes        int
	Edges        int
	SkippedNodes []valueobjects.NodeID
	SkippedEdges []entities.Edge
}

// Restore rebuilds the store from persisted records: it resets, re-adds
// nodes one by one, then edges, and finally re-seeds the id counter.
// Unknown but well-formed node types are registered. Invalid or duplicate
// nodes and edges with missing endpoints are skipped and reported.
func (g *GraphStore) Restore(nodes []entities.Node, edges []entities.Edge) RestoreResult {
	g.Reset()

	var res RestoreResult
	for i := range nodes {
		n := nodes[i].Clone()
		t, err := valueobjects.ParseNodeType(string(n.Type))
		if err != nil || n.Validate() != nil {
			res.SkippedNodes = append(res.SkippedNodes, n.ID)
			continue
		}
		if _, dup := g.nodes[n.ID]; dup {
			res.SkippedNodes = append(res.SkippedNodes, n.ID)
			continue
		}
		g.types[t] = struct{}{}
		n.Type = t
		g.insertNode(&n)
		res.Nodes++
	}

	for _, e := range edges {
		from, okFrom := g.nodes[e.From]
		to, okTo := g.nodes[e.To]
		if !okFrom || !okTo || e.From == e.To {
			res.SkippedEdges = append(res.SkippedEdges, e)
			continue
		}
		if _, dup := g.edges[e.Key()]; dup {
			res.SkippedEdges = append(res.SkippedEdges, e)
			continue
		}
		edge := e
		edge.Tentative = e.Tentative || from.Tentative || to.Tentative
		g.insertEdge(&edge)
		res.Edges++
	}

	g.ReseedIDs()
	g.emit(events.NewGraphChange(events.GraphRestored, g.now()))
	return res
}
