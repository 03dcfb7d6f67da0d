package projections

import (
	"go.uber.org/zap"

	"learngraph/domain/core/aggregates"
	"learngraph/domain/core/entities"
	"learngraph/domain/core/valueobjects"
	"learngraph/domain/events"
)

// ViewHandle is an opaque renderer-owned object (a widget, a scene node,
// a terminal row)
type ViewHandle interface{}

// Renderer creates and updates views for graph elements. The registry
// calls it on the store owner's goroutine.
type Renderer interface {
	MountNode(node entities.Node) ViewHandle
	UpdateNode(handle ViewHandle, node entities.Node)
	UnmountNode(handle ViewHandle)
	MountEdge(edge entities.Edge) ViewHandle
	UpdateEdge(handle ViewHandle, edge entities.Edge)
	UnmountEdge(handle ViewHandle)
}

// ViewRegistry maps node and edge ids to their rendered views and keeps
// that mapping in sync with the store through change notifications. The
// model never holds a view handle.
//
// It also reports ids it holds so the store never allocates an id that
// already has a view, including ids reserved for views that exist
// outside the store.
type ViewRegistry struct {
	renderer Renderer
	store    *aggregates.GraphStore
	logger   *zap.Logger

	nodes    map[valueobjects.NodeID]ViewHandle
	edges    map[string]ViewHandle
	reserved map[valueobjects.NodeID]struct{}

	unsubscribe func()
}

// NewViewRegistry creates a registry and attaches it to store
func NewViewRegistry(store *aggregates.GraphStore, renderer Renderer, logger *zap.Logger) *ViewRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ViewRegistry{
		renderer: renderer,
		store:    store,
		logger:   logger,
		nodes:    make(map[valueobjects.NodeID]ViewHandle),
		edges:    make(map[string]ViewHandle),
		reserved: make(map[valueobjects.NodeID]struct{}),
	}
	store.SetIDReserver(r)
	r.unsubscribe = store.Subscribe(r.Handle)
	r.mountAll()
	return r
}

// IsReserved reports whether id has a view or was reserved explicitly
func (r *ViewRegistry) IsReserved(id valueobjects.NodeID) bool {
	if _, ok := r.nodes[id]; ok {
		return true
	}
	_, ok := r.reserved[id]
	return ok
}

// Reserve claims id for a view that is not backed by a store node
func (r *ViewRegistry) Reserve(id valueobjects.NodeID) {
	r.reserved[id] = struct{}{}
}

// Release gives back an id claimed with Reserve
func (r *ViewRegistry) Release(id valueobjects.NodeID) {
	delete(r.reserved, id)
}

// NodeView returns the view for a node
func (r *ViewRegistry) NodeView(id valueobjects.NodeID) (ViewHandle, bool) {
	h, ok := r.nodes[id]
	return h, ok
}

// EdgeView returns the view for the edge between a and b
func (r *ViewRegistry) EdgeView(a, b valueobjects.NodeID) (ViewHandle, bool) {
	h, ok := r.edges[entities.EdgeKey(a, b)]
	return h, ok
}

// Counts returns the number of mounted node and edge views
func (r *ViewRegistry) Counts() (nodes, edges int) {
	return len(r.nodes), len(r.edges)
}

// Handle applies one graph change to the registry
func (r *ViewRegistry) Handle(change events.GraphChanged) {
	switch change.Kind {
	case events.NodeCreated:
		if n, ok := r.store.FindNode(change.NodeID); ok {
			r.nodes[n.ID] = r.renderer.MountNode(n)
		}
	case events.NodeMoved, events.NodeRenamed, events.NodeContentUpdated,
		events.NodeDueDateSet, events.NodeApproved:
		r.updateNode(change.NodeID)
	case events.NodeDeleted, events.NodeDismissed:
		if h, ok := r.nodes[change.NodeID]; ok {
			r.renderer.UnmountNode(h)
			delete(r.nodes, change.NodeID)
		}
	case events.EdgeAdded:
		if e, ok := r.store.FindEdge(change.From, change.To); ok {
			r.edges[e.Key()] = r.renderer.MountEdge(e)
		}
	case events.EdgeApproved:
		key := entities.EdgeKey(change.From, change.To)
		if h, ok := r.edges[key]; ok {
			if e, found := r.store.FindEdge(change.From, change.To); found {
				r.renderer.UpdateEdge(h, e)
			}
		}
	case events.EdgeRemoved:
		key := entities.EdgeKey(change.From, change.To)
		if h, ok := r.edges[key]; ok {
			r.renderer.UnmountEdge(h)
			delete(r.edges, key)
		}
	case events.GraphReset:
		r.unmountAll()
	case events.GraphRestored:
		r.unmountAll()
		r.mountAll()
	default:
		r.logger.Debug("Ignoring graph change", zap.String("kind", string(change.Kind)))
	}
}

func (r *ViewRegistry) updateNode(id valueobjects.NodeID) {
	h, ok := r.nodes[id]
	if !ok {
		return
	}
	if n, found := r.store.FindNode(id); found {
		r.renderer.UpdateNode(h, n)
	}
}

func (r *ViewRegistry) mountAll() {
	for _, n := range r.store.Nodes() {
		r.nodes[n.ID] = r.renderer.MountNode(n)
	}
	for _, e := range r.store.Edges() {
		r.edges[e.Key()] = r.renderer.MountEdge(e)
	}
}

func (r *ViewRegistry) unmountAll() {
	for key, h := range r.edges {
		r.renderer.UnmountEdge(h)
		delete(r.edges, key)
	}
	for id, h := range r.nodes {
		r.renderer.UnmountNode(h)
		delete(r.nodes, id)
	}
}

// Close unmounts every view and detaches from the store
func (r *ViewRegistry) Close() {
	r.unsubscribe()
	r.unmountAll()
	r.store.SetIDReserver(nil)
}
