package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"learngraph/application/ports"
	"learngraph/domain/core/aggregates"
	"learngraph/domain/events"
	pkgerrors "learngraph/pkg/errors"
	"learngraph/pkg/timing"
)

// DefaultSaveDelay is the quiet period before a scheduled save is written
const DefaultSaveDelay = 2 * time.Second

// SaveObserver records persistence outcomes, e.g. for metrics
type SaveObserver interface {
	ObserveTreeSave(operation, result string, duration time.Duration)
}

// PersistenceStatus is reported after every save or load attempt
type PersistenceStatus struct {
	Operation string
	Err       error
	At        time.Time
}

// GatewayConfig configures a PersistenceGateway
type GatewayConfig struct {
	UserID       string
	SaveDelay    time.Duration
	WriteTimeout time.Duration
	Clock        timing.Clock
	Logger       *zap.Logger
	Observer     SaveObserver
	OnStatus     func(PersistenceStatus)
}

// PersistenceGateway turns graph mutations into debounced full-tree
// snapshots and handles the first-load bootstrap.
//
// Snapshots are taken synchronously when a change is observed, on the
// goroutine that owns the GraphStore. The debounce timer only writes the
// most recent snapshot, so it never reads the store concurrently.
type PersistenceGateway struct {
	store  *aggregates.GraphStore
	trees  ports.TreeStore
	cfg    GatewayConfig
	logger *zap.Logger
	clock  timing.Clock

	debouncer   *timing.Debouncer
	unsubscribe func()

	mu        sync.Mutex
	pending   *ports.TreeRecord
	createdAt time.Time

	writeMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
}

// NewPersistenceGateway wires a gateway to the store. It subscribes to
// store changes immediately; call Close to detach.
func NewPersistenceGateway(store *aggregates.GraphStore, trees ports.TreeStore, cfg GatewayConfig) *PersistenceGateway {
	if cfg.SaveDelay <= 0 {
		cfg.SaveDelay = DefaultSaveDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &PersistenceGateway{
		store:  store,
		trees:  trees,
		cfg:    cfg,
		logger: logger.With(zap.String("userId", cfg.UserID)),
		clock:  timing.OrReal(cfg.Clock),
		ready:  make(chan struct{}),
	}
	g.createdAt = g.clock.Now()
	g.debouncer = timing.NewDebouncer(g.clock, cfg.SaveDelay, g.writePending)
	g.unsubscribe = store.Subscribe(g.onChange)
	return g
}

func (g *PersistenceGateway) onChange(change events.GraphChanged) {
	if change.AffectsPersistence() {
		g.ScheduleSave()
	}
}

// ScheduleSave captures the current approved graph and restarts the save
// window. Only the snapshot taken by the last call inside a window is
// written. Must be called on the goroutine that owns the store.
func (g *PersistenceGateway) ScheduleSave() {
	rec := g.snapshot()
	g.mu.Lock()
	g.pending = rec
	g.mu.Unlock()
	g.debouncer.Trigger()
}

func (g *PersistenceGateway) snapshot() *ports.TreeRecord {
	g.mu.Lock()
	createdAt := g.createdAt
	g.mu.Unlock()
	return TreeFromSnapshot(g.cfg.UserID, g.store.ApprovedSnapshot(), createdAt, g.clock.Now())
}

func (g *PersistenceGateway) takePending() *ports.TreeRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.pending
	g.pending = nil
	return rec
}

// writePending runs on the debounce timer's goroutine
func (g *PersistenceGateway) writePending() {
	rec := g.takePending()
	if rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.WriteTimeout)
	defer cancel()
	_ = g.write(ctx, rec)
}

// Save writes the current approved graph immediately, superseding any
// scheduled save. Must be called on the goroutine that owns the store.
func (g *PersistenceGateway) Save(ctx context.Context) error {
	g.debouncer.Cancel()
	g.takePending()
	return g.write(ctx, g.snapshot())
}

// Flush writes a scheduled save now, if there is one, and waits out a
// save the timer already started. Used on shutdown.
func (g *PersistenceGateway) Flush(ctx context.Context) error {
	if !g.debouncer.Cancel() {
		g.debouncer.Wait()
		return nil
	}
	rec := g.takePending()
	if rec == nil {
		return nil
	}
	return g.write(ctx, rec)
}

// Pending reports whether a save is scheduled
func (g *PersistenceGateway) Pending() bool {
	return g.debouncer.Pending()
}

func (g *PersistenceGateway) write(ctx context.Context, rec *ports.TreeRecord) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	start := g.clock.Now()
	err := g.trees.PutTree(ctx, rec)
	elapsed := g.clock.Now().Sub(start)

	if err != nil {
		err = pkgerrors.NewPersistenceError("save", err)
		g.logger.Warn("Tree save failed; local graph kept",
			zap.Error(err),
			zap.Int("nodeCount", len(rec.Nodes)),
		)
		g.observe("save", "error", elapsed)
		g.report("save", err)
		return err
	}

	g.logger.Debug("Tree saved",
		zap.Int("nodeCount", len(rec.Nodes)),
		zap.Int("edgeCount", len(rec.Edges)),
		zap.Duration("duration", elapsed),
	)
	g.observe("save", "success", elapsed)
	g.report("save", nil)
	return nil
}

// Load fetches the user's tree and rebuilds the store from it. A missing
// tree is first use: an empty record is written and the store is left
// empty. Must be called on the goroutine that owns the store.
func (g *PersistenceGateway) Load(ctx context.Context) error {
	start := g.clock.Now()

	rec, err := g.trees.GetTree(ctx, g.cfg.UserID)
	switch {
	case pkgerrors.IsNotFound(err):
		return g.bootstrap(ctx, start)
	case err != nil:
		err = pkgerrors.NewPersistenceError("load", err)
		g.logger.Warn("Tree load failed", zap.Error(err))
		g.observe("load", "error", g.clock.Now().Sub(start))
		g.report("load", err)
		return err
	}

	g.apply(rec, start)
	return nil
}

// apply replaces the store contents with rec
func (g *PersistenceGateway) apply(rec *ports.TreeRecord, start time.Time) {
	g.debouncer.Cancel()
	g.takePending()

	nodes, edges := EntitiesFromTree(rec, g.clock.Now())
	res := g.store.Restore(nodes, edges)

	g.mu.Lock()
	if !rec.CreatedAt.IsZero() {
		g.createdAt = rec.CreatedAt
	}
	g.mu.Unlock()

	if len(res.SkippedNodes) > 0 || len(res.SkippedEdges) > 0 {
		g.logger.Warn("Skipped invalid tree records on load",
			zap.Int("skippedNodes", len(res.SkippedNodes)),
			zap.Int("skippedEdges", len(res.SkippedEdges)),
		)
	}
	g.logger.Info("Tree loaded",
		zap.Int("nodeCount", res.Nodes),
		zap.Int("edgeCount", res.Edges),
		zap.Int("nextId", g.store.NextID()),
	)
	g.observe("load", "success", g.clock.Now().Sub(start))
	g.report("load", nil)
	g.markReady()
}

func (g *PersistenceGateway) bootstrap(ctx context.Context, start time.Time) error {
	now := g.clock.Now()
	empty := ports.NewEmptyTree(g.cfg.UserID, now)

	created := true
	var err error
	if creator, ok := g.trees.(ports.TreeCreator); ok {
		created, err = creator.CreateTreeIfAbsent(ctx, empty)
	} else {
		err = g.trees.PutTree(ctx, empty)
	}
	if err == nil && !created {
		// another client created the tree since our read
		var rec *ports.TreeRecord
		if rec, err = g.trees.GetTree(ctx, g.cfg.UserID); err == nil {
			g.logger.Info("Tree created concurrently; loading it")
			g.apply(rec, start)
			return nil
		}
	}
	if err != nil {
		err = pkgerrors.NewPersistenceError("bootstrap", err)
		g.logger.Warn("Tree bootstrap failed", zap.Error(err))
		g.observe("bootstrap", "error", g.clock.Now().Sub(start))
		g.report("load", err)
		return err
	}

	g.debouncer.Cancel()
	g.takePending()
	g.store.Restore(nil, nil)

	g.mu.Lock()
	g.createdAt = now
	g.mu.Unlock()

	g.logger.Info("Bootstrapped empty tree for first use")
	g.observe("bootstrap", "success", g.clock.Now().Sub(start))
	g.report("load", nil)
	g.markReady()
	return nil
}

func (g *PersistenceGateway) markReady() {
	g.readyOnce.Do(func() { close(g.ready) })
}

// Ready is closed after the first successful load
func (g *PersistenceGateway) Ready() <-chan struct{} {
	return g.ready
}

// Close detaches from the store and drops any scheduled save. Call Flush
// first to keep it.
func (g *PersistenceGateway) Close() {
	g.unsubscribe()
	g.debouncer.Stop()
	g.debouncer.Wait()
	g.takePending()
}

func (g *PersistenceGateway) observe(op, result string, d time.Duration) {
	if g.cfg.Observer != nil {
		g.cfg.Observer.ObserveTreeSave(op, result, d)
	}
}

func (g *PersistenceGateway) report(op string, err error) {
	if g.cfg.OnStatus != nil {
		g.cfg.OnStatus(PersistenceStatus{Operation: op, Err: err, At: g.clock.Now()})
	}
}
