package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"learngraph/application/voice/protocol"
	"learngraph/domain/core/aggregates"
	"learngraph/domain/core/entities"
	"learngraph/domain/core/valueobjects"
	pkgerrors "learngraph/pkg/errors"
	"learngraph/pkg/validation"
)

// Tool names
const (
	ToolAddNode      = "add_node"
	ToolConnectNodes = "connect_nodes"
	ToolRemoveNode   = "remove_node_by_id"
	ToolRemoveEdge   = "remove_edge"
	ToolMoveNode     = "move_node"
	ToolRenameNode   = "rename_node"
)

// ToolResult is returned to the agent as the function call output
type ToolResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
	Type    string `json:"type,omitempty"`
	Title   string `json:"title,omitempty"`
}

// ToolObserver records tool call outcomes
type ToolObserver interface {
	ObserveToolCall(tool, result string, d time.Duration)
}

// ToolConfig configures a ToolDispatcher
type ToolConfig struct {
	// TentativeNodes makes agent-created nodes and edges tentative
	TentativeNodes bool
	// ViewCenter returns the world point at the middle of the viewport
	ViewCenter func() valueobjects.Point
	// Jitter is the maximum random offset applied to default placement
	Jitter float64
	// NearDistance is how far from near_node_id a node is placed
	NearDistance float64
	Rand         *rand.Rand
	Logger       *zap.Logger
	Observer     ToolObserver
}

const (
	defaultJitter       = 40.0
	defaultNearDistance = 220.0
	minNodeSpacing      = 120.0
)

// ToolDispatcher maps agent function calls onto GraphStore operations.
// Arguments are checked against the live graph before anything changes,
// so a failed call leaves the graph untouched.
type ToolDispatcher struct {
	store    *aggregates.GraphStore
	cfg      ToolConfig
	validate *validation.Validator
	logger   *zap.Logger
	handlers map[string]func(json.RawMessage) (ToolResult, error)
}

// NewToolDispatcher creates a dispatcher operating on store
func NewToolDispatcher(store *aggregates.GraphStore, cfg ToolConfig) *ToolDispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = defaultJitter
	}
	if cfg.NearDistance <= 0 {
		cfg.NearDistance = defaultNearDistance
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.ViewCenter == nil {
		cfg.ViewCenter = func() valueobjects.Point { return valueobjects.Point{} }
	}
	d := &ToolDispatcher{
		store:    store,
		cfg:      cfg,
		validate: validation.Default(),
		logger:   cfg.Logger,
	}
	d.handlers = map[string]func(json.RawMessage) (ToolResult, error){
		ToolAddNode:      d.addNode,
		ToolConnectNodes: d.connectNodes,
		ToolRemoveNode:   d.removeNode,
		ToolRemoveEdge:   d.removeEdge,
		ToolMoveNode:     d.moveNode,
		ToolRenameNode:   d.renameNode,
	}
	return d
}

// Dispatch runs one tool call. It never panics and never returns an
// error: every failure becomes a structured result for the agent.
func (d *ToolDispatcher) Dispatch(ctx context.Context, name, arguments string) (result ToolResult) {
	start := time.Now()
	outcome := "success"
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Tool handler panicked",
				zap.String("tool", name),
				zap.Any("panic", r),
			)
			outcome = "panic"
			result = ToolResult{Success: false, Message: fmt.Sprintf("%s failed: internal error", name)}
		}
		if d.cfg.Observer != nil {
			d.cfg.Observer.ObserveToolCall(name, outcome, time.Since(start))
		}
	}()

	handler, ok := d.handlers[name]
	if !ok {
		outcome = "unknown"
		return d.failure(name, pkgerrors.NewToolExecutionError(name, fmt.Sprintf("unknown tool %q", name)))
	}
	if err := ctx.Err(); err != nil {
		outcome = "failure"
		return d.failure(name, err)
	}

	raw := json.RawMessage(arguments)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	res, err := handler(raw)
	if err != nil {
		outcome = "failure"
		return d.failure(name, err)
	}
	d.logger.Info("Tool call applied",
		zap.String("tool", name),
		zap.String("nodeId", res.NodeID),
	)
	return res
}

func (d *ToolDispatcher) failure(name string, err error) ToolResult {
	msg := err.Error()
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		msg = appErr.Message
	}
	d.logger.Warn("Tool call failed",
		zap.String("tool", name),
		zap.String("reason", msg),
	)
	return ToolResult{Success: false, Message: msg}
}

func (d *ToolDispatcher) decode(tool string, raw json.RawMessage, into any) error {
	if err := json.Unmarshal(raw, into); err != nil {
		return pkgerrors.NewToolExecutionError(tool, "arguments are not valid JSON: "+err.Error())
	}
	if err := d.validate.Struct(into); err != nil {
		return pkgerrors.NewToolExecutionError(tool, err.Error())
	}
	return nil
}

func (d *ToolDispatcher) requireNode(tool, id string) (entities.Node, error) {
	n, ok := d.store.FindNode(valueobjects.NodeID(id))
	if !ok {
		return entities.Node{}, pkgerrors.NewToolExecutionError(tool, fmt.Sprintf("no node with id %s", id))
	}
	return n, nil
}

type addNodeArgs struct {
	Type       string   `json:"type" validate:"required,nodetype"`
	Title      string   `json:"title" validate:"required,max=200"`
	Content    string   `json:"content" validate:"max=20000"`
	X          *float64 `json:"x"`
	Y          *float64 `json:"y"`
	NearNodeID string   `json:"near_node_id" validate:"omitempty,nodeid"`
	Confidence *float64 `json:"confidence" validate:"omitempty,gte=0,lte=1"`
}

func (d *ToolDispatcher) addNode(raw json.RawMessage) (ToolResult, error) {
	var args addNodeArgs
	if err := d.decode(ToolAddNode, raw, &args); err != nil {
		return ToolResult{}, err
	}
	nodeType, err := valueobjects.ParseNodeType(args.Type)
	if err != nil || !d.store.IsKnownType(nodeType) {
		return ToolResult{}, pkgerrors.NewToolExecutionError(ToolAddNode, fmt.Sprintf("unknown node type %q", args.Type))
	}
	if (args.X == nil) != (args.Y == nil) {
		return ToolResult{}, pkgerrors.NewToolExecutionError(ToolAddNode, "x and y must be given together")
	}

	pos, err := d.placement(args)
	if err != nil {
		return ToolResult{}, err
	}

	var opts []aggregates.NodeOption
	if args.Content != "" {
		opts = append(opts, aggregates.WithContent(args.Content))
	}

	var node entities.Node
	if d.cfg.TentativeNodes {
		if args.Confidence != nil {
			opts = append(opts, aggregates.WithConfidence(*args.Confidence))
		}
		node, err = d.store.AddTentativeNode(nodeType, args.Title, pos, opts...)
	} else {
		node, err = d.store.CreateNode(nodeType, args.Title, pos, opts...)
	}
	if err != nil {
		return ToolResult{}, err
	}

	return ToolResult{
		Success: true,
		Message: fmt.Sprintf("Created %s node %q with id %s", node.Type, node.Title, node.ID),
		NodeID:  node.ID.String(),
		Type:    node.Type.String(),
		Title:   node.Title,
	}, nil
}

// placement picks a position: explicit coordinates, beside near_node_id,
// or the middle of the view with a little jitter.
func (d *ToolDispatcher) placement(args addNodeArgs) (valueobjects.Point, error) {
	if args.X != nil {
		p, err := valueobjects.NewPoint(*args.X, *args.Y)
		if err != nil {
			return valueobjects.Point{}, pkgerrors.NewToolExecutionError(ToolAddNode, err.Error())
		}
		return p, nil
	}
	if args.NearNodeID != "" {
		anchor, err := d.requireNode(ToolAddNode, args.NearNodeID)
		if err != nil {
			return valueobjects.Point{}, err
		}
		return d.besideNode(anchor.Position), nil
	}
	return d.cfg.ViewCenter().Add(d.jitter(), d.jitter()), nil
}

// besideNode walks around anchor until it finds a spot that does not sit
// on top of another node
func (d *ToolDispatcher) besideNode(anchor valueobjects.Point) valueobjects.Point {
	nodes := d.store.Nodes()
	const steps = 8
	for ring := 1; ring <= 3; ring++ {
		radius := d.cfg.NearDistance * float64(ring)
		for i := 0; i < steps; i++ {
			angle := 2 * math.Pi * float64(i) / steps
			candidate := anchor.Add(radius*math.Cos(angle), radius*math.Sin(angle))
			if unoccupied(candidate, nodes) {
				return candidate
			}
		}
	}
	return anchor.Add(d.cfg.NearDistance, d.jitter())
}

func unoccupied(p valueobjects.Point, nodes []entities.Node) bool {
	for _, n := range nodes {
		if n.Position.DistanceTo(p) < minNodeSpacing {
			return false
		}
	}
	return true
}

func (d *ToolDispatcher) jitter() float64 {
	return (d.cfg.Rand.Float64()*2 - 1) * d.cfg.Jitter
}

type edgeArgs struct {
	FromID string `json:"from_id" validate:"required,nodeid"`
	ToID   string `json:"to_id" validate:"required,nodeid,nefield=FromID"`
}

func (d *ToolDispatcher) connectNodes(raw json.RawMessage) (ToolResult, error) {
	var args edgeArgs
	if err := d.decode(ToolConnectNodes, raw, &args); err != nil {
		return ToolResult{}, err
	}
	if _, err := d.requireNode(ToolConnectNodes, args.FromID); err != nil {
		return ToolResult{}, err
	}
	if _, err := d.requireNode(ToolConnectNodes, args.ToID); err != nil {
		return ToolResult{}, err
	}

	from, to := valueobjects.NodeID(args.FromID), valueobjects.NodeID(args.ToID)
	var (
		added bool
		err   error
	)
	if d.cfg.TentativeNodes {
		added, err = d.store.AddTentativeEdge(from, to)
	} else {
		added, err = d.store.AddEdge(from, to)
	}
	if err != nil {
		return ToolResult{}, err
	}
	if !added {
		return ToolResult{Success: true, Message: fmt.Sprintf("Nodes %s and %s are already connected", from, to)}, nil
	}
	return ToolResult{Success: true, Message: fmt.Sprintf("Connected %s to %s", from, to)}, nil
}

type nodeIDArgs struct {
	NodeID string `json:"node_id" validate:"required,nodeid"`
}

func (d *ToolDispatcher) removeNode(raw json.RawMessage) (ToolResult, error) {
	var args nodeIDArgs
	if err := d.decode(ToolRemoveNode, raw, &args); err != nil {
		return ToolResult{}, err
	}
	node, err := d.requireNode(ToolRemoveNode, args.NodeID)
	if err != nil {
		return ToolResult{}, err
	}
	if err := d.store.DeleteNode(node.ID); err != nil {
		return ToolResult{}, err
	}
	return ToolResult{
		Success: true,
		Message: fmt.Sprintf("Removed node %s (%q) and its connections", node.ID, node.Title),
		NodeID:  node.ID.String(),
	}, nil
}

func (d *ToolDispatcher) removeEdge(raw json.RawMessage) (ToolResult, error) {
	var args edgeArgs
	if err := d.decode(ToolRemoveEdge, raw, &args); err != nil {
		return ToolResult{}, err
	}
	from, to := valueobjects.NodeID(args.FromID), valueobjects.NodeID(args.ToID)
	if _, ok := d.store.FindEdge(from, to); !ok {
		return ToolResult{}, pkgerrors.NewToolExecutionError(ToolRemoveEdge, fmt.Sprintf("no edge between %s and %s", from, to))
	}
	if err := d.store.RemoveEdge(from, to); err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Success: true, Message: fmt.Sprintf("Disconnected %s from %s", from, to)}, nil
}

type moveNodeArgs struct {
	NodeID string   `json:"node_id" validate:"required,nodeid"`
	X      *float64 `json:"x" validate:"required"`
	Y      *float64 `json:"y" validate:"required"`
}

func (d *ToolDispatcher) moveNode(raw json.RawMessage) (ToolResult, error) {
	var args moveNodeArgs
	if err := d.decode(ToolMoveNode, raw, &args); err != nil {
		return ToolResult{}, err
	}
	node, err := d.requireNode(ToolMoveNode, args.NodeID)
	if err != nil {
		return ToolResult{}, err
	}
	pos, err := valueobjects.NewPoint(*args.X, *args.Y)
	if err != nil {
		return ToolResult{}, pkgerrors.NewToolExecutionError(ToolMoveNode, err.Error())
	}
	if err := d.store.MoveNode(node.ID, pos); err != nil {
		return ToolResult{}, err
	}
	return ToolResult{
		Success: true,
		Message: fmt.Sprintf("Moved node %s to (%.0f, %.0f)", node.ID, pos.X, pos.Y),
		NodeID:  node.ID.String(),
	}, nil
}

type renameNodeArgs struct {
	NodeID string `json:"node_id" validate:"required,nodeid"`
	Title  string `json:"title" validate:"required,max=200"`
}

func (d *ToolDispatcher) renameNode(raw json.RawMessage) (ToolResult, error) {
	var args renameNodeArgs
	if err := d.decode(ToolRenameNode, raw, &args); err != nil {
		return ToolResult{}, err
	}
	node, err := d.requireNode(ToolRenameNode, args.NodeID)
	if err != nil {
		return ToolResult{}, err
	}
	if err := d.store.UpdateNodeTitle(node.ID, args.Title); err != nil {
		return ToolResult{}, err
	}
	renamed, _ := d.store.FindNode(node.ID)
	return ToolResult{
		Success: true,
		Message: fmt.Sprintf("Renamed node %s to %q", node.ID, renamed.Title),
		NodeID:  node.ID.String(),
		Title:   renamed.Title,
	}, nil
}

// Catalogue describes the tools for session.update. The node type enum
// follows the types currently registered in the store.
func (d *ToolDispatcher) Catalogue() []protocol.ToolDefinition {
	types := d.store.NodeTypes()
	typeEnum := make([]string, 0, len(types))
	for _, t := range types {
		typeEnum = append(typeEnum, t.String())
	}

	str := func(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
	num := func(desc string) map[string]any { return map[string]any{"type": "number", "description": desc} }
	obj := func(props map[string]any, required ...string) map[string]any {
		return map[string]any{"type": "object", "properties": props, "required": required}
	}

	return []protocol.ToolDefinition{
		{
			Type:        "function",
			Name:        ToolAddNode,
			Description: "Add a node to the learner's graph. Omit x and y to place it in view, or give near_node_id to place it beside a related node.",
			Parameters: obj(map[string]any{
				"type":         map[string]any{"type": "string", "enum": typeEnum, "description": "Kind of node"},
				"title":        str("Short title shown on the node"),
				"content":      str("Optional longer notes"),
				"x":            num("World x coordinate"),
				"y":            num("World y coordinate"),
				"near_node_id": str("Place the new node beside this node"),
				"confidence":   num("How sure you are the learner wants this node, 0 to 1"),
			}, "type", "title"),
		},
		{
			Type:        "function",
			Name:        ToolConnectNodes,
			Description: "Connect two existing nodes.",
			Parameters:  obj(map[string]any{"from_id": str("First node id"), "to_id": str("Second node id")}, "from_id", "to_id"),
		},
		{
			Type:        "function",
			Name:        ToolRemoveNode,
			Description: "Remove a node and every connection touching it.",
			Parameters:  obj(map[string]any{"node_id": str("Node to remove")}, "node_id"),
		},
		{
			Type:        "function",
			Name:        ToolRemoveEdge,
			Description: "Remove the connection between two nodes.",
			Parameters:  obj(map[string]any{"from_id": str("First node id"), "to_id": str("Second node id")}, "from_id", "to_id"),
		},
		{
			Type:        "function",
			Name:        ToolMoveNode,
			Description: "Move a node to new world coordinates.",
			Parameters:  obj(map[string]any{"node_id": str("Node to move"), "x": num("World x coordinate"), "y": num("World y coordinate")}, "node_id", "x", "y"),
		},
		{
			Type:        "function",
			Name:        ToolRenameNode,
			Description: "Change a node's title.",
			Parameters:  obj(map[string]any{"node_id": str("Node to rename"), "title": str("New title")}, "node_id", "title"),
		},
	}
}
