// Package cli renders graph changes and session status on a terminal.
package cli

import (
	"fmt"
	"io"
	"sync"

	"learngraph/application/projections"
	"learngraph/application/services"
	"learngraph/application/voice"
	"learngraph/domain/core/entities"
)

// row is the view handle of one printed element
type row struct {
	n int
}

// TerminalRenderer prints one line per mounted, updated or removed
// element. Each element keeps the row number it was first printed with.
type TerminalRenderer struct {
	mu   sync.Mutex
	w    io.Writer
	rows int
}

var _ projections.Renderer = (*TerminalRenderer)(nil)

// NewTerminalRenderer writes to w
func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	return &TerminalRenderer{w: w}
}

func (r *TerminalRenderer) MountNode(node entities.Node) projections.ViewHandle {
	h := r.next()
	r.printf("+ [%d] %s\n", h.n, describeNode(node))
	return h
}

func (r *TerminalRenderer) UpdateNode(handle projections.ViewHandle, node entities.Node) {
	r.printf("~ [%d] %s\n", rowOf(handle), describeNode(node))
}

func (r *TerminalRenderer) UnmountNode(handle projections.ViewHandle) {
	r.printf("- [%d]\n", rowOf(handle))
}

func (r *TerminalRenderer) MountEdge(edge entities.Edge) projections.ViewHandle {
	h := r.next()
	r.printf("+ [%d] %s\n", h.n, describeEdge(edge))
	return h
}

func (r *TerminalRenderer) UpdateEdge(handle projections.ViewHandle, edge entities.Edge) {
	r.printf("~ [%d] %s\n", rowOf(handle), describeEdge(edge))
}

func (r *TerminalRenderer) UnmountEdge(handle projections.ViewHandle) {
	r.printf("- [%d]\n", rowOf(handle))
}

func (r *TerminalRenderer) next() *row {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows++
	return &row{n: r.rows}
}

func (r *TerminalRenderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

func rowOf(handle projections.ViewHandle) int {
	if h, ok := handle.(*row); ok {
		return h.n
	}
	return 0
}

func describeNode(n entities.Node) string {
	s := fmt.Sprintf("%s %s %q at (%.0f, %.0f)", n.ID, n.Type, n.Title, n.Position.X, n.Position.Y)
	if n.DueDate != "" {
		s += " due " + n.DueDate
	}
	if n.Tentative {
		s += " (tentative)"
	}
	return s
}

func describeEdge(e entities.Edge) string {
	s := fmt.Sprintf("%s -- %s", e.From, e.To)
	if e.Label != "" {
		s += fmt.Sprintf(" %q", e.Label)
	}
	if e.Tentative {
		s += " (tentative)"
	}
	return s
}

// StatusPrinter writes session and persistence status lines
type StatusPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStatusPrinter writes to w
func NewStatusPrinter(w io.Writer) *StatusPrinter {
	return &StatusPrinter{w: w}
}

// Session prints a voice session status
func (p *StatusPrinter) Session(s voice.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Err != nil {
		fmt.Fprintf(p.w, "[%s] %s: %v\n", s.State, s.Message, s.Err)
		return
	}
	fmt.Fprintf(p.w, "[%s] %s\n", s.State, s.Message)
}

// Persistence prints failed saves and loads; successes stay quiet
func (p *StatusPrinter) Persistence(s services.PersistenceStatus) {
	if s.Err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] not saved, changes kept locally: %v\n", s.Operation, s.Err)
}
