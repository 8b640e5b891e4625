// Package focus resolves directional keyboard focus between on-screen
// controls from their geometry alone.
package focus

import (
	"log/slog"
	"sync"
)

// Liveness reports whether a registered control is still attached to the
// rendered view. The rendering adapter implements it.
type Liveness interface {
	Attached(nodeID string) bool
}

// LivenessFunc adapts a function to Liveness.
type LivenessFunc func(nodeID string) bool

func (f LivenessFunc) Attached(nodeID string) bool { return f(nodeID) }

// Navigator is a registry of focusable controls.
type Navigator struct {
	mu       sync.Mutex
	order    []string
	entries  map[string]Descriptor
	liveness Liveness
	log      *slog.Logger
	debug    func() bool
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithLiveness prunes controls the adapter reports as detached.
func WithLiveness(l Liveness) Option {
	return func(n *Navigator) { n.liveness = l }
}

// WithDebug logs search geometry whenever enabled returns true.
func WithDebug(l *slog.Logger, enabled func() bool) Option {
	return func(n *Navigator) {
		n.log = l
		n.debug = enabled
	}
}

// NewNavigator returns an empty navigator.
func NewNavigator(opts ...Option) *Navigator {
	n := &Navigator{
		entries: make(map[string]Descriptor),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Register adds or updates a control. Registering the same node id again
// replaces its descriptor without duplicating it.
func (n *Navigator) Register(d Descriptor) {
	if d.NodeID == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.entries[d.NodeID]; !ok {
		n.order = append(n.order, d.NodeID)
	}
	n.entries[d.NodeID] = d
}

// Unregister removes a control.
func (n *Navigator) Unregister(nodeID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.remove(nodeID)
}

func (n *Navigator) remove(nodeID string) {
	if _, ok := n.entries[nodeID]; !ok {
		return
	}
	delete(n.entries, nodeID)
	for i, id := range n.order {
		if id == nodeID {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered controls.
func (n *Navigator) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

// Lookup returns the descriptor registered for nodeID.
func (n *Navigator) Lookup(nodeID string) (Descriptor, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.entries[nodeID]
	return d, ok
}

// prune drops detached controls. Caller holds n.mu.
func (n *Navigator) prune() {
	if n.liveness == nil {
		return
	}
	for _, id := range append([]string(nil), n.order...) {
		if !n.liveness.Attached(id) {
			n.remove(id)
		}
	}
}

// Move returns the node that should receive focus when moving dir from
// fromID. It reports false when focus should stay where it is.
func (n *Navigator) Move(fromID string, dir Direction) (string, bool) {
	n.mu.Lock()
	n.prune()
	candidates := make([]Descriptor, 0, len(n.order))
	for _, id := range n.order {
		candidates = append(candidates, n.entries[id])
	}
	origin, known := n.entries[fromID]
	n.mu.Unlock()

	var (
		next Descriptor
		ok   bool
	)
	if known {
		next, ok = Next(origin, candidates, dir)
	} else {
		next, ok = First(candidates)
	}

	if n.debug != nil && n.debug() {
		n.log.Debug("focus: move",
			"from", fromID,
			"direction", dir.String(),
			"candidates", len(candidates),
			"origin_bounds", origin.Bounds,
			"to", next.NodeID,
			"moved", ok,
		)
	}
	if !ok {
		return "", false
	}
	return next.NodeID, true
}
