package state

import (
	"sync"
	"time"
)

// View is the externally visible, read-only state.
type View struct {
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Tree      Tree      `json:"tree"`
}

// Listener receives the view after each notification.
type Listener func(View)

// Store owns the authoritative tree. Writers are the dispatcher and the
// device echo paths; everything else reads snapshots.
type Store struct {
	now func() time.Time

	mu     sync.Mutex
	tree   Tree
	view   View
	nextID int
	subs   map[int]Listener
}

// NewStore returns a store seeded with tree. now may be nil.
func NewStore(tree Tree, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	s := &Store{
		now:  now,
		tree: tree,
		subs: make(map[int]Listener),
	}
	s.view = View{Tree: tree, UpdatedAt: now()}
	return s
}

// Snapshot returns a copy of the tree.
func (s *Store) Snapshot() Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// View returns the current read-only view.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Apply merges d into the tree and recomputes the view. It does not notify.
func (s *Store) Apply(d Delta) {
	if d.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(d)
}

func (s *Store) apply(d Delta) {
	s.tree = s.tree.Merge(d)
	s.view = View{
		Version:   s.view.Version + 1,
		UpdatedAt: s.now(),
		Tree:      s.tree,
	}
}

// SetAxis writes one axis value, clamped, against the latest tree. It
// reports false for unknown axes.
func (s *Store) SetAxis(name string, value float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.tree.WithAxis(name, value)
	if !ok {
		return false
	}
	s.apply(d)
	return true
}

// Subscribe registers fn for notifications and returns a function that
// removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Notify sends the current view to every subscriber.
func (s *Store) Notify() {
	s.mu.Lock()
	view := s.view
	subs := make([]Listener, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(view)
	}
}
