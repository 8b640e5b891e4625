package config

import (
	"sort"
	"sync"
)

// Named toggles.
const (
	// ToggleDebugLayout logs every focus navigation decision.
	ToggleDebugLayout = "debug.layout"
	// ToggleDebugGestures logs every gesture event the server receives.
	ToggleDebugGestures = "debug.gestures"
)

// ToggleFunc is called after a toggle changes.
type ToggleFunc func(name string, enabled bool)

// Toggles is a set of named boolean switches that can be flipped at run
// time. Components receive it at construction instead of reading globals.
type Toggles struct {
	mu     sync.RWMutex
	values map[string]bool
	subs   map[int]ToggleFunc
	nextID int
}

// NewToggles returns a set with the named toggles enabled.
func NewToggles(enabled ...string) *Toggles {
	t := &Toggles{
		values: make(map[string]bool, len(enabled)),
		subs:   make(map[int]ToggleFunc),
	}
	for _, name := range enabled {
		t.values[name] = true
	}
	return t
}

// Enabled reports whether name is on. Unknown toggles are off.
func (t *Toggles) Enabled(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values[name]
}

// Func returns a closure reporting the live value of name.
func (t *Toggles) Func(name string) func() bool {
	return func() bool { return t.Enabled(name) }
}

// Set changes a toggle and notifies subscribers if the value changed.
func (t *Toggles) Set(name string, enabled bool) bool {
	t.mu.Lock()
	if t.values[name] == enabled {
		t.mu.Unlock()
		return false
	}
	t.values[name] = enabled
	subs := make([]ToggleFunc, 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(name, enabled)
	}
	return true
}

// Subscribe registers fn and returns a function that removes it.
func (t *Toggles) Subscribe(fn ToggleFunc) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// Snapshot returns the names of the enabled toggles, sorted.
func (t *Toggles) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for name, on := range t.values {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
