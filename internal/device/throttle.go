package device

import (
	"sync"
	"time"

	"ptz-panel/internal/clock"
)

// Throttle coalesces rapid updates per key, sending immediately when the
// key is outside its cooldown and scheduling one trailing send with the
// latest update otherwise.
type Throttle struct {
	sched    clock.Scheduler
	interval time.Duration

	mu     sync.Mutex
	keys   map[string]*throttleKey
	closed bool
}

type throttleKey struct {
	lastSend time.Time
	pending  func()
	timer    clock.Timer
}

// NewThrottle returns a throttle allowing one send per key per interval.
func NewThrottle(sched clock.Scheduler, interval time.Duration) *Throttle {
	return &Throttle{
		sched:    sched,
		interval: interval,
		keys:     make(map[string]*throttleKey),
	}
}

// Trigger runs flush now if key is outside its cooldown. Otherwise flush
// replaces any pending update for key and runs at the end of the cooldown.
// It reports whether flush ran immediately.
func (t *Throttle) Trigger(key string, flush func()) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	k, ok := t.keys[key]
	if !ok {
		k = &throttleKey{}
		t.keys[key] = k
	}
	now := t.sched.Now()
	if k.lastSend.IsZero() || now.Sub(k.lastSend) >= t.interval {
		k.lastSend = now
		k.pending = nil
		t.mu.Unlock()
		flush()
		return true
	}

	k.pending = flush
	if k.timer == nil {
		remaining := t.interval - now.Sub(k.lastSend)
		k.timer = t.sched.AfterFunc(remaining, func() { t.fire(key) })
	}
	t.mu.Unlock()
	return false
}

func (t *Throttle) fire(key string) {
	t.mu.Lock()
	k, ok := t.keys[key]
	if !ok || t.closed {
		t.mu.Unlock()
		return
	}
	k.timer = nil
	flush := k.pending
	k.pending = nil
	if flush != nil {
		k.lastSend = t.sched.Now()
	}
	t.mu.Unlock()

	if flush != nil {
		flush()
	}
}

// Bypass drops any pending update for key and runs flush immediately,
// restarting the key's cooldown. Used for stop commands.
func (t *Throttle) Bypass(key string, flush func()) {
	t.mu.Lock()
	if k, ok := t.keys[key]; ok {
		if k.timer != nil {
			k.timer.Stop()
			k.timer = nil
		}
		k.pending = nil
		k.lastSend = t.sched.Now()
	} else {
		t.keys[key] = &throttleKey{lastSend: t.sched.Now()}
	}
	t.mu.Unlock()
	flush()
}

// Close cancels every pending trailing send.
func (t *Throttle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, k := range t.keys {
		if k.timer != nil {
			k.timer.Stop()
			k.timer = nil
		}
		k.pending = nil
	}
}
