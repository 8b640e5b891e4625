package clock

import (
	"sync"
	"time"
)

// Virtual is a deterministic Scheduler. Time only moves when Advance is
// called; due callbacks run synchronously on the caller's goroutine in
// deadline order, ties broken by creation order. Callbacks may create or
// stop timers.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[*virtualTimer]struct{}
}

// NewVirtual returns a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{
		now:    start,
		timers: make(map[*virtualTimer]struct{}),
	}
}

type virtualTimer struct {
	clock  *Virtual
	when   time.Time
	period time.Duration
	seq    uint64
	fn     func()
}

func (t *virtualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t]; !ok {
		return false
	}
	delete(t.clock.timers, t)
	return true
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	return v.add(d, 0, fn)
}

func (v *Virtual) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	return v.add(d, d, fn)
}

func (v *Virtual) add(d, period time.Duration, fn func()) *virtualTimer {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{
		clock:  v,
		when:   v.now.Add(d),
		period: period,
		seq:    v.seq,
		fn:     fn,
	}
	v.timers[t] = struct{}{}
	return t
}

// Pending returns the number of active timers.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		next := v.earliest(target)
		if next == nil {
			v.now = target
			v.mu.Unlock()
			return
		}
		v.now = next.when
		if next.period > 0 {
			next.when = next.when.Add(next.period)
		} else {
			delete(v.timers, next)
		}
		fn := next.fn
		v.mu.Unlock()

		fn()
	}
}

func (v *Virtual) earliest(limit time.Time) *virtualTimer {
	var best *virtualTimer
	for t := range v.timers {
		if t.when.After(limit) {
			continue
		}
		if best == nil || t.when.Before(best.when) || (t.when.Equal(best.when) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}
