// Package clock abstracts timers so that cadence-driven code (steppers, hold
// gestures, throttles) can run against wall-clock time in production and a
// manually advanced virtual clock in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the timer was still active.
	Stop() bool
}

// Scheduler creates timers.
type Scheduler interface {
	Now() time.Time
	// AfterFunc runs fn once after d.
	AfterFunc(d time.Duration, fn func()) Timer
	// Every runs fn every d until the returned timer is stopped.
	Every(d time.Duration, fn func()) Timer
}

// Real is a Scheduler backed by the time package.
type Real struct{}

// NewReal returns the wall-clock scheduler.
func NewReal() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func (Real) Every(d time.Duration, fn func()) Timer {
	t := &realTicker{
		ticker: time.NewTicker(d),
		stopCh: make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type realTicker struct {
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
}

func (t *realTicker) run(fn func()) {
	for {
		select {
		case <-t.stopCh:
			return
		case <-t.ticker.C:
			// A tick may race with Stop; honour Stop first.
			select {
			case <-t.stopCh:
				return
			default:
			}
			fn()
		}
	}
}

func (t *realTicker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stopCh)
		stopped = true
	})
	return stopped
}
