// Package telemetry pushes dispatch outcomes outward. Every sink is
// fire-and-forget: a failed push never fails the operation that caused it.
package telemetry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"ptz-panel/internal/device"
)

// Snapshot describes one completed device command.
type Snapshot struct {
	Operation   string         `json:"operation"`
	NodePath    string         `json:"node_path,omitempty"`
	LastCommand device.Command `json:"last_command"`
	OK          bool           `json:"ok"`
	Error       string         `json:"error,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Sink receives snapshots.
type Sink interface {
	Push(s Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Snapshot) error

func (f SinkFunc) Push(s Snapshot) error { return f(s) }

// Discard drops every snapshot.
var Discard Sink = SinkFunc(func(Snapshot) error { return nil })

// Fanout pushes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Push(s Snapshot) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Push(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrDropped is returned when an async sink's buffer is full.
var ErrDropped = errors.New("telemetry buffer full, snapshot dropped")

// Async pushes to a slow sink from a background goroutine.
type Async struct {
	name  string
	sink  Sink
	queue chan Snapshot
	done  chan struct{}
	log   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts a worker draining into sink. name labels log lines.
func NewAsync(name string, sink Sink, buffer int, log *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Async{
		name:  name,
		sink:  sink,
		queue: make(chan Snapshot, buffer),
		done:  make(chan struct{}),
		log:   log,
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for s := range a.queue {
		if err := a.sink.Push(s); err != nil {
			a.log.Warn("telemetry: push failed", "sink", a.name, "error", err)
		}
	}
}

// Push enqueues s without blocking.
func (a *Async) Push(s Snapshot) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrDropped
	}
	select {
	case a.queue <- s:
		return nil
	default:
		return ErrDropped
	}
}

// Close drains the queue and stops the worker.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}
