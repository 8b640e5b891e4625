// Package dispatch is the single mutation path for the camera state: it
// runs named operations, applies their optimistic state deltas and relays
// their device commands in order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ptz-panel/internal/device"
	"ptz-panel/internal/metrics"
	"ptz-panel/internal/state"
	"ptz-panel/internal/telemetry"
)

var (
	// ErrDuplicateOperation is returned when an id is registered twice.
	ErrDuplicateOperation = errors.New("operation already registered")
	// ErrOperationNotFound is returned for unknown operation ids.
	ErrOperationNotFound = errors.New("operation not found")
)

// Context is the read-only snapshot an operation sees.
type Context struct {
	PagePath  string
	NodePath  string
	Kind      string
	Timestamp time.Time
	State     state.Tree
}

// Payload is the input of an operation. Stepping is resolved once at the
// protocol boundary.
type Payload struct {
	Value    float64         `json:"value"`
	Stepping device.Stepping `json:"stepping"`
	Auto     bool            `json:"auto,omitempty"`
	Mode     string          `json:"mode,omitempty"`
	Preset   int             `json:"preset,omitempty"`
}

// Result is what an operation asks the dispatcher to do.
type Result struct {
	Delta    *state.Delta
	Commands []device.Command
}

// Handler implements one operation.
type Handler func(ctx context.Context, oc Context, p Payload) (Result, error)

// Definition names a handler.
type Definition struct {
	ID          string
	Description string
	Handler     Handler
}

// Dispatcher runs registered operations.
type Dispatcher struct {
	store   *state.Store
	channel device.Channel
	sink    telemetry.Sink
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	log     *slog.Logger

	mu       sync.RWMutex
	ops      map[string]Definition
	pagePath string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSink sets the telemetry sink.
func WithSink(s telemetry.Sink) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.sink = s
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock sets the time source for context timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// New creates a dispatcher writing to store and sending through channel.
func New(store *state.Store, channel device.Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		channel: channel,
		sink:    telemetry.Discard,
		tracer:  otel.Tracer("ptz-panel/dispatch"),
		now:     time.Now,
		log:     slog.Default(),
		ops:     make(map[string]Definition),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds an operation. Registering an id twice is a programming
// error and returns ErrDuplicateOperation.
func (d *Dispatcher) Register(def Definition) error {
	if def.ID == "" || def.Handler == nil {
		return fmt.Errorf("invalid operation definition %q", def.ID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ops[def.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, def.ID)
	}
	d.ops[def.ID] = def
	return nil
}

// MustRegister is Register for start-up wiring; it panics on error.
func (d *Dispatcher) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := d.Register(def); err != nil {
			panic(err)
		}
	}
}

// Operations returns the registered ids in sorted order.
func (d *Dispatcher) Operations() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.ops))
	for id := range d.ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetPage records the page the operator is on.
func (d *Dispatcher) SetPage(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pagePath = path
}

// Run executes operation id for the control at nodePath. The returned
// responses are in command order. Device failures are reported in the
// responses, not as an error, and do not roll back the state delta.
func (d *Dispatcher) Run(ctx context.Context, nodePath, kind, id string, p Payload) ([]device.Response, error) {
	d.mu.RLock()
	def, ok := d.ops[id]
	page := d.pagePath
	d.mu.RUnlock()
	if !ok {
		d.metrics.ObserveOperation(id, "not_found")
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}

	ctx, span := d.tracer.Start(ctx, "dispatch "+id, trace.WithAttributes(
		attribute.String("operation", id),
		attribute.String("node_path", nodePath),
		attribute.String("kind", kind),
	))
	defer span.End()

	oc := Context{
		PagePath:  page,
		NodePath:  nodePath,
		Kind:      kind,
		Timestamp: d.now(),
		State:     d.store.Snapshot(),
	}
	res, err := def.Handler(ctx, oc, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.ObserveOperation(id, "error")
		return nil, fmt.Errorf("operation %s failed: %w", id, err)
	}

	if res.Delta != nil {
		d.store.Apply(*res.Delta)
	}

	responses := make([]device.Response, 0, len(res.Commands))
	failed := 0
	for _, cmd := range res.Commands {
		cmd = cmd.Normalize()
		resp := d.send(ctx, cmd)
		responses = append(responses, resp)
		if !resp.OK {
			failed++
			d.log.Warn("dispatch: device command failed", "operation", id, "command", cmd.String(), "error", resp.Error)
		}
		d.metrics.ObserveCommand(cmd.Kind, resp.OK)
		d.push(telemetry.Snapshot{
			Operation:   id,
			NodePath:    nodePath,
			LastCommand: cmd,
			OK:          resp.OK,
			Error:       resp.Error,
			Timestamp:   d.now(),
		})
	}
	span.SetAttributes(attribute.Int("commands", len(res.Commands)), attribute.Int("failed", failed))

	d.store.Notify()

	status := "ok"
	if failed > 0 {
		status = "device_error"
	}
	d.metrics.ObserveOperation(id, status)
	return responses, nil
}

func (d *Dispatcher) send(ctx context.Context, cmd device.Command) device.Response {
	ctx, cancel := device.WithTimeout(ctx, cmd)
	defer cancel()
	resp := d.channel.Send(ctx, cmd)
	if resp.ID == "" {
		resp.ID = cmd.ID
	}
	return resp
}

func (d *Dispatcher) push(s telemetry.Snapshot) {
	if err := d.sink.Push(s); err != nil {
		d.metrics.ObserveTelemetryFailure("dispatch")
		d.log.Debug("dispatch: telemetry push failed", "operation", s.Operation, "error", err)
	}
}
