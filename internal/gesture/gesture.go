// Package gesture turns key holds, pointer drags and d-pad presses on bound
// sliders into dispatched axis operations.
package gesture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"ptz-panel/internal/accel"
	"ptz-panel/internal/clock"
	"ptz-panel/internal/device"
	"ptz-panel/internal/dispatch"
	"ptz-panel/internal/state"
)

// Runner runs an operation. *dispatch.Dispatcher implements it.
type Runner interface {
	Run(ctx context.Context, nodePath, kind, id string, p dispatch.Payload) ([]device.Response, error)
}

// Snapshotter returns the current state tree. *state.Store implements it.
type Snapshotter interface {
	Snapshot() state.Tree
}

// Binding ties a control to the axis operation it drives.
type Binding struct {
	Operation string `json:"operation"`
	Axis      string `json:"axis"`
	// Profile is an acceleration profile key; unknown keys use the default.
	Profile string `json:"profile,omitempty"`
	// BaseStep is the step at tick zero in axis units. Zero means one
	// percent of the axis range.
	BaseStep float64 `json:"base_step,omitempty"`
	// Kind is reported to operations as the control kind.
	Kind string `json:"kind,omitempty"`
}

// Direction returns +1 for keys that increase a value, -1 for keys that
// decrease it and 0 for anything else.
func Direction(key string) float64 {
	switch key {
	case "ArrowUp", "ArrowRight", "PageUp", "+", "=":
		return 1
	case "ArrowDown", "ArrowLeft", "PageDown", "-", "_":
		return -1
	}
	return 0
}

const defaultInterval = 50 * time.Millisecond

type control struct {
	path    string
	binding Binding
	profile accel.Profile
	hold    *accel.Hold

	key string
	dir float64
	// target accumulates fractional steps; only its rounded value is sent.
	target   float64
	sent     float64
	timer    clock.Timer
	gen      uint64
	dragging bool
}

// Controller drives bound controls. It is safe for concurrent use.
type Controller struct {
	sched    clock.Scheduler
	runner   Runner
	states   Snapshotter
	profiles *accel.Catalog
	log      *slog.Logger
	ctx      context.Context

	mu       sync.Mutex
	controls map[string]*control
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithContext sets the context operations run under.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) { c.ctx = ctx }
}

// New creates a controller. A nil profiles catalogue uses the built-in
// profiles.
func New(sched clock.Scheduler, runner Runner, states Snapshotter, profiles *accel.Catalog, opts ...Option) *Controller {
	if profiles == nil {
		profiles = accel.Builtin()
	}
	c := &Controller{
		sched:    sched,
		runner:   runner,
		states:   states,
		profiles: profiles,
		log:      slog.Default(),
		ctx:      context.Background(),
		controls: make(map[string]*control),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind attaches a binding to nodePath, replacing any previous one.
func (c *Controller) Bind(nodePath string, b Binding) error {
	if b.Operation == "" || b.Axis == "" {
		return fmt.Errorf("invalid binding for %s: operation and axis are required", nodePath)
	}
	if _, ok := c.states.Snapshot().Axis(b.Axis); !ok {
		return fmt.Errorf("invalid binding for %s: unknown axis %s", nodePath, b.Axis)
	}
	if b.Kind == "" {
		b.Kind = "slider"
	}
	p := c.profiles.Get(b.Profile)

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.controls[nodePath]; ok {
		c.cancelHold(old)
	}
	c.controls[nodePath] = &control{path: nodePath, binding: b, profile: p, hold: accel.NewHold(p)}
	return nil
}

// Unbind removes a binding and cancels its hold without sending a stop.
func (c *Controller) Unbind(nodePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctl, ok := c.controls[nodePath]; ok {
		c.cancelHold(ctl)
		delete(c.controls, nodePath)
	}
}

// Holding reports whether a key hold is active on nodePath.
func (c *Controller) Holding(nodePath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctl, ok := c.controls[nodePath]
	return ok && ctl.hold.Active()
}

// KeyDown begins a hold on nodePath. Key-downs for a key that is already
// held are ignored so native auto-repeat does not restart the curve. It
// reports whether the key was handled.
func (c *Controller) KeyDown(nodePath, key string) bool {
	dir := Direction(key)
	if dir == 0 {
		return false
	}

	c.mu.Lock()
	ctl, ok := c.controls[nodePath]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if ctl.hold.Active() && ctl.key == key {
		c.mu.Unlock()
		return true
	}
	c.cancelHold(ctl)

	span, cur, ok := c.axisState(ctl)
	if !ok {
		c.mu.Unlock()
		return false
	}
	ctl.key = key
	ctl.dir = dir
	ctl.target = cur
	step := ctl.hold.Begin(c.baseStep(ctl, span), span)
	value, stepping := c.advance(ctl, step, span)
	ctl.sent = value

	gen := ctl.gen
	ctl.timer = c.sched.Every(ctl.interval(), func() { c.tick(ctl, gen) })
	b := ctl.binding
	c.mu.Unlock()

	c.run(nodePath, b, dispatch.Payload{Value: value, Stepping: stepping})
	return true
}

// KeyUp ends the hold on nodePath and stops the axis.
func (c *Controller) KeyUp(nodePath, key string) bool {
	c.mu.Lock()
	ctl, ok := c.controls[nodePath]
	if !ok || !ctl.hold.Active() || (key != "" && ctl.key != key) {
		c.mu.Unlock()
		return false
	}
	c.cancelHold(ctl)
	b := ctl.binding
	c.mu.Unlock()

	c.run(nodePath, b, dispatch.Payload{Stepping: device.Stop()})
	return true
}

// tick advances the hold started under gen. Ticks from a cancelled timer
// that were already running are dropped.
func (c *Controller) tick(ctl *control, gen uint64) {
	nodePath := ctl.path
	c.mu.Lock()
	if c.controls[nodePath] != ctl || !ctl.hold.Active() || ctl.gen != gen {
		c.mu.Unlock()
		return
	}
	span, _, ok := c.axisState(ctl)
	if !ok {
		c.mu.Unlock()
		return
	}
	step := ctl.hold.Advance(c.baseStep(ctl, span), span)
	value, stepping := c.advance(ctl, step, span)
	// Pinned at the end of the range, or still short of the next whole
	// unit: nothing new to ask for.
	if value == ctl.sent {
		c.mu.Unlock()
		return
	}
	ctl.sent = value
	b := ctl.binding
	c.mu.Unlock()

	c.run(nodePath, b, dispatch.Payload{Value: value, Stepping: stepping})
}

// Press applies one discrete step, as a d-pad button does. A press always
// moves the value by at least one unit unless it is already at the end of
// the range.
func (c *Controller) Press(nodePath, key string) bool {
	dir := Direction(key)
	if dir == 0 {
		return false
	}
	c.mu.Lock()
	ctl, ok := c.controls[nodePath]
	if !ok {
		c.mu.Unlock()
		return false
	}
	span, cur, ok := c.axisState(ctl)
	if !ok {
		c.mu.Unlock()
		return false
	}
	step := math.Max(ctl.profile.Step(0, c.baseStep(ctl, span), span), 1)
	value := c.clamp(ctl, math.Round(cur+dir*step))
	b := ctl.binding
	c.mu.Unlock()

	c.run(nodePath, b, dispatch.Payload{Value: value, Stepping: device.Discrete()})
	return true
}

// DragStart begins a pointer drag, ending any key hold on the control.
func (c *Controller) DragStart(nodePath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctl, ok := c.controls[nodePath]
	if !ok {
		return false
	}
	c.cancelHold(ctl)
	ctl.dragging = true
	return true
}

// DragTo moves the axis toward value at the fastest speed the profile
// allows.
func (c *Controller) DragTo(nodePath string, value float64) bool {
	c.mu.Lock()
	ctl, ok := c.controls[nodePath]
	if !ok || !ctl.dragging {
		c.mu.Unlock()
		return false
	}
	span, _, ok := c.axisState(ctl)
	if !ok {
		c.mu.Unlock()
		return false
	}
	interval := ctl.interval()
	step := accel.MaxNormalizedStep(interval) / 100 * span
	value = c.clamp(ctl, math.Round(value))
	ctl.target = value
	ctl.sent = value
	b := ctl.binding
	c.mu.Unlock()

	c.run(nodePath, b, dispatch.Payload{Value: value, Stepping: device.Continuous(step, interval)})
	return true
}

// DragEnd finishes a drag at value. The axis keeps converging on it.
func (c *Controller) DragEnd(nodePath string, value float64) bool {
	if !c.DragTo(nodePath, value) {
		return false
	}
	c.mu.Lock()
	if ctl, ok := c.controls[nodePath]; ok {
		ctl.dragging = false
	}
	c.mu.Unlock()
	return true
}

// Close cancels every hold timer. It does not send stops.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ctl := range c.controls {
		c.cancelHold(ctl)
		ctl.dragging = false
	}
}

// advance moves the running target by one capped step and returns the
// whole-unit value to send. Callers hold c.mu.
func (c *Controller) advance(ctl *control, step, span float64) (float64, device.Stepping) {
	ctl.target = c.clamp(ctl, ctl.target+ctl.dir*step)
	return c.clamp(ctl, math.Round(ctl.target)), device.Continuous(math.Abs(step), ctl.interval())
}

func (ctl *control) interval() time.Duration {
	if ctl.profile.Interval <= 0 {
		return defaultInterval
	}
	return ctl.profile.Interval
}

// cancelHold stops the hold timer and discards the tick index. Callers
// hold c.mu.
func (c *Controller) cancelHold(ctl *control) {
	if ctl.timer != nil {
		ctl.timer.Stop()
		ctl.timer = nil
	}
	ctl.gen++
	ctl.hold.End()
	ctl.key = ""
	ctl.dir = 0
}

func (c *Controller) axisState(ctl *control) (span, value float64, ok bool) {
	a, ok := c.states.Snapshot().Axis(ctl.binding.Axis)
	if !ok {
		return 0, 0, false
	}
	return a.Range().Span(), a.Value, true
}

func (c *Controller) clamp(ctl *control, v float64) float64 {
	a, ok := c.states.Snapshot().Axis(ctl.binding.Axis)
	if !ok {
		return v
	}
	return a.Range().Clamp(v)
}

func (c *Controller) baseStep(ctl *control, span float64) float64 {
	if ctl.binding.BaseStep > 0 {
		return ctl.binding.BaseStep
	}
	return span / 100
}

func (c *Controller) run(nodePath string, b Binding, p dispatch.Payload) {
	resps, err := c.runner.Run(c.ctx, nodePath, b.Kind, b.Operation, p)
	if err != nil {
		c.log.Warn("gesture: operation failed", "node", nodePath, "operation", b.Operation, "error", err)
		return
	}
	for _, r := range resps {
		if !r.OK {
			c.log.Debug("gesture: device rejected command", "node", nodePath, "error", r.Error)
		}
	}
}
