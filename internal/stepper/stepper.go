// Package stepper advances tracked axis values toward their targets on a
// fixed cadence, never faster than a configured units-per-second ceiling.
package stepper

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"ptz-panel/internal/axis"
	"ptz-panel/internal/clock"
)

const (
	// DefaultInterval is the cadence used when a request carries none.
	DefaultInterval = 50 * time.Millisecond
	// MinInterval is the fastest cadence a request may ask for.
	MinInterval = 16 * time.Millisecond
	// DefaultMaxUnitsPerSecond caps step/interval for every axis.
	DefaultMaxUnitsPerSecond = 4000.0
	defaultStep              = 1.0
)

// Config describes how an axis should approach its target.
type Config struct {
	StepPerInterval float64
	Interval        time.Duration
	// Stop freezes the axis at its current value; the target is ignored.
	Stop bool
}

// ChangeFunc is called after a tick moved an axis.
type ChangeFunc func(axis string, value float64)

// Option configures a Stepper.
type Option func(*Stepper)

// WithMaxUnitsPerSecond overrides the speed ceiling.
func WithMaxUnitsPerSecond(v float64) Option {
	return func(s *Stepper) {
		if v > 0 && !math.IsInf(v, 0) {
			s.maxUnitsPerSecond = v
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stepper) { s.log = l }
}

type axisState struct {
	rng      axis.Range
	current  float64
	target   float64
	step     float64
	interval time.Duration
	timer    clock.Timer
	// gen changes whenever timer is replaced or cancelled.
	gen     uint64
	stopped bool
}

// Stepper owns one convergence loop per axis.
type Stepper struct {
	sched             clock.Scheduler
	onChange          ChangeFunc
	maxUnitsPerSecond float64
	log               *slog.Logger

	mu     sync.Mutex
	axes   map[string]*axisState
	closed bool
}

// New creates a stepper. onChange may be nil.
func New(sched clock.Scheduler, onChange ChangeFunc, opts ...Option) *Stepper {
	s := &Stepper{
		sched:             sched,
		onChange:          onChange,
		maxUnitsPerSecond: DefaultMaxUnitsPerSecond,
		log:               slog.Default(),
		axes:              make(map[string]*axisState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAxis registers an axis with its range and starting value. Registering
// an existing axis updates its range and re-clamps its values.
func (s *Stepper) AddAxis(name string, rng axis.Range, initial float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := math.Round(rng.Clamp(initial))
	if a, ok := s.axes[name]; ok {
		a.rng = rng
		a.current = math.Round(rng.Clamp(a.current))
		a.target = math.Round(rng.Clamp(a.target))
		return
	}
	s.axes[name] = &axisState{
		rng:      rng,
		current:  v,
		target:   v,
		step:     defaultStep,
		interval: DefaultInterval,
	}
}

// ScheduleTarget moves axis toward target using cfg. A nil cfg keeps the
// axis's previous step and cadence.
func (s *Stepper) ScheduleTarget(name string, target float64, cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.axes[name]
	if !ok || s.closed {
		s.log.Debug("stepper: ignoring target for unknown axis", "axis", name)
		return
	}

	if cfg != nil && cfg.Stop {
		a.current = math.Round(a.current)
		a.target = a.current
		a.stopped = true
		s.cancel(a)
		return
	}

	a.target = math.Round(a.rng.Clamp(target))
	a.stopped = false

	interval := a.interval
	step := a.step
	if cfg != nil {
		interval = normalizeInterval(cfg.Interval)
		step = cfg.StepPerInterval
	}
	a.step = s.limitStep(step, interval)

	if a.timer != nil && a.interval != interval {
		s.cancel(a)
	}
	a.interval = interval

	if a.current == a.target {
		return
	}
	if a.timer == nil {
		gen := a.gen
		a.timer = s.sched.Every(interval, func() { s.tick(name, gen) })
	}
}

// Set jumps the axis straight to value, cancelling any convergence.
func (s *Stepper) Set(name string, value float64) {
	s.mu.Lock()
	a, ok := s.axes[name]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	s.cancel(a)
	v := math.Round(a.rng.Clamp(value))
	changed := v != a.current
	a.current = v
	a.target = v
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(name, v)
	}
}

// Value returns the axis's current value.
func (s *Stepper) Value(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.axes[name]
	if !ok {
		return 0, false
	}
	return a.current, true
}

// Target returns the axis's current target.
func (s *Stepper) Target(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.axes[name]
	if !ok {
		return 0, false
	}
	return a.target, true
}

// Running reports whether the axis has an active convergence timer.
func (s *Stepper) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.axes[name]
	return ok && a.timer != nil
}

// Close stops every axis timer. Later calls are ignored.
func (s *Stepper) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, a := range s.axes {
		s.cancel(a)
	}
}

// tick advances the axis for the timer started under gen. A tick that was
// already running when its timer was cancelled is dropped.
func (s *Stepper) tick(name string, gen uint64) {
	s.mu.Lock()
	a, ok := s.axes[name]
	if !ok || a.timer == nil || a.gen != gen {
		s.mu.Unlock()
		return
	}
	if a.current == a.target {
		s.cancel(a)
		s.mu.Unlock()
		return
	}

	delta := a.target - a.current
	move := math.Min(math.Abs(delta), a.step)
	next := math.Round(a.current + math.Copysign(move, delta))
	next = a.rng.Clamp(next)
	changed := next != a.current
	a.current = next
	if a.current == a.target {
		s.cancel(a)
	}
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(name, next)
	}
}

func (s *Stepper) cancel(a *axisState) {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
}

func (s *Stepper) limitStep(step float64, interval time.Duration) float64 {
	if math.IsNaN(step) || math.IsInf(step, 0) || step <= 0 {
		step = defaultStep
	}
	limit := s.maxUnitsPerSecond * interval.Seconds()
	if step > limit {
		step = limit
	}
	// Values are integers; anything below one unit would never move.
	if step < 1 {
		step = 1
	}
	return step
}

func normalizeInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInterval
	}
	if d < MinInterval {
		return MinInterval
	}
	return d
}
