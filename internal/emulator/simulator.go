// Package emulator is an offline camera: it accepts device commands,
// converges axes over time with a stepper, and echoes live values back
// into the state store.
package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ptz-panel/internal/axis"
	"ptz-panel/internal/clock"
	"ptz-panel/internal/device"
	"ptz-panel/internal/state"
	"ptz-panel/internal/stepper"
)

// presetTravelTime is roughly how long a preset recall takes to cross an
// axis's full range, before the stepper's speed ceiling applies.
const presetTravelTime = 2 * time.Second

var presetAxes = []string{axis.Pan, axis.Tilt, axis.Zoom, axis.Focus}

// Simulator implements device.Channel without hardware.
type Simulator struct {
	store   *state.Store
	stepper *stepper.Stepper
	log     *slog.Logger

	mu      sync.Mutex
	presets map[int]map[string]float64
}

// Option configures a Simulator.
type Option func(*options)

type options struct {
	log      *slog.Logger
	stepOpts []stepper.Option
}

// WithLogger sets the simulator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithStepperOptions passes options to the underlying stepper.
func WithStepperOptions(opts ...stepper.Option) Option {
	return func(o *options) { o.stepOpts = append(o.stepOpts, opts...) }
}

// New creates a simulator seeded from the store's current tree.
func New(sched clock.Scheduler, store *state.Store, catalog *axis.Catalog, opts ...Option) *Simulator {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Simulator{
		store:   store,
		log:     o.log,
		presets: make(map[int]map[string]float64),
	}
	stepOpts := append([]stepper.Option{stepper.WithLogger(o.log)}, o.stepOpts...)
	s.stepper = stepper.New(sched, s.echo, stepOpts...)

	tree := store.Snapshot()
	for _, spec := range catalog.Specs() {
		a, ok := tree.Axis(spec.Name)
		if !ok {
			continue
		}
		s.stepper.AddAxis(spec.Name, a.Range(), a.Value)
	}
	return s
}

// echo writes a live value into the store as the device's authoritative
// state.
func (s *Simulator) echo(name string, value float64) {
	if s.store.SetAxis(name, value) {
		s.store.Notify()
	}
}

// Stepper exposes the underlying stepper.
func (s *Simulator) Stepper() *stepper.Stepper { return s.stepper }

// Send applies cmd to the simulated camera.
func (s *Simulator) Send(ctx context.Context, cmd device.Command) device.Response {
	if err := ctx.Err(); err != nil {
		return device.Failed(cmd, err)
	}
	switch cmd.Kind {
	case device.KindAxisSet:
		return s.setAxis(cmd)
	case device.KindAutoFocus, device.KindExposureMode, device.KindWBMode:
		return device.Okay(cmd, nil)
	case device.KindPresetSave:
		return s.savePreset(cmd)
	case device.KindPresetRecall:
		return s.recallPreset(cmd)
	}
	return device.Failed(cmd, fmt.Errorf("unsupported command kind: %s", cmd.Kind))
}

func (s *Simulator) setAxis(cmd device.Command) device.Response {
	if _, ok := s.stepper.Value(cmd.Axis); !ok {
		return device.Failed(cmd, fmt.Errorf("unknown axis: %s", cmd.Axis))
	}

	switch cmd.Stepping.Kind {
	case device.SteppingStop:
		s.stepper.ScheduleTarget(cmd.Axis, 0, &stepper.Config{Stop: true})
		v, _ := s.stepper.Value(cmd.Axis)
		// The dispatcher may have written an optimistic target; report
		// where the axis actually stopped.
		s.echo(cmd.Axis, v)
	case device.SteppingContinuous:
		s.stepper.ScheduleTarget(cmd.Axis, cmd.Value, &stepper.Config{
			StepPerInterval: cmd.Stepping.StepPerInterval,
			Interval:        cmd.Stepping.Interval,
		})
	default:
		s.stepper.Set(cmd.Axis, cmd.Value)
	}

	v, _ := s.stepper.Value(cmd.Axis)
	return device.Okay(cmd, map[string]float64{"value": v})
}

func (s *Simulator) savePreset(cmd device.Command) device.Response {
	saved := make(map[string]float64, len(presetAxes))
	for _, name := range presetAxes {
		if v, ok := s.stepper.Value(name); ok {
			saved[name] = v
		}
	}
	s.mu.Lock()
	s.presets[cmd.Preset] = saved
	s.mu.Unlock()
	s.log.Debug("emulator: preset saved", "preset", cmd.Preset)
	return device.Okay(cmd, nil)
}

func (s *Simulator) recallPreset(cmd device.Command) device.Response {
	s.mu.Lock()
	saved, ok := s.presets[cmd.Preset]
	s.mu.Unlock()
	if !ok {
		return device.Failed(cmd, fmt.Errorf("preset %d is empty", cmd.Preset))
	}

	tree := s.store.Snapshot()
	for _, name := range presetAxes {
		target, ok := saved[name]
		if !ok {
			continue
		}
		a, _ := tree.Axis(name)
		ticks := float64(presetTravelTime / stepper.DefaultInterval)
		s.stepper.ScheduleTarget(name, target, &stepper.Config{
			StepPerInterval: a.Range().Span() / ticks,
			Interval:        stepper.DefaultInterval,
		})
	}
	return device.Okay(cmd, nil)
}

// Close stops every convergence loop.
func (s *Simulator) Close() error {
	s.stepper.Close()
	return nil
}
