// Package device defines the command channel between the panel and a
// camera, plus helpers shared by the transports.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Command kinds.
const (
	KindAxisSet      = "axis.set"
	KindAutoFocus    = "focus.auto"
	KindExposureMode = "exposure.mode"
	KindWBMode       = "whiteBalance.mode"
	KindPresetRecall = "preset.recall"
	KindPresetSave   = "preset.save"
)

// DefaultTimeout bounds a single Send when a command carries none.
const DefaultTimeout = 2 * time.Second

// SteppingKind tags the Stepping variant.
type SteppingKind string

const (
	// SteppingDiscrete jumps straight to the value.
	SteppingDiscrete SteppingKind = "discrete"
	// SteppingContinuous converges on the value at a fixed cadence.
	SteppingContinuous SteppingKind = "continuous"
	// SteppingStop freezes the axis where it is.
	SteppingStop SteppingKind = "stop"
)

// Stepping says how an axis should reach its value.
type Stepping struct {
	Kind            SteppingKind  `json:"kind"`
	StepPerInterval float64       `json:"step_per_interval,omitempty"`
	Interval        time.Duration `json:"interval,omitempty"`
}

// Continuous returns continuous stepping metadata.
func Continuous(step float64, interval time.Duration) Stepping {
	return Stepping{Kind: SteppingContinuous, StepPerInterval: step, Interval: interval}
}

// Stop returns stop stepping metadata.
func Stop() Stepping { return Stepping{Kind: SteppingStop} }

// Discrete returns discrete stepping metadata.
func Discrete() Stepping { return Stepping{Kind: SteppingDiscrete} }

// IsStop reports whether the stepping freezes the axis.
func (s Stepping) IsStop() bool { return s.Kind == SteppingStop }

// steppingWire is the JSON form used by the panel protocol, where the
// interval is expressed in milliseconds.
type steppingWire struct {
	Kind            SteppingKind `json:"kind"`
	StepPerInterval float64      `json:"step_per_interval,omitempty"`
	IntervalMS      int64        `json:"interval_ms,omitempty"`
}

func (s Stepping) MarshalJSON() ([]byte, error) {
	return json.Marshal(steppingWire{
		Kind:            s.Kind,
		StepPerInterval: s.StepPerInterval,
		IntervalMS:      s.Interval.Milliseconds(),
	})
}

// UnmarshalJSON resolves the wire form once. Unknown or missing kinds
// become discrete.
func (s *Stepping) UnmarshalJSON(data []byte) error {
	var w steppingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case SteppingContinuous:
		*s = Continuous(w.StepPerInterval, time.Duration(w.IntervalMS)*time.Millisecond)
	case SteppingStop:
		*s = Stop()
	default:
		*s = Discrete()
	}
	return nil
}

// Command is one instruction for the device.
type Command struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Axis     string        `json:"axis,omitempty"`
	Value    float64       `json:"value"`
	Auto     bool          `json:"auto,omitempty"`
	Mode     string        `json:"mode,omitempty"`
	Preset   int           `json:"preset,omitempty"`
	Stepping Stepping      `json:"stepping"`
	Timeout  time.Duration `json:"-"`
}

// SetAxis builds an axis.set command.
func SetAxis(name string, value float64, stepping Stepping) Command {
	return Command{
		ID:       uuid.NewString(),
		Kind:     KindAxisSet,
		Axis:     name,
		Value:    value,
		Stepping: stepping,
	}.Normalize()
}

// StopAxis builds an axis.set command that freezes the axis.
func StopAxis(name string) Command {
	return SetAxis(name, 0, Stop())
}

// New builds a non-axis command of the given kind.
func New(kind string) Command {
	return Command{ID: uuid.NewString(), Kind: kind, Stepping: Discrete()}
}

// Normalize enforces the command invariants: a stop carries no value, and
// every command has an id and a stepping kind.
func (c Command) Normalize() Command {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Stepping.Kind == "" {
		c.Stepping = Discrete()
	}
	if c.Stepping.IsStop() {
		c.Value = 0
		c.Stepping = Stop()
	}
	return c
}

// IsStop reports whether the command freezes an axis.
func (c Command) IsStop() bool { return c.Stepping.IsStop() }

func (c Command) String() string {
	switch {
	case c.Kind == KindAxisSet && c.IsStop():
		return fmt.Sprintf("%s(%s stop)", c.Kind, c.Axis)
	case c.Kind == KindAxisSet:
		return fmt.Sprintf("%s(%s=%g %s)", c.Kind, c.Axis, c.Value, c.Stepping.Kind)
	default:
		return c.Kind
	}
}

// Response is the outcome of one Send.
type Response struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Okay returns a successful response for cmd.
func Okay(cmd Command, data any) Response {
	return Response{ID: cmd.ID, OK: true, Data: data}
}

// Failed returns a failed response for cmd.
func Failed(cmd Command, err error) Response {
	return Response{ID: cmd.ID, OK: false, Error: err.Error()}
}

// Channel delivers commands to a device. Send never panics and never
// returns an error value: failures come back as Response{OK: false}.
type Channel interface {
	Send(ctx context.Context, cmd Command) Response
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, cmd Command) Response

func (f ChannelFunc) Send(ctx context.Context, cmd Command) Response { return f(ctx, cmd) }

// Nop accepts every command and does nothing.
type Nop struct{}

func (Nop) Send(_ context.Context, cmd Command) Response { return Okay(cmd, nil) }

// WithTimeout derives a context bounded by the command's timeout.
func WithTimeout(ctx context.Context, cmd Command) (context.Context, context.CancelFunc) {
	d := cmd.Timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
