// Package accel turns "how long has this input been held" into a step size,
// with a hard ceiling on how fast any profile may move an axis.
package accel

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxPercentPerSecond is the fastest any profile may move an axis, in
// percentage points of the axis range per second.
const MaxPercentPerSecond = 10.0

// DefaultKey is the profile used when a requested key is unknown.
const DefaultKey = "standard"

//go:embed profiles.yaml
var builtinProfiles []byte

// Profile is an immutable acceleration curve.
type Profile struct {
	Key           string
	Multipliers   []float64
	Interval      time.Duration
	BaseStepScale float64
}

// Multiplier returns the multiplier for the given tick, clamping the index
// to the last entry.
func (p Profile) Multiplier(tick int) float64 {
	if len(p.Multipliers) == 0 {
		return 1
	}
	if tick < 0 {
		tick = 0
	}
	if tick >= len(p.Multipliers) {
		tick = len(p.Multipliers) - 1
	}
	return p.Multipliers[tick]
}

// ComputeStep returns baseStep scaled by the tick's multiplier and the
// profile's base scale. The result is not capped; see CapStep.
func ComputeStep(p Profile, tick int, baseStep float64) float64 {
	scale := p.BaseStepScale
	if scale <= 0 || math.IsNaN(scale) {
		scale = 1
	}
	step := baseStep * p.Multiplier(tick) * scale
	if math.IsNaN(step) || math.IsInf(step, 0) {
		return 0
	}
	return step
}

// MaxNormalizedStep is the largest step per tick, in percentage points of
// the range, allowed at the given tick interval.
func MaxNormalizedStep(interval time.Duration) float64 {
	ms := float64(interval) / float64(time.Millisecond)
	return MaxPercentPerSecond * ms / 1000
}

// CapStep clamps a raw step so that it never exceeds MaxNormalizedStep for
// an axis spanning span units. The sign of step is preserved.
func CapStep(step float64, interval time.Duration, span float64) float64 {
	if math.IsNaN(step) || math.IsInf(step, 0) || span <= 0 {
		return 0
	}
	limit := MaxNormalizedStep(interval) / 100 * span
	if math.Abs(step) > limit {
		return math.Copysign(limit, step)
	}
	return step
}

// Step computes the step for tick and caps it for an axis of the given span.
func (p Profile) Step(tick int, baseStep, span float64) float64 {
	return CapStep(ComputeStep(p, tick, baseStep), p.Interval, span)
}

// Hold tracks the tick index of one continuous hold.
type Hold struct {
	profile Profile
	tick    int
	active  bool
}

// NewHold returns an inactive hold for profile.
func NewHold(p Profile) *Hold { return &Hold{profile: p} }

// Begin resets the tick index to zero and returns the first step.
func (h *Hold) Begin(baseStep, span float64) float64 {
	h.tick = 0
	h.active = true
	return h.profile.Step(0, baseStep, span)
}

// Advance moves to the next tick and returns its step. It returns 0 when
// the hold is not active.
func (h *Hold) Advance(baseStep, span float64) float64 {
	if !h.active {
		return 0
	}
	h.tick++
	return h.profile.Step(h.tick, baseStep, span)
}

// End discards the tick index.
func (h *Hold) End() {
	h.tick = 0
	h.active = false
}

// Active reports whether the hold has begun and not ended.
func (h *Hold) Active() bool { return h.active }

// Tick returns the current tick index.
func (h *Hold) Tick() int { return h.tick }

// Profile returns the hold's profile.
func (h *Hold) Profile() Profile { return h.profile }

type profileFile struct {
	Profiles []struct {
		Key           string    `yaml:"key"`
		IntervalMS    int       `yaml:"interval_ms"`
		BaseStepScale float64   `yaml:"base_step_scale"`
		Multipliers   []float64 `yaml:"multipliers"`
	} `yaml:"profiles"`
}

// Catalog holds profiles by key.
type Catalog struct {
	profiles map[string]Profile
}

// Builtin returns the catalog of embedded profiles.
func Builtin() *Catalog {
	c := &Catalog{profiles: make(map[string]Profile)}
	if err := c.load(builtinProfiles); err != nil {
		panic(fmt.Sprintf("accel: invalid built-in profiles: %v", err))
	}
	return c
}

// LoadFile adds or replaces profiles from a YAML file.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profiles: %w", err)
	}
	return c.Load(data)
}

// Load adds or replaces profiles from YAML data.
func (c *Catalog) Load(data []byte) error {
	return c.load(data)
}

func (c *Catalog) load(data []byte) error {
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse profiles: %w", err)
	}
	for _, raw := range f.Profiles {
		if raw.Key == "" {
			return fmt.Errorf("profile without key")
		}
		if len(raw.Multipliers) == 0 {
			return fmt.Errorf("profile %q has no multipliers", raw.Key)
		}
		interval := time.Duration(raw.IntervalMS) * time.Millisecond
		if interval <= 0 {
			interval = 50 * time.Millisecond
		}
		scale := raw.BaseStepScale
		if scale <= 0 {
			scale = 1
		}
		c.profiles[raw.Key] = Profile{
			Key:           raw.Key,
			Multipliers:   append([]float64(nil), raw.Multipliers...),
			Interval:      interval,
			BaseStepScale: scale,
		}
	}
	return nil
}

// Get returns the profile for key, falling back to DefaultKey.
func (c *Catalog) Get(key string) Profile {
	if p, ok := c.profiles[key]; ok {
		return p
	}
	return c.profiles[DefaultKey]
}

// Lookup returns the profile for key.
func (c *Catalog) Lookup(key string) (Profile, bool) {
	p, ok := c.profiles[key]
	return p, ok
}

// Keys returns all profile keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.profiles))
	for k := range c.profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
