// Package axis describes the continuously adjustable camera parameters and
// the ranges they are clamped to.
package axis

import (
	"math"
	"sort"
	"strings"
)

// Names of the built-in axes. The prefix before the dot is the state group.
const (
	Pan         = "ptz.pan"
	Tilt        = "ptz.tilt"
	Zoom        = "ptz.zoom"
	Focus       = "ptz.focus"
	Iris        = "exposure.iris"
	Shutter     = "exposure.shutter"
	Gain        = "exposure.gain"
	Brightness  = "exposure.brightness"
	RedGain     = "whiteBalance.red"
	BlueGain    = "whiteBalance.blue"
	Temperature = "whiteBalance.temperature"
	ImgBright   = "image.brightness"
	Contrast    = "image.contrast"
	Saturation  = "image.saturation"
	Sharpness   = "image.sharpness"
	Hue         = "image.hue"
)

// Range is a closed interval [Min, Max].
type Range struct {
	Min float64 `json:"min" mapstructure:"min"`
	Max float64 `json:"max" mapstructure:"max"`
}

// Span returns Max-Min, never negative.
func (r Range) Span() float64 {
	if r.Max < r.Min {
		return 0
	}
	return r.Max - r.Min
}

// Clamp bounds v to the range. Non-finite values fall back to Min.
func (r Range) Clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return r.Min
	}
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Fraction maps v into [0,1] across the range.
func (r Range) Fraction(v float64) float64 {
	span := r.Span()
	if span == 0 {
		return 0
	}
	return (r.Clamp(v) - r.Min) / span
}

// Spec is the static description of one axis.
type Spec struct {
	Name    string
	Range   Range
	Default float64
}

// Group returns the state group the axis belongs to ("ptz", "exposure", ...).
func (s Spec) Group() string { return Group(s.Name) }

// Field returns the axis name without its group ("zoom", "iris", ...).
func (s Spec) Field() string { return Field(s.Name) }

// Group returns the part of name before the first dot.
func Group(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}

// Field returns the part of name after the first dot.
func Field(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Catalog is a set of axis specs keyed by name.
type Catalog struct {
	specs map[string]Spec
}

// NewCatalog builds a catalog from specs. Later specs override earlier ones.
func NewCatalog(specs ...Spec) *Catalog {
	c := &Catalog{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		c.specs[s.Name] = s
	}
	return c
}

// DefaultSpecs returns the built-in axis table.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: Pan, Range: Range{-170, 170}, Default: 0},
		{Name: Tilt, Range: Range{-30, 90}, Default: 0},
		{Name: Zoom, Range: Range{950, 17100}, Default: 950},
		{Name: Focus, Range: Range{0, 4095}, Default: 2048},
		{Name: Iris, Range: Range{0, 17}, Default: 8},
		{Name: Shutter, Range: Range{0, 21}, Default: 10},
		{Name: Gain, Range: Range{0, 15}, Default: 0},
		{Name: Brightness, Range: Range{0, 41}, Default: 20},
		{Name: RedGain, Range: Range{0, 255}, Default: 128},
		{Name: BlueGain, Range: Range{0, 255}, Default: 128},
		{Name: Temperature, Range: Range{2500, 8000}, Default: 5600},
		{Name: ImgBright, Range: Range{0, 100}, Default: 50},
		{Name: Contrast, Range: Range{0, 100}, Default: 50},
		{Name: Saturation, Range: Range{0, 100}, Default: 50},
		{Name: Sharpness, Range: Range{0, 100}, Default: 50},
		{Name: Hue, Range: Range{-180, 180}, Default: 0},
	}
}

// Default returns a catalog holding DefaultSpecs.
func Default() *Catalog { return NewCatalog(DefaultSpecs()...) }

// WithRanges returns a copy of the catalog with the given ranges overridden.
// Unknown names are ignored. Defaults are re-clamped into the new range.
func (c *Catalog) WithRanges(ranges map[string]Range) *Catalog {
	out := &Catalog{specs: make(map[string]Spec, len(c.specs))}
	for name, s := range c.specs {
		if r, ok := ranges[name]; ok && r.Max >= r.Min {
			s.Range = r
			s.Default = r.Clamp(s.Default)
		}
		out.specs[name] = s
	}
	return out
}

// Lookup returns the spec for name.
func (c *Catalog) Lookup(name string) (Spec, bool) {
	s, ok := c.specs[name]
	return s, ok
}

// Specs returns all specs sorted by name.
func (c *Catalog) Specs() []Spec {
	out := make([]Spec, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
