// Package state holds the authoritative camera state tree and the store
// that serialises writes to it.
package state

import (
	"math"

	"ptz-panel/internal/axis"
)

// Axis is one continuous value with its valid range.
type Axis struct {
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Range returns the axis bounds.
func (a Axis) Range() axis.Range { return axis.Range{Min: a.Min, Max: a.Max} }

// PTZ is the motion group.
type PTZ struct {
	Pan       Axis `json:"pan"`
	Tilt      Axis `json:"tilt"`
	Zoom      Axis `json:"zoom"`
	Focus     Axis `json:"focus"`
	AutoFocus bool `json:"autoFocus"`
}

// Exposure is the exposure group.
type Exposure struct {
	Mode       string `json:"mode"`
	Iris       Axis   `json:"iris"`
	Shutter    Axis   `json:"shutter"`
	Gain       Axis   `json:"gain"`
	Brightness Axis   `json:"brightness"`
}

// WhiteBalance is the white balance group.
type WhiteBalance struct {
	Mode        string `json:"mode"`
	Red         Axis   `json:"red"`
	Blue        Axis   `json:"blue"`
	Temperature Axis   `json:"temperature"`
}

// Image is the picture adjustment group.
type Image struct {
	Brightness Axis `json:"brightness"`
	Contrast   Axis `json:"contrast"`
	Saturation Axis `json:"saturation"`
	Sharpness  Axis `json:"sharpness"`
	Hue        Axis `json:"hue"`
}

// Tree is the full camera state. It holds no references, so a copy is a
// snapshot.
type Tree struct {
	PTZ          PTZ          `json:"ptz"`
	Exposure     Exposure     `json:"exposure"`
	WhiteBalance WhiteBalance `json:"whiteBalance"`
	Image        Image        `json:"image"`
}

// Delta is a partial update. Each non-nil group replaces the whole group.
type Delta struct {
	PTZ          *PTZ          `json:"ptz,omitempty"`
	Exposure     *Exposure     `json:"exposure,omitempty"`
	WhiteBalance *WhiteBalance `json:"whiteBalance,omitempty"`
	Image        *Image        `json:"image,omitempty"`
}

// Empty reports whether the delta touches no group.
func (d Delta) Empty() bool {
	return d.PTZ == nil && d.Exposure == nil && d.WhiteBalance == nil && d.Image == nil
}

// Merge returns t with every group present in d replaced.
func (t Tree) Merge(d Delta) Tree {
	if d.PTZ != nil {
		t.PTZ = *d.PTZ
	}
	if d.Exposure != nil {
		t.Exposure = *d.Exposure
	}
	if d.WhiteBalance != nil {
		t.WhiteBalance = *d.WhiteBalance
	}
	if d.Image != nil {
		t.Image = *d.Image
	}
	return t
}

// NewTree builds a tree from the catalog's ranges and defaults.
func NewTree(c *axis.Catalog) Tree {
	t := Tree{
		Exposure:     Exposure{Mode: "auto"},
		WhiteBalance: WhiteBalance{Mode: "auto"},
		PTZ:          PTZ{AutoFocus: true},
	}
	for _, s := range c.Specs() {
		if p := t.axisRef(s.Name); p != nil {
			*p = Axis{Value: math.Round(s.Range.Clamp(s.Default)), Min: s.Range.Min, Max: s.Range.Max}
		}
	}
	return t
}

func (t *Tree) axisRef(name string) *Axis {
	switch name {
	case axis.Pan:
		return &t.PTZ.Pan
	case axis.Tilt:
		return &t.PTZ.Tilt
	case axis.Zoom:
		return &t.PTZ.Zoom
	case axis.Focus:
		return &t.PTZ.Focus
	case axis.Iris:
		return &t.Exposure.Iris
	case axis.Shutter:
		return &t.Exposure.Shutter
	case axis.Gain:
		return &t.Exposure.Gain
	case axis.Brightness:
		return &t.Exposure.Brightness
	case axis.RedGain:
		return &t.WhiteBalance.Red
	case axis.BlueGain:
		return &t.WhiteBalance.Blue
	case axis.Temperature:
		return &t.WhiteBalance.Temperature
	case axis.ImgBright:
		return &t.Image.Brightness
	case axis.Contrast:
		return &t.Image.Contrast
	case axis.Saturation:
		return &t.Image.Saturation
	case axis.Sharpness:
		return &t.Image.Sharpness
	case axis.Hue:
		return &t.Image.Hue
	}
	return nil
}

// Axis returns the named axis.
func (t Tree) Axis(name string) (Axis, bool) {
	p := t.axisRef(name)
	if p == nil {
		return Axis{}, false
	}
	return *p, true
}

// WithAxis returns a delta carrying the axis's whole group with the axis set
// to value, clamped to its range.
func (t Tree) WithAxis(name string, value float64) (Delta, bool) {
	p := t.axisRef(name)
	if p == nil {
		return Delta{}, false
	}
	p.Value = p.Range().Clamp(value)
	return t.groupDelta(axis.Group(name)), true
}

// groupDelta returns a delta holding a copy of the named group.
func (t Tree) groupDelta(group string) Delta {
	switch group {
	case "ptz":
		g := t.PTZ
		return Delta{PTZ: &g}
	case "exposure":
		g := t.Exposure
		return Delta{Exposure: &g}
	case "whiteBalance":
		g := t.WhiteBalance
		return Delta{WhiteBalance: &g}
	case "image":
		g := t.Image
		return Delta{Image: &g}
	}
	return Delta{}
}

// Group returns a delta holding the current value of group.
func (t Tree) Group(group string) Delta { return t.groupDelta(group) }
