// Package operations is the built-in catalogue of panel operations.
package operations

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"ptz-panel/internal/axis"
	"ptz-panel/internal/device"
	"ptz-panel/internal/dispatch"
	"ptz-panel/internal/state"
)

// Fixed operation ids.
const (
	Stop          = "ptz.stop"
	Home          = "ptz.home"
	SetAutoFocus  = "ptz.setAutoFocus"
	RecallPreset  = "ptz.recallPreset"
	SavePreset    = "ptz.savePreset"
	SetExposure   = "exposure.setMode"
	SetWhiteBal   = "whiteBalance.setMode"
	MaxPresetSlot = 255
)

// ErrUnknownMode is returned for a mode the camera does not offer.
var ErrUnknownMode = errors.New("unknown mode")

var (
	exposureModes     = []string{"auto", "manual", "shutter", "iris", "bright"}
	whiteBalanceModes = []string{"auto", "indoor", "outdoor", "onepush", "manual"}
	stopOrder         = []string{axis.Pan, axis.Tilt, axis.Zoom, axis.Focus}
)

// SetID returns the id of the set operation for an axis, e.g. "ptz.zoom"
// becomes "ptz.setZoom".
func SetID(axisName string) string {
	field := axis.Field(axisName)
	if field == "" {
		return axisName
	}
	return axis.Group(axisName) + ".set" + strings.ToUpper(field[:1]) + field[1:]
}

// Definitions returns every built-in operation for the axes in catalog.
func Definitions(catalog *axis.Catalog) []dispatch.Definition {
	var defs []dispatch.Definition
	for _, spec := range catalog.Specs() {
		defs = append(defs, dispatch.Definition{
			ID:          SetID(spec.Name),
			Description: "Set " + spec.Name,
			Handler:     setAxis(spec.Name),
		})
	}
	return append(defs,
		dispatch.Definition{ID: Stop, Description: "Stop pan, tilt, zoom and focus", Handler: stopAll},
		dispatch.Definition{ID: Home, Description: "Move pan and tilt to centre", Handler: home},
		dispatch.Definition{ID: SetAutoFocus, Description: "Toggle auto focus", Handler: setAutoFocus},
		dispatch.Definition{ID: SetExposure, Description: "Select the exposure mode", Handler: setExposureMode},
		dispatch.Definition{ID: SetWhiteBal, Description: "Select the white balance mode", Handler: setWhiteBalanceMode},
		dispatch.Definition{ID: RecallPreset, Description: "Recall a stored position", Handler: presetHandler(device.KindPresetRecall)},
		dispatch.Definition{ID: SavePreset, Description: "Store the current position", Handler: presetHandler(device.KindPresetSave)},
	)
}

// Register adds the built-in catalogue to d.
func Register(d *dispatch.Dispatcher, catalog *axis.Catalog) error {
	for _, def := range Definitions(catalog) {
		if err := d.Register(def); err != nil {
			return fmt.Errorf("failed to register operations: %w", err)
		}
	}
	return nil
}

func setAxis(name string) dispatch.Handler {
	return func(_ context.Context, oc dispatch.Context, p dispatch.Payload) (dispatch.Result, error) {
		if p.Stepping.IsStop() {
			return dispatch.Result{Commands: []device.Command{device.StopAxis(name)}}, nil
		}
		cur, ok := oc.State.Axis(name)
		if !ok {
			return dispatch.Result{}, fmt.Errorf("axis %s is not part of the state tree", name)
		}
		v := math.Round(cur.Range().Clamp(p.Value))
		delta, _ := oc.State.WithAxis(name, v)
		return dispatch.Result{
			Delta:    &delta,
			Commands: []device.Command{device.SetAxis(name, v, p.Stepping)},
		}, nil
	}
}

func stopAll(context.Context, dispatch.Context, dispatch.Payload) (dispatch.Result, error) {
	cmds := make([]device.Command, 0, len(stopOrder))
	for _, name := range stopOrder {
		cmds = append(cmds, device.StopAxis(name))
	}
	return dispatch.Result{Commands: cmds}, nil
}

func home(_ context.Context, oc dispatch.Context, _ dispatch.Payload) (dispatch.Result, error) {
	ptz := oc.State.PTZ
	ptz.Pan.Value = ptz.Pan.Range().Clamp(0)
	ptz.Tilt.Value = ptz.Tilt.Range().Clamp(0)
	return dispatch.Result{
		Delta: &state.Delta{PTZ: &ptz},
		Commands: []device.Command{
			device.SetAxis(axis.Pan, ptz.Pan.Value, device.Discrete()),
			device.SetAxis(axis.Tilt, ptz.Tilt.Value, device.Discrete()),
		},
	}, nil
}

func setAutoFocus(_ context.Context, oc dispatch.Context, p dispatch.Payload) (dispatch.Result, error) {
	ptz := oc.State.PTZ
	ptz.AutoFocus = p.Auto
	cmd := device.New(device.KindAutoFocus)
	cmd.Auto = p.Auto
	return dispatch.Result{Delta: &state.Delta{PTZ: &ptz}, Commands: []device.Command{cmd}}, nil
}

func setExposureMode(_ context.Context, oc dispatch.Context, p dispatch.Payload) (dispatch.Result, error) {
	mode, err := pickMode(p.Mode, exposureModes)
	if err != nil {
		return dispatch.Result{}, err
	}
	exp := oc.State.Exposure
	exp.Mode = mode
	cmd := device.New(device.KindExposureMode)
	cmd.Mode = mode
	return dispatch.Result{Delta: &state.Delta{Exposure: &exp}, Commands: []device.Command{cmd}}, nil
}

func setWhiteBalanceMode(_ context.Context, oc dispatch.Context, p dispatch.Payload) (dispatch.Result, error) {
	mode, err := pickMode(p.Mode, whiteBalanceModes)
	if err != nil {
		return dispatch.Result{}, err
	}
	wb := oc.State.WhiteBalance
	wb.Mode = mode
	cmd := device.New(device.KindWBMode)
	cmd.Mode = mode
	return dispatch.Result{Delta: &state.Delta{WhiteBalance: &wb}, Commands: []device.Command{cmd}}, nil
}

func pickMode(mode string, allowed []string) (string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	for _, m := range allowed {
		if m == mode {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w %q, want one of %s", ErrUnknownMode, mode, strings.Join(allowed, ", "))
}

// ClampPreset bounds a preset slot to 0-255.
func ClampPreset(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxPresetSlot {
		return MaxPresetSlot
	}
	return n
}

// presetHandler sends a preset command. Recalled positions reach the state
// through the device echo, so no delta is applied.
func presetHandler(kind string) dispatch.Handler {
	return func(_ context.Context, _ dispatch.Context, p dispatch.Payload) (dispatch.Result, error) {
		cmd := device.New(kind)
		cmd.Preset = ClampPreset(p.Preset)
		return dispatch.Result{Commands: []device.Command{cmd}}, nil
	}
}
