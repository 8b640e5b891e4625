package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptz-panel/internal/axis"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "panel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, DriverEmulator, cfg.Device.Driver)
	assert.Equal(t, "udp", cfg.Device.Protocol)
	assert.Equal(t, 2*time.Second, cfg.Device.Timeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Device.Throttle)
	assert.Equal(t, "ptzpanel", cfg.MQTT.Prefix)
	assert.Equal(t, 4000.0, cfg.MaxUnitsPerSecond)
	assert.Equal(t, "standard", cfg.DefaultProfile)
	assert.Equal(t, TracingConfig{Insecure: true, ServiceName: "ptz-panel"}, cfg.Tracing)
}

func TestFileEnvAndOverrides(t *testing.T) {
	path := writeFile(t, `
listen: ":9000"
device:
  driver: visca
  address: 10.0.0.5:52381
  timeout: 500ms
ranges:
  - axis: ptz.zoom
    min: 0
    max: 16384
bindings:
  - node: main/zoom
    operation: ptz.setZoom
    axis: ptz.zoom
    profile: fast
    base_step: 20
toggles:
  - debug.layout
`)
	t.Setenv("PTZPANEL_MQTT_PREFIX", "studio/cam2")
	t.Setenv("PTZPANEL_TRACING_ENDPOINT", "otel:4318")

	cfg, err := Load(path, map[string]any{"listen": ":9100"})
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Listen, "overrides win over the file")
	assert.Equal(t, DriverVISCA, cfg.Device.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Device.Timeout)
	assert.Equal(t, "studio/cam2", cfg.MQTT.Prefix)
	assert.Equal(t, "otel:4318", cfg.Tracing.Endpoint)
	require.Len(t, cfg.Bindings, 1)
	assert.Equal(t, BindingConfig{Node: "main/zoom", Operation: "ptz.setZoom", Axis: "ptz.zoom", Profile: "fast", BaseStep: 20}, cfg.Bindings[0])
	assert.Equal(t, []string{"debug.layout"}, cfg.Toggles)

	spec, ok := cfg.Catalog().Lookup(axis.Zoom)
	require.True(t, ok)
	assert.Equal(t, axis.Range{Min: 0, Max: 16384}, spec.Range)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"unknown driver", map[string]any{"device.driver": "serial"}},
		{"visca without address", map[string]any{"device.driver": "visca"}},
		{"bad protocol", map[string]any{"device.protocol": "sctp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", tt.overrides)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestToggles(t *testing.T) {
	tg := NewToggles(ToggleDebugLayout)
	assert.True(t, tg.Enabled(ToggleDebugLayout))
	assert.False(t, tg.Enabled(ToggleDebugGestures))

	var got []string
	cancel := tg.Subscribe(func(name string, on bool) {
		if on {
			got = append(got, "+"+name)
		} else {
			got = append(got, "-"+name)
		}
	})

	live := tg.Func(ToggleDebugGestures)
	assert.True(t, tg.Set(ToggleDebugGestures, true))
	assert.True(t, live())
	assert.False(t, tg.Set(ToggleDebugGestures, true), "unchanged values do not notify")
	assert.True(t, tg.Set(ToggleDebugLayout, false))
	cancel()
	tg.Set(ToggleDebugLayout, true)

	assert.Equal(t, []string{"+debug.gestures", "-debug.layout"}, got)
	assert.Equal(t, []string{ToggleDebugGestures, ToggleDebugLayout}, tg.Snapshot())
}
