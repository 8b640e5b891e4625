package panasonic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptz-panel/internal/axis"
	"ptz-panel/internal/clock"
	"ptz-panel/internal/device"
)

type camera struct {
	mu    sync.Mutex
	cmds  []string
	reply string
}

func (c *camera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/cgi-bin/aw_ptz" || r.URL.Query().Get("res") != "1" {
		http.NotFound(w, r)
		return
	}
	c.mu.Lock()
	c.cmds = append(c.cmds, r.URL.Query().Get("cmd"))
	reply := c.reply
	c.mu.Unlock()
	fmt.Fprint(w, reply)
}

func (c *camera) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cmds...)
}

func newCamera(t *testing.T) (*Controller, *camera, *clock.Virtual) {
	t.Helper()
	cam := &camera{reply: "ok"}
	srv := httptest.NewServer(cam)
	t.Cleanup(srv.Close)

	vc := clock.NewVirtual(time.Unix(0, 0))
	c, err := NewController(Config{Address: srv.URL, Scheduler: vc})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, cam, vc
}

func TestEncode(t *testing.T) {
	c, err := NewController(Config{Address: "10.0.0.9"})
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.9/cgi-bin/aw_ptz", c.baseURL)

	recall := device.New(device.KindPresetRecall)
	recall.Preset = 3
	save := device.New(device.KindPresetSave)
	save.Preset = 12
	af := device.New(device.KindAutoFocus)
	af.Auto = true

	tests := []struct {
		name string
		cmd  device.Command
		want string
	}{
		{"zoom wide", device.SetAxis(axis.Zoom, 950, device.Discrete()), "#AXZ555"},
		{"zoom tele", device.SetAxis(axis.Zoom, 17100, device.Discrete()), "#AXZFFF"},
		{"focus", device.SetAxis(axis.Focus, 0, device.Discrete()), "#AXF555"},
		{"iris", device.SetAxis(axis.Iris, 17, device.Discrete()), "#AXIFFF"},
		{"pan centre", device.SetAxis(axis.Pan, 0, device.Discrete()), "#APC80008000"},
		{"zoom stop", device.StopAxis(axis.Zoom), "#Z50"},
		{"focus stop", device.StopAxis(axis.Focus), "#F50"},
		{"pan stop", device.StopAxis(axis.Pan), "#PTS5050"},
		{"auto focus", af, "#D11"},
		{"recall", recall, "#R03"},
		{"save", save, "#M12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := c.Encode(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPanTiltShareOneCommand(t *testing.T) {
	c, err := NewController(Config{Address: "cam"})
	require.NoError(t, err)

	_, _, err = c.Encode(device.SetAxis(axis.Tilt, 10, device.Discrete()))
	require.NoError(t, err)
	key, got, err := c.Encode(device.SetAxis(axis.Pan, -10, device.Discrete()))
	require.NoError(t, err)

	assert.Equal(t, "pantilt", key)
	// -10 deg = 0x8000-1213 = 0x7B43; 10 deg = 0x84BD
	assert.Equal(t, "#APC7B4384BD", got)
}

func TestUnsupported(t *testing.T) {
	c, err := NewController(Config{Address: "cam"})
	require.NoError(t, err)

	mode := device.New(device.KindExposureMode)
	mode.Mode = "manual"
	preset := device.New(device.KindPresetRecall)
	preset.Preset = 150

	for _, cmd := range []device.Command{
		device.SetAxis(axis.Hue, 1, device.Discrete()),
		device.StopAxis(axis.Iris),
		mode,
	} {
		_, _, err := c.Encode(cmd)
		assert.ErrorIs(t, err, ErrUnsupported, cmd.String())
	}
	_, _, err = c.Encode(preset)
	assert.Error(t, err)
}

func TestSendThrottlesMovesAndBypassesStops(t *testing.T) {
	c, cam, vc := newCamera(t)
	ctx := context.Background()

	require.True(t, c.Send(ctx, device.SetAxis(axis.Zoom, 950, device.Discrete())).OK)
	require.True(t, c.Send(ctx, device.SetAxis(axis.Zoom, 5000, device.Discrete())).OK)
	require.True(t, c.Send(ctx, device.SetAxis(axis.Zoom, 17100, device.Discrete())).OK)
	assert.Equal(t, []string{"#AXZ555"}, cam.received())

	vc.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"#AXZ555", "#AXZFFF"}, cam.received())

	require.True(t, c.Send(ctx, device.StopAxis(axis.Zoom)).OK)
	assert.Equal(t, []string{"#AXZ555", "#AXZFFF", "#Z50"}, cam.received())
}

func TestCameraErrorsFail(t *testing.T) {
	c, cam, _ := newCamera(t)
	cam.reply = "ER1:Z50"

	resp := c.Send(context.Background(), device.StopAxis(axis.Zoom))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "ER1")
}

func TestHTTPErrorsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c, err := NewController(Config{Address: srv.URL, Scheduler: clock.NewVirtual(time.Unix(0, 0))})
	require.NoError(t, err)

	resp := c.Send(context.Background(), device.SetAxis(axis.Zoom, 2000, device.Discrete()))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "503")
}
