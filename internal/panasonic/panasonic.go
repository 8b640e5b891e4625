// Package panasonic drives Panasonic AW-series cameras through their HTTP
// CGI interface.
package panasonic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ptz-panel/internal/axis"
	"ptz-panel/internal/clock"
	"ptz-panel/internal/device"
)

// ErrUnsupported is returned for commands the CGI has no form for.
var ErrUnsupported = errors.New("not supported by the Panasonic CGI")

const (
	minInterval = 50 * time.Millisecond // ~20 commands/sec max

	// Absolute pan/tilt positions are 0000-FFFF with 8000 at centre.
	positionCentre    = 0x8000
	positionPerDegree = 121.3
	// Zoom, focus and iris take 555-FFF.
	lensMin = 0x555
	lensMax = 0xFFF
)

// Config for Panasonic controller
type Config struct {
	Address   string // Camera IP address or hostname (e.g., "192.168.1.100")
	Throttle  time.Duration
	Timeout   time.Duration
	Catalog   *axis.Catalog
	Scheduler clock.Scheduler
	Logger    *slog.Logger
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Controller implements device.Channel for a Panasonic camera.
type Controller struct {
	baseURL  string
	client   *http.Client
	catalog  *axis.Catalog
	throttle *device.Throttle
	log      *slog.Logger

	// #APC carries pan and tilt together; the last of each fills in the
	// other.
	mu        sync.Mutex
	pan, tilt float64
}

// NewController creates a new Panasonic controller. Address may be a bare
// host or a full base URL.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("camera address is required")
	}
	base := cfg.Address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	interval := cfg.Throttle
	if interval <= 0 {
		interval = minInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = clock.NewReal()
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = axis.Default()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		baseURL:  strings.TrimRight(base, "/") + "/cgi-bin/aw_ptz",
		client:   client,
		catalog:  catalog,
		throttle: device.NewThrottle(sched, interval),
		log:      log,
	}, nil
}

// Close drops pending trailing sends.
func (c *Controller) Close() error {
	c.throttle.Close()
	return nil
}

// Send maps cmd to a CGI command. Moves are coalesced per axis; stops,
// modes and presets go out immediately.
func (c *Controller) Send(ctx context.Context, cmd device.Command) device.Response {
	if err := ctx.Err(); err != nil {
		return device.Failed(cmd, err)
	}
	key, cgi, err := c.Encode(cmd)
	if err != nil {
		return device.Failed(cmd, err)
	}

	if cmd.Kind == device.KindAxisSet && !cmd.IsStop() {
		var sendErr error
		immediate := c.throttle.Trigger(key, func() {
			// The trailing send outlives the request context.
			sendErr = c.sendCommand(context.Background(), cgi)
			if sendErr != nil {
				c.log.Warn("panasonic: command failed", "cmd", cgi, "error", sendErr)
			}
		})
		if immediate && sendErr != nil {
			return device.Failed(cmd, sendErr)
		}
		return device.Okay(cmd, nil)
	}

	var sendErr error
	c.throttle.Bypass(key, func() { sendErr = c.sendCommand(ctx, cgi) })
	if sendErr != nil {
		return device.Failed(cmd, sendErr)
	}
	return device.Okay(cmd, nil)
}

// Encode returns the throttle key and CGI command for cmd.
func (c *Controller) Encode(cmd device.Command) (string, string, error) {
	switch cmd.Kind {
	case device.KindAxisSet:
		return c.encodeAxis(cmd)
	case device.KindAutoFocus:
		if cmd.Auto {
			return cmd.Kind, "#D11", nil
		}
		return cmd.Kind, "#D10", nil
	case device.KindPresetRecall, device.KindPresetSave:
		if cmd.Preset < 0 || cmd.Preset > 99 {
			return "", "", fmt.Errorf("preset must be 0-99 for Panasonic cameras")
		}
		if cmd.Kind == device.KindPresetRecall {
			return "preset", fmt.Sprintf("#R%02d", cmd.Preset), nil
		}
		return "preset", fmt.Sprintf("#M%02d", cmd.Preset), nil
	}
	return "", "", fmt.Errorf("command %s: %w", cmd.Kind, ErrUnsupported)
}

func (c *Controller) encodeAxis(cmd device.Command) (string, string, error) {
	if cmd.IsStop() {
		switch cmd.Axis {
		case axis.Pan, axis.Tilt:
			return "pantilt", "#PTS5050", nil
		case axis.Zoom:
			return cmd.Axis, "#Z50", nil
		case axis.Focus:
			return cmd.Axis, "#F50", nil
		}
		return "", "", fmt.Errorf("stop %s: %w", cmd.Axis, ErrUnsupported)
	}

	switch cmd.Axis {
	case axis.Pan, axis.Tilt:
		c.mu.Lock()
		if cmd.Axis == axis.Pan {
			c.pan = cmd.Value
		} else {
			c.tilt = cmd.Value
		}
		pan, tilt := c.pan, c.tilt
		c.mu.Unlock()
		return "pantilt", fmt.Sprintf("#APC%04X%04X", position(pan), position(tilt)), nil
	case axis.Zoom:
		return cmd.Axis, fmt.Sprintf("#AXZ%03X", c.lens(cmd.Axis, cmd.Value)), nil
	case axis.Focus:
		return cmd.Axis, fmt.Sprintf("#AXF%03X", c.lens(cmd.Axis, cmd.Value)), nil
	case axis.Iris:
		return cmd.Axis, fmt.Sprintf("#AXI%03X", c.lens(cmd.Axis, cmd.Value)), nil
	}
	return "", "", fmt.Errorf("axis %s: %w", cmd.Axis, ErrUnsupported)
}

// position converts degrees to an absolute pan/tilt position.
func position(deg float64) int {
	p := positionCentre + int(math.Round(deg*positionPerDegree))
	if p < 0 {
		return 0
	}
	if p > 0xFFFF {
		return 0xFFFF
	}
	return p
}

// lens maps an axis value onto the 555-FFF lens scale.
func (c *Controller) lens(name string, v float64) int {
	spec, ok := c.catalog.Lookup(name)
	if !ok {
		return lensMin
	}
	return lensMin + int(math.Round(spec.Range.Fraction(v)*(lensMax-lensMin)))
}

// sendCommand sends a command to the camera via HTTP CGI. The camera
// answers errors with an "ER" body and a 200 status.
func (c *Controller) sendCommand(ctx context.Context, cmd string) error {
	q := url.Values{}
	q.Set("cmd", cmd)
	q.Set("res", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera returned %s for %s", resp.Status, cmd)
	}
	if reply := strings.TrimSpace(string(body)); strings.HasPrefix(strings.ToUpper(reply), "ER") {
		return fmt.Errorf("camera rejected %s: %s", cmd, reply)
	}
	return nil
}
