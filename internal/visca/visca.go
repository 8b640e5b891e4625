// Package visca drives Sony-compatible cameras with absolute VISCA
// commands, over UDP with VISCA-over-IP framing or raw over TCP.
package visca

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"

	"ptz-panel/internal/axis"
	"ptz-panel/internal/clock"
	"ptz-panel/internal/device"
)

// ErrUnsupported is returned for commands VISCA has no absolute form for.
var ErrUnsupported = errors.New("not supported over VISCA")

const (
	// unitsPerDegree converts pan/tilt degrees to VISCA position units.
	unitsPerDegree = 14.4
	maxPanSpeed    = 0x18
	maxTiltSpeed   = 0x14
	// DefaultThrottle is the minimum spacing between commands for one
	// axis (20 commands/s).
	DefaultThrottle = 50 * time.Millisecond
)

// Config for VISCA controller
type Config struct {
	// For UDP: address like "192.168.1.100:52381"
	// For TCP: address like "192.168.1.100:5678"
	Address  string
	Protocol string // "udp" or "tcp"
	// CameraAddr is the daisy-chain address (1-7); 0 means 1.
	CameraAddr int
	Throttle   time.Duration
	Catalog    *axis.Catalog
	Scheduler  clock.Scheduler
	Logger     *slog.Logger
}

// Controller implements device.Channel for a VISCA camera.
type Controller struct {
	conn     net.Conn
	protocol string
	addr     int
	catalog  *axis.Catalog
	throttle *device.Throttle
	log      *slog.Logger

	mu     sync.Mutex
	seqNum uint32
	// Pan and tilt travel in one command, so the last position of each is
	// kept to fill in the other.
	pan, tilt float64
}

// NewController dials the camera.
func NewController(cfg Config) (*Controller, error) {
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "udp" // Default to UDP for VISCA over IP
	}
	if protocol != "udp" && protocol != "tcp" {
		return nil, fmt.Errorf("unsupported protocol: %s", protocol)
	}
	conn, err := net.DialTimeout(protocol, cfg.Address, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to VISCA over %s: %w", protocol, err)
	}
	cfg.Protocol = protocol
	return newController(conn, cfg), nil
}

func newController(conn net.Conn, cfg Config) *Controller {
	addr := cfg.CameraAddr
	if addr < 1 || addr > 7 {
		addr = 1
	}
	interval := cfg.Throttle
	if interval <= 0 {
		interval = DefaultThrottle
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
		conn:     conn,
		protocol: cfg.Protocol,
		addr:     addr,
		catalog:  catalog,
		throttle: device.NewThrottle(sched, interval),
		log:      log,
	}
}

// Close drops pending sends and closes the connection.
func (c *Controller) Close() error {
	c.throttle.Close()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Send encodes cmd and writes it. Moves are coalesced per axis; stops go
// out immediately.
func (c *Controller) Send(ctx context.Context, cmd device.Command) device.Response {
	if err := ctx.Err(); err != nil {
		return device.Failed(cmd, err)
	}
	key, payloads, err := c.encode(cmd)
	if err != nil {
		return device.Failed(cmd, err)
	}

	var writeErr error
	flush := func() {
		for _, p := range payloads {
			if err := c.sendCommand(p); err != nil {
				writeErr = err
				c.log.Warn("visca: write failed", "command", cmd.String(), "error", err)
				return
			}
		}
	}
	immediate := true
	if cmd.IsStop() || cmd.Kind != device.KindAxisSet {
		c.throttle.Bypass(key, flush)
	} else {
		immediate = c.throttle.Trigger(key, flush)
	}
	// A coalesced move is written later; its failure is only logged.
	if immediate && writeErr != nil {
		return device.Failed(cmd, writeErr)
	}
	return device.Okay(cmd, nil)
}

// encode returns the throttle key and the VISCA payloads for cmd.
func (c *Controller) encode(cmd device.Command) (string, [][]byte, error) {
	switch cmd.Kind {
	case device.KindAxisSet:
		return c.encodeAxis(cmd)
	case device.KindAutoFocus:
		mode := byte(0x03)
		if cmd.Auto {
			mode = 0x02
		}
		return cmd.Kind, [][]byte{{0x01, 0x04, 0x38, mode}}, nil
	case device.KindExposureMode:
		code, ok := exposureModes[cmd.Mode]
		if !ok {
			return "", nil, fmt.Errorf("exposure mode %q: %w", cmd.Mode, ErrUnsupported)
		}
		return cmd.Kind, [][]byte{{0x01, 0x04, 0x39, code}}, nil
	case device.KindWBMode:
		code, ok := whiteBalanceModes[cmd.Mode]
		if !ok {
			return "", nil, fmt.Errorf("white balance mode %q: %w", cmd.Mode, ErrUnsupported)
		}
		return cmd.Kind, [][]byte{{0x01, 0x04, 0x35, code}}, nil
	case device.KindPresetRecall, device.KindPresetSave:
		if cmd.Preset < 0 || cmd.Preset > 255 {
			return "", nil, fmt.Errorf("preset must be 0-255")
		}
		// VISCA Memory Recall: 01 04 3F 02 pp, Memory Set: 01 04 3F 01 pp
		op := byte(0x02)
		if cmd.Kind == device.KindPresetSave {
			op = 0x01
		}
		return "preset", [][]byte{{0x01, 0x04, 0x3F, op, byte(cmd.Preset)}}, nil
	}
	return "", nil, fmt.Errorf("command %s: %w", cmd.Kind, ErrUnsupported)
}

var exposureModes = map[string]byte{
	"auto":    0x00,
	"manual":  0x03,
	"shutter": 0x0A,
	"iris":    0x0B,
	"bright":  0x0D,
}

var whiteBalanceModes = map[string]byte{
	"auto":    0x00,
	"indoor":  0x01,
	"outdoor": 0x02,
	"onepush": 0x03,
	"manual":  0x05,
}

// directCommands maps axes to their "01 04 xx 00 00 0p 0q" direct form.
var directCommands = map[string]byte{
	axis.Iris:       0x4B,
	axis.Shutter:    0x4A,
	axis.Gain:       0x4C,
	axis.Brightness: 0x4D,
	axis.RedGain:    0x43,
	axis.BlueGain:   0x44,
}

func (c *Controller) encodeAxis(cmd device.Command) (string, [][]byte, error) {
	if cmd.IsStop() {
		switch cmd.Axis {
		case axis.Pan, axis.Tilt:
			return "pantilt", [][]byte{{0x01, 0x06, 0x01, 0x01, 0x01, 0x03, 0x03}}, nil
		case axis.Zoom:
			return cmd.Axis, [][]byte{{0x01, 0x04, 0x07, 0x00}}, nil
		case axis.Focus:
			return cmd.Axis, [][]byte{{0x01, 0x04, 0x08, 0x00}}, nil
		}
		// Direct-set axes never move on their own.
		return cmd.Axis, nil, nil
	}

	v := math.Round(cmd.Value)
	switch cmd.Axis {
	case axis.Pan, axis.Tilt:
		c.mu.Lock()
		if cmd.Axis == axis.Pan {
			c.pan = v
		} else {
			c.tilt = v
		}
		pan, tilt := c.pan, c.tilt
		c.mu.Unlock()
		speed := c.speedFraction(cmd)
		return "pantilt", [][]byte{PanTiltAbsolute(pan, tilt, speed)}, nil
	case axis.Zoom:
		return cmd.Axis, [][]byte{append([]byte{0x01, 0x04, 0x47}, nibbles(int(v), 4)...)}, nil
	case axis.Focus:
		return cmd.Axis, [][]byte{append([]byte{0x01, 0x04, 0x48}, nibbles(int(v), 4)...)}, nil
	case axis.Sharpness:
		// Aperture runs 0-15; the panel slider runs over the axis range.
		level := int(math.Round(c.fraction(cmd.Axis, v) * 15))
		return cmd.Axis, [][]byte{append([]byte{0x01, 0x04, 0x42, 0x00, 0x00}, nibbles(level, 2)...)}, nil
	}
	if op, ok := directCommands[cmd.Axis]; ok {
		return cmd.Axis, [][]byte{append([]byte{0x01, 0x04, op, 0x00, 0x00}, nibbles(int(v), 2)...)}, nil
	}
	return "", nil, fmt.Errorf("axis %s: %w", cmd.Axis, ErrUnsupported)
}

// speedFraction maps continuous stepping to a fraction of full speed,
// where full speed is the fastest an acceleration profile may move.
func (c *Controller) speedFraction(cmd device.Command) float64 {
	if cmd.Stepping.Kind != device.SteppingContinuous || cmd.Stepping.Interval <= 0 {
		return 1
	}
	spec, ok := c.catalog.Lookup(cmd.Axis)
	if !ok || spec.Range.Span() == 0 {
		return 1
	}
	unitsPerSecond := cmd.Stepping.StepPerInterval / cmd.Stepping.Interval.Seconds()
	return math.Min(1, unitsPerSecond/(spec.Range.Span()*0.10))
}

func (c *Controller) fraction(name string, v float64) float64 {
	spec, ok := c.catalog.Lookup(name)
	if !ok {
		return 0
	}
	return spec.Range.Fraction(v)
}

// PanTiltAbsolute builds "01 06 02 VV WW 0Y0Y0Y0Y 0Z0Z0Z0Z" for positions in
// degrees. speed is a fraction of the camera's maximum.
func PanTiltAbsolute(panDeg, tiltDeg, speed float64) []byte {
	panSpeed := byte(clampInt(int(math.Round(speed*maxPanSpeed)), 1, maxPanSpeed))
	tiltSpeed := byte(clampInt(int(math.Round(speed*maxTiltSpeed)), 1, maxTiltSpeed))
	p := []byte{0x01, 0x06, 0x02, panSpeed, tiltSpeed}
	p = append(p, nibbles(int(math.Round(panDeg*unitsPerDegree)), 4)...)
	return append(p, nibbles(int(math.Round(tiltDeg*unitsPerDegree)), 4)...)
}

// nibbles spreads the low n nibbles of v (two's complement) over n bytes,
// most significant first.
func nibbles(v, n int) []byte {
	out := make([]byte, n)
	u := uint32(int32(v))
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(u & 0x0F)
		u >>= 4
	}
	return out
}

// buildVISCAPayload constructs a raw VISCA command (address + payload + terminator)
func (c *Controller) buildVISCAPayload(payload []byte) []byte {
	// Address byte: 0x80 | address (1-7)
	cmd := make([]byte, 0, len(payload)+2)
	cmd = append(cmd, byte(0x80|c.addr))
	cmd = append(cmd, payload...)
	cmd = append(cmd, 0xFF) // Terminator
	return cmd
}

// buildVISCAOverIP wraps a VISCA payload in VISCA-over-IP framing. Callers
// hold c.mu.
func (c *Controller) buildVISCAOverIP(viscaPayload []byte) []byte {
	// VISCA over IP header (8 bytes):
	// Bytes 0-1: Message type (0x01 0x00 for command)
	// Bytes 2-3: Payload length (big endian)
	// Bytes 4-7: Sequence number (big endian)
	header := make([]byte, 8, 8+len(viscaPayload))
	header[0] = 0x01
	header[1] = 0x00
	binary.BigEndian.PutUint16(header[2:4], uint16(len(viscaPayload)))
	binary.BigEndian.PutUint32(header[4:8], c.seqNum)
	c.seqNum++
	return append(header, viscaPayload...)
}

// sendCommand frames and writes one command without waiting for the
// camera's acknowledgement.
func (c *Controller) sendCommand(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	viscaPayload := c.buildVISCAPayload(payload)
	packet := viscaPayload
	if c.protocol == "udp" {
		packet = c.buildVISCAOverIP(viscaPayload)
	}

	// Short write deadline - don't block
	_ = c.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := c.conn.Write(packet); err != nil {
		return fmt.Errorf("failed to write VISCA packet: %w", err)
	}
	return nil
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
