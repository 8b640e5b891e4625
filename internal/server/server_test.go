package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptz-panel/internal/axis"
	"ptz-panel/internal/clock"
	"ptz-panel/internal/config"
	"ptz-panel/internal/device"
	"ptz-panel/internal/dispatch"
	"ptz-panel/internal/focus"
	"ptz-panel/internal/gesture"
	"ptz-panel/internal/metrics"
	"ptz-panel/internal/operations"
	"ptz-panel/internal/protocol"
	"ptz-panel/internal/state"
	"ptz-panel/internal/telemetry"
)

type recorder struct {
	mu   sync.Mutex
	cmds []device.Command
}

func (r *recorder) Send(_ context.Context, cmd device.Command) device.Response {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
	return device.Okay(cmd, nil)
}

func (r *recorder) sent() []device.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.Command(nil), r.cmds...)
}

type rig struct {
	srv     *Server
	http    *httptest.Server
	device  *recorder
	toggles *config.Toggles
}

// syncBuffer is a bytes.Buffer safe for the server's goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newRig(t *testing.T) *rig {
	t.Helper()
	return newLoggedRig(t, nil)
}

func newLoggedRig(t *testing.T, log *slog.Logger) *rig {
	t.Helper()
	catalog := axis.Default()
	store := state.NewStore(state.NewTree(catalog), nil)
	rec := &recorder{}
	hub := NewHub(nil)
	m := metrics.New()

	d := dispatch.New(store, rec, dispatch.WithSink(hub), dispatch.WithMetrics(m))
	require.NoError(t, operations.Register(d, catalog))

	gestures := gesture.New(clock.NewVirtual(time.Unix(0, 0)), d, store, nil)
	t.Cleanup(gestures.Close)
	require.NoError(t, gestures.Bind("main/zoom", gesture.Binding{Operation: operations.SetID(axis.Zoom), Axis: axis.Zoom}))

	toggles := config.NewToggles()
	srv, err := New(Config{ControlProtocol: "emulator", Logger: log}, hub, Deps{
		Store:      store,
		Dispatcher: d,
		Gestures:   gestures,
		Navigator:  focus.NewNavigator(),
		Toggles:    toggles,
		Metrics:    m,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})
	return &rig{srv: srv, http: ts, device: rec, toggles: toggles}
}

func (r *rig) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Every connection opens with status then state.
	readUntil(t, conn, protocol.TypeStatus)
	readUntil(t, conn, protocol.TypeState)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := protocol.Encode(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readUntil returns the first message of msgType and every message read
// before it.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) (*protocol.Message, []*protocol.Message) {
	t.Helper()
	var seen []*protocol.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		if msg.Type == msgType {
			return msg, seen
		}
		seen = append(seen, msg)
	}
}

// roundTrip round-trips a ping so every earlier message has been handled.
func roundTrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, protocol.TypePing, protocol.PingPayload{Timestamp: 1})
	readUntil(t, conn, protocol.TypePong)
}

func TestOperationRoundTrip(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)

	send(t, conn, protocol.TypeOperation, protocol.OperationPayload{
		NodePath:  "main/zoom",
		Kind:      "slider",
		Operation: operations.SetID(axis.Zoom),
		Payload:   dispatch.Payload{Value: 2000, Stepping: device.Discrete()},
	})
	msg, before := readUntil(t, conn, protocol.TypeOperationResult)

	var result protocol.OperationResultPayload
	require.NoError(t, msg.ParsePayload(&result))
	assert.True(t, result.OK)
	assert.Equal(t, 1, result.Commands)

	var sawState, sawTelemetry bool
	for _, m := range before {
		switch m.Type {
		case protocol.TypeState:
			var p protocol.StatePayload
			require.NoError(t, m.ParsePayload(&p))
			assert.Equal(t, 2000.0, p.Tree.PTZ.Zoom.Value)
			sawState = true
		case protocol.TypeTelemetry:
			var p protocol.TelemetryPayload
			require.NoError(t, m.ParsePayload(&p))
			assert.Equal(t, operations.SetID(axis.Zoom), p.Snapshot.Operation)
			assert.True(t, p.Snapshot.OK)
			sawTelemetry = true
		}
	}
	assert.True(t, sawState, "state is broadcast before the result")
	assert.True(t, sawTelemetry, "telemetry is broadcast before the result")

	cmds := r.device.sent()
	require.Len(t, cmds, 1)
	assert.Equal(t, axis.Zoom, cmds[0].Axis)
	assert.Equal(t, 2000.0, cmds[0].Value)
}

func TestUnknownOperation(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)

	send(t, conn, protocol.TypeOperation, protocol.OperationPayload{Operation: "lens.wipe"})
	msg, _ := readUntil(t, conn, protocol.TypeError)
	var p protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&p))
	assert.Equal(t, protocol.ErrUnknownOperation, p.Code)
	assert.Empty(t, r.device.sent())
}

func TestInvalidMessages(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	msg, _ := readUntil(t, conn, protocol.TypeError)
	var p protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&p))
	assert.Equal(t, protocol.ErrInvalidMessage, p.Code)

	send(t, conn, protocol.TypeFocusMove, protocol.FocusMovePayload{NodeID: "main/a", Direction: "sideways"})
	msg, _ = readUntil(t, conn, protocol.TypeError)
	require.NoError(t, msg.ParsePayload(&p))
	assert.Contains(t, p.Message, "sideways")
}

func TestHoldKeyDrivesBoundControl(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)

	send(t, conn, protocol.TypeKey, protocol.KeyPayload{NodePath: "main/zoom", Key: "ArrowUp", Action: protocol.ActionDown})
	send(t, conn, protocol.TypeKey, protocol.KeyPayload{NodePath: "main/zoom", Key: "ArrowUp", Action: protocol.ActionRepeat})
	send(t, conn, protocol.TypeKey, protocol.KeyPayload{NodePath: "main/zoom", Key: "ArrowUp", Action: protocol.ActionUp})
	roundTrip(t, conn)

	cmds := r.device.sent()
	require.Len(t, cmds, 2, "the repeat is absorbed by the running hold")
	assert.Equal(t, device.SteppingContinuous, cmds[0].Stepping.Kind)
	assert.True(t, cmds[1].IsStop())
}

func TestFocusNavigation(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)

	send(t, conn, protocol.TypeFocusRegister, protocol.FocusRegisterPayload{Descriptors: []focus.Descriptor{
		{NodeID: "main/a", Bounds: focus.Bounds{X: 0, Y: 0, W: 20, H: 20}},
		{NodeID: "main/b", Bounds: focus.Bounds{X: 40, Y: 0, W: 20, H: 20}},
		{NodeID: "main/c", Bounds: focus.Bounds{X: 80, Y: 0, W: 20, H: 20}},
	}})

	send(t, conn, protocol.TypeFocusMove, protocol.FocusMovePayload{NodeID: "main/a", Direction: "right"})
	msg, _ := readUntil(t, conn, protocol.TypeFocus)
	var p protocol.FocusPayload
	require.NoError(t, msg.ParsePayload(&p))
	assert.Equal(t, protocol.FocusPayload{NodeID: "main/b", Moved: true}, p)

	// Arrow keys on unbound controls navigate too.
	send(t, conn, protocol.TypeKey, protocol.KeyPayload{NodePath: "main/b", Key: "ArrowRight", Action: protocol.ActionDown})
	msg, _ = readUntil(t, conn, protocol.TypeFocus)
	require.NoError(t, msg.ParsePayload(&p))
	assert.Equal(t, protocol.FocusPayload{NodeID: "main/c", Moved: true}, p)

	send(t, conn, protocol.TypeFocusUnregister, protocol.FocusUnregisterPayload{NodeIDs: []string{"main/a", "main/c"}})
	send(t, conn, protocol.TypeFocusMove, protocol.FocusMovePayload{NodeID: "main/b", Direction: "left"})
	msg, _ = readUntil(t, conn, protocol.TypeFocus)
	require.NoError(t, msg.ParsePayload(&p))
	assert.Equal(t, protocol.FocusPayload{NodeID: "main/b", Moved: false}, p)
}

func TestToggleBroadcastsStatus(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)

	send(t, conn, protocol.TypeToggle, protocol.TogglePayload{Name: config.ToggleDebugLayout, Enabled: true})
	msg, _ := readUntil(t, conn, protocol.TypeStatus)
	var p protocol.StatusPayload
	require.NoError(t, msg.ParsePayload(&p))
	assert.Equal(t, []string{config.ToggleDebugLayout}, p.Toggles)
	assert.Contains(t, p.Operations, operations.Stop)
	assert.True(t, r.toggles.Enabled(config.ToggleDebugLayout))
}

func TestGestureEventsLoggedWhileToggleOn(t *testing.T) {
	var buf syncBuffer
	r := newLoggedRig(t, slog.New(slog.NewTextHandler(&buf, nil)))
	conn := r.dial(t)

	send(t, conn, protocol.TypeKey, protocol.KeyPayload{NodePath: "main/zoom", Key: "ArrowUp", Action: protocol.ActionDown})
	send(t, conn, protocol.TypeKey, protocol.KeyPayload{NodePath: "main/zoom", Key: "ArrowUp", Action: protocol.ActionUp})
	roundTrip(t, conn)
	assert.NotContains(t, buf.String(), "server: gesture")

	r.toggles.Set(config.ToggleDebugGestures, true)
	send(t, conn, protocol.TypeDrag, protocol.DragPayload{NodePath: "main/zoom", Action: protocol.ActionStart})
	send(t, conn, protocol.TypeKey, protocol.KeyPayload{NodePath: "main/zoom", Key: "ArrowDown", Action: protocol.ActionDown})
	roundTrip(t, conn)

	out := buf.String()
	assert.Contains(t, out, "server: gesture")
	assert.Contains(t, out, "type=drag node=main/zoom action=start")
	assert.Contains(t, out, "type=key node=main/zoom action=down key=ArrowDown")
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRig(t)

	resp, err := http.Get(r.http.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(r.http.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHubPushReachesEveryClient(t *testing.T) {
	r := newRig(t)
	a := r.dial(t)
	b := r.dial(t)
	require.Eventually(t, func() bool { return r.srv.Hub().Len() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, r.srv.Hub().Push(telemetrySnapshot()))
	for _, conn := range []*websocket.Conn{a, b} {
		msg, _ := readUntil(t, conn, protocol.TypeTelemetry)
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &raw))
		assert.Contains(t, string(raw["snapshot"]), `"operation":"ptz.stop"`)
	}
}

func telemetrySnapshot() telemetry.Snapshot {
	return telemetry.Snapshot{
		Operation:   operations.Stop,
		LastCommand: device.StopAxis(axis.Pan),
		OK:          true,
		Timestamp:   time.Unix(0, 0),
	}
}
