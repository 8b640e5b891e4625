package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptz-panel/internal/axis"
	"ptz-panel/internal/mqtt"
	"ptz-panel/internal/state"
)

type fakeBroker struct {
	handlers map[string]mqtt.Handler
	subErr   error
}

func (f *fakeBroker) Subscribe(topic string, cb mqtt.Handler) error {
	if f.subErr != nil {
		return f.subErr
	}
	if f.handlers == nil {
		f.handlers = make(map[string]mqtt.Handler)
	}
	f.handlers[topic] = cb
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	delete(f.handlers, topic)
	return nil
}

func (f *fakeBroker) Publish(string, []byte) error            { return nil }
func (f *fakeBroker) PublishWith(string, []byte, bool) error { return nil }

func (f *fakeBroker) deliver(topic, payload string) {
	if h, ok := f.handlers[topic]; ok {
		h(topic, []byte(payload))
	}
}

func newEcho(t *testing.T) (*Echo, *fakeBroker, *state.Store, *int) {
	t.Helper()
	store := state.NewStore(state.NewTree(axis.Default()), nil)
	broker := &fakeBroker{}
	notified := 0
	store.Subscribe(func(state.View) { notified++ })
	e := NewEcho(broker, store, "ptzpanel/cam1", nil)
	require.NoError(t, e.Start())
	return e, broker, store, &notified
}

func TestEchoWritesAxes(t *testing.T) {
	e, broker, store, notified := newEcho(t)
	assert.Equal(t, "ptzpanel/cam1/state", e.Topic())

	broker.deliver("ptzpanel/cam1/state", `{"axes":{"ptz.zoom":1200,"exposure.iris":99,"ptz.warp":3},"auto_focus":false}`)

	tree := store.Snapshot()
	assert.Equal(t, 1200.0, tree.PTZ.Zoom.Value)
	assert.Equal(t, 17.0, tree.Exposure.Iris.Value, "clamped to range")
	assert.False(t, tree.PTZ.AutoFocus)
	assert.Equal(t, 1200.0, tree.PTZ.Zoom.Value, "auto focus write keeps the zoom echo")
	assert.Equal(t, 1, *notified)
}

func TestEchoIgnoresMalformedAndEmpty(t *testing.T) {
	_, broker, store, notified := newEcho(t)
	before := store.View()

	broker.deliver("ptzpanel/cam1/state", `not json`)
	broker.deliver("ptzpanel/cam1/state", `{"axes":{"ptz.warp":1}}`)

	assert.Equal(t, 0, *notified)
	assert.Equal(t, before.Version, store.View().Version)
}

func TestEchoStop(t *testing.T) {
	e, broker, store, _ := newEcho(t)
	require.NoError(t, e.Stop())
	broker.deliver("ptzpanel/cam1/state", `{"axes":{"ptz.zoom":3000}}`)
	assert.Equal(t, 950.0, store.Snapshot().PTZ.Zoom.Value)
}

func TestStartWrapsSubscribeError(t *testing.T) {
	boom := errors.New("not connected")
	store := state.NewStore(state.NewTree(axis.Default()), nil)
	e := NewEcho(&fakeBroker{subErr: boom}, store, "p", nil)
	assert.ErrorIs(t, e.Start(), boom)
}
