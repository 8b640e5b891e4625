package emulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptz-panel/internal/axis"
	"ptz-panel/internal/clock"
	"ptz-panel/internal/device"
	"ptz-panel/internal/state"
)

func newSim(t *testing.T) (*Simulator, *state.Store, *clock.Virtual) {
	t.Helper()
	clk := clock.NewVirtual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	catalog := axis.Default()
	store := state.NewStore(state.NewTree(catalog), clk.Now)
	sim := New(clk, store, catalog)
	t.Cleanup(func() { _ = sim.Close() })
	return sim, store, clk
}

func TestContinuousZoomEchoesIntoStore(t *testing.T) {
	sim, store, clk := newSim(t)
	notified := 0
	store.Subscribe(func(state.View) { notified++ })

	resp := sim.Send(context.Background(), device.SetAxis(axis.Zoom, 1750, device.Continuous(250, 50*time.Millisecond)))
	require.True(t, resp.OK)

	clk.Advance(200 * time.Millisecond)

	zoom := store.Snapshot().PTZ.Zoom.Value
	assert.Greater(t, zoom, 950.0)
	assert.LessOrEqual(t, zoom, 1750.0)
	assert.Positive(t, notified)
}

func TestStopEchoesFrozenValue(t *testing.T) {
	sim, store, clk := newSim(t)
	ctx := context.Background()

	sim.Send(ctx, device.SetAxis(axis.Zoom, 5000, device.Continuous(100, 50*time.Millisecond)))
	clk.Advance(100 * time.Millisecond)

	// An optimistic write runs ahead of the motor.
	store.SetAxis(axis.Zoom, 5000)

	resp := sim.Send(ctx, device.StopAxis(axis.Zoom))
	require.True(t, resp.OK)
	assert.Equal(t, 1150.0, store.Snapshot().PTZ.Zoom.Value)

	clk.Advance(time.Second)
	assert.Equal(t, 1150.0, store.Snapshot().PTZ.Zoom.Value)
}

func TestDiscreteJumps(t *testing.T) {
	sim, store, _ := newSim(t)
	resp := sim.Send(context.Background(), device.SetAxis(axis.Hue, 45, device.Discrete()))

	require.True(t, resp.OK)
	assert.Equal(t, map[string]float64{"value": 45}, resp.Data)
	assert.Equal(t, 45.0, store.Snapshot().Image.Hue.Value)
}

func TestPresetRoundTrip(t *testing.T) {
	sim, store, clk := newSim(t)
	ctx := context.Background()

	sim.Send(ctx, device.SetAxis(axis.Pan, 40, device.Discrete()))
	sim.Send(ctx, device.SetAxis(axis.Zoom, 3000, device.Discrete()))
	save := device.New(device.KindPresetSave)
	save.Preset = 3
	require.True(t, sim.Send(ctx, save).OK)

	sim.Send(ctx, device.SetAxis(axis.Pan, -100, device.Discrete()))
	sim.Send(ctx, device.SetAxis(axis.Zoom, 950, device.Discrete()))

	recall := device.New(device.KindPresetRecall)
	recall.Preset = 3
	require.True(t, sim.Send(ctx, recall).OK)
	clk.Advance(5 * time.Second)

	tree := store.Snapshot()
	assert.Equal(t, 40.0, tree.PTZ.Pan.Value)
	assert.Equal(t, 3000.0, tree.PTZ.Zoom.Value)

	missing := device.New(device.KindPresetRecall)
	missing.Preset = 9
	assert.False(t, sim.Send(ctx, missing).OK)
}

func TestFailuresAreResponses(t *testing.T) {
	sim, _, _ := newSim(t)

	resp := sim.Send(context.Background(), device.SetAxis("ptz.roll", 1, device.Discrete()))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unknown axis")

	resp = sim.Send(context.Background(), device.New("laser.fire"))
	assert.False(t, resp.OK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp = sim.Send(ctx, device.SetAxis(axis.Zoom, 2000, device.Discrete()))
	assert.False(t, resp.OK)
}
