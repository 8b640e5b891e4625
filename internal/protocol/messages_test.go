package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptz-panel/internal/device"
)

func TestDecodeOperation(t *testing.T) {
	raw := `{"type":"operation","payload":{"node_path":"main/zoom","kind":"slider","operation":"ptz.setZoom",
		"payload":{"value":1200,"stepping":{"kind":"continuous","step_per_interval":40,"interval_ms":50}}}}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, TypeOperation, msg.Type)

	var p OperationPayload
	require.NoError(t, msg.ParsePayload(&p))
	assert.Equal(t, "main/zoom", p.NodePath)
	assert.Equal(t, "ptz.setZoom", p.Operation)
	assert.Equal(t, 1200.0, p.Payload.Value)
	assert.Equal(t, device.Continuous(40, 50*time.Millisecond), p.Payload.Stepping)
}

func TestDecodeDefaultsMissingStepping(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"operation","payload":{"operation":"ptz.setPan","payload":{"value":3,"stepping":{}}}}`))
	require.NoError(t, err)

	var p OperationPayload
	require.NoError(t, msg.ParsePayload(&p))
	assert.Equal(t, device.Discrete(), p.Payload.Stepping)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err)
}

func TestEncodeFocusRegister(t *testing.T) {
	data := []byte(`{"type":"focus_register","payload":{"descriptors":[
		{"node_id":"main/zoom","bounds":{"x":10,"y":20,"w":100,"h":30}},
		{"node_id":"main/pan","bounds":{"x":0,"y":0,"w":10,"h":10},"disabled":true}]}}`)
	msg, err := Decode(data)
	require.NoError(t, err)

	var p FocusRegisterPayload
	require.NoError(t, msg.ParsePayload(&p))
	require.Len(t, p.Descriptors, 2)
	assert.Equal(t, 100.0, p.Descriptors[0].Bounds.W)
	assert.Equal(t, "main", p.Descriptors[0].Group())
	assert.False(t, p.Descriptors[1].Eligible())
}

func TestEncodeEnvelope(t *testing.T) {
	data, err := Encode(TypeFocus, FocusPayload{NodeID: "main/pan", Moved: true})
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &env))
	assert.JSONEq(t, `"focus"`, string(env["type"]))
	assert.JSONEq(t, `{"node_id":"main/pan","moved":true}`, string(env["payload"]))
}

func TestEmptyPayloadIsAccepted(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	var p PingPayload
	assert.NoError(t, msg.ParsePayload(&p))
	assert.Zero(t, p.Timestamp)
}
