package protocol

import (
	"encoding/json"
	"fmt"

	"ptz-panel/internal/dispatch"
	"ptz-panel/internal/focus"
	"ptz-panel/internal/state"
	"ptz-panel/internal/telemetry"
)

// Message types
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypeError        = "error"

	// Client → server
	TypeOperation       = "operation"
	TypeKey             = "key"
	TypeDrag            = "drag"
	TypeFocusRegister   = "focus_register"
	TypeFocusUnregister = "focus_unregister"
	TypeFocusMove       = "focus_move"
	TypeToggle          = "toggle"
	TypePage            = "page"

	// Server → client
	TypeState           = "state"
	TypeTelemetry       = "telemetry"
	TypeFocus           = "focus"
	TypeOperationResult = "operation_result"
)

// Key and drag actions
const (
	ActionDown   = "down"
	ActionRepeat = "repeat"
	ActionUp     = "up"

	ActionStart = "start"
	ActionMove  = "move"
	ActionEnd   = "end"
)

// Error codes
const (
	ErrCameraDisconnected = "CAMERA_DISCONNECTED"
	ErrRTSP               = "RTSP_ERROR"
	ErrInvalidMessage     = "INVALID_MESSAGE"
	ErrUnknownOperation   = "UNKNOWN_OPERATION"
	ErrOperationFailed    = "OPERATION_FAILED"
)

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload for status messages
type StatusPayload struct {
	CameraConnected bool     `json:"camera_connected"`
	RTSPURL         string   `json:"rtsp_url,omitempty"`
	ControlProtocol string   `json:"control_protocol"`
	VideoProtocol   string   `json:"video_protocol"`
	Operations      []string `json:"operations"`
	Toggles         []string `json:"toggles"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// OperationPayload asks the dispatcher to run one operation.
type OperationPayload struct {
	NodePath  string           `json:"node_path"`
	Kind      string           `json:"kind"`
	Operation string           `json:"operation"`
	Payload   dispatch.Payload `json:"payload"`
}

// KeyPayload reports a key event on a bound control.
type KeyPayload struct {
	NodePath string `json:"node_path"`
	Key      string `json:"key"`
	Action   string `json:"action"`
}

// DragPayload reports a pointer drag on a bound control.
type DragPayload struct {
	NodePath string  `json:"node_path"`
	Action   string  `json:"action"`
	Value    float64 `json:"value"`
}

// FocusRegisterPayload adds or updates focusable controls.
type FocusRegisterPayload struct {
	Descriptors []focus.Descriptor `json:"descriptors"`
}

// FocusUnregisterPayload removes focusable controls.
type FocusUnregisterPayload struct {
	NodeIDs []string `json:"node_ids"`
}

// FocusMovePayload asks for the next control in a direction.
type FocusMovePayload struct {
	NodeID    string `json:"node_id"`
	Direction string `json:"direction"`
}

// FocusPayload answers a focus move. NodeID is the origin when Moved is
// false.
type FocusPayload struct {
	NodeID string `json:"node_id"`
	Moved  bool   `json:"moved"`
}

// TogglePayload flips a named toggle.
type TogglePayload struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// PagePayload sets the page path operations run under.
type PagePayload struct {
	Path string `json:"path"`
}

// StatePayload carries a full state view.
type StatePayload struct {
	Version uint64     `json:"version"`
	Tree    state.Tree `json:"tree"`
}

// TelemetryPayload carries one telemetry snapshot.
type TelemetryPayload struct {
	Snapshot telemetry.Snapshot `json:"snapshot"`
}

// OperationResultPayload reports how an operation's commands fared.
type OperationResultPayload struct {
	Operation string   `json:"operation"`
	NodePath  string   `json:"node_path"`
	OK        bool     `json:"ok"`
	Commands  int      `json:"commands"`
	Errors    []string `json:"errors,omitempty"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// Encode marshals a message straight to wire bytes.
func Encode(msgType string, payload any) ([]byte, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Decode parses an envelope.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &msg, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
