package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	pwebrtc "github.com/pion/webrtc/v3"

	"ptz-panel/internal/config"
	"ptz-panel/internal/dispatch"
	"ptz-panel/internal/focus"
	"ptz-panel/internal/preview"
	"ptz-panel/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 65536
)

// Client represents a connected WebSocket client
type Client struct {
	conn   *websocket.Conn
	server *Server
	send   chan []byte

	mu      sync.Mutex
	session *preview.Session
	release func()
	closed  bool
}

func newClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		conn:   conn,
		server: s,
		send:   make(chan []byte, 256),
	}
}

func (c *Client) initPreview(relay *preview.Relay) error {
	cfg := preview.DefaultConfig()
	cfg.NAT1To1IPs = c.server.cfg.ICEIPs
	cfg.Logger = c.server.log
	session, err := preview.NewSession(cfg, func(candidate *pwebrtc.ICECandidate) {
		ice := candidate.ToJSON()
		payload := protocol.ICECandidatePayload{Candidate: ice.Candidate}
		if ice.SDPMid != nil {
			payload.SDPMid = *ice.SDPMid
		}
		if ice.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *ice.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	})
	if err != nil {
		return err
	}
	if err := session.AddVideoTrack(relay.MimeType()); err != nil {
		session.Close()
		return err
	}

	offer, err := session.CreateOffer()
	if err != nil {
		session.Close()
		return err
	}

	packets, release := relay.Subscribe()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		release()
		session.Close()
		return nil
	}
	c.session = session
	c.release = release
	c.mu.Unlock()

	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})
	go session.Forward(packets)
	return nil
}

func (c *Client) previewSession() *preview.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) sendMessage(msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.server.log.Error("server: failed to create message", "type", msgType, "error", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(code, message string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
}

func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.log.Warn("server: client send buffer full, dropping message")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.hub.remove(c)
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Warn("server: websocket error", "error", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.sendError(protocol.ErrInvalidMessage, "Failed to parse message")
		return
	}

	var handleErr error
	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			c.sendMessage(protocol.TypePong, protocol.PongPayload{
				ClientTimestamp: payload.Timestamp,
				ServerTimestamp: time.Now().UnixMilli(),
			})
		}

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			if session := c.previewSession(); session != nil {
				if err := session.SetAnswer(payload.SDP); err != nil {
					c.server.log.Warn("server: failed to set answer", "error", err)
				}
			}
		}

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			if session := c.previewSession(); session != nil {
				if err := session.AddICECandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
					c.server.log.Warn("server: failed to add ICE candidate", "error", err)
				}
			}
		}

	case protocol.TypeOperation:
		var payload protocol.OperationPayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			c.handleOperation(payload)
		}

	case protocol.TypeKey:
		var payload protocol.KeyPayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			c.handleKey(payload)
		}

	case protocol.TypeDrag:
		var payload protocol.DragPayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			c.handleDrag(payload)
		}

	case protocol.TypeFocusRegister:
		var payload protocol.FocusRegisterPayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			for _, d := range payload.Descriptors {
				c.server.deps.Navigator.Register(d)
			}
		}

	case protocol.TypeFocusUnregister:
		var payload protocol.FocusUnregisterPayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			for _, id := range payload.NodeIDs {
				c.server.deps.Navigator.Unregister(id)
			}
		}

	case protocol.TypeFocusMove:
		var payload protocol.FocusMovePayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			dir, ok := focus.ParseDirection(payload.Direction)
			if !ok {
				c.sendError(protocol.ErrInvalidMessage, "Unknown direction "+payload.Direction)
				return
			}
			c.moveFocus(payload.NodeID, dir)
		}

	case protocol.TypeToggle:
		var payload protocol.TogglePayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			c.server.deps.Toggles.Set(payload.Name, payload.Enabled)
		}

	case protocol.TypePage:
		var payload protocol.PagePayload
		if handleErr = msg.ParsePayload(&payload); handleErr == nil {
			c.server.deps.Dispatcher.SetPage(payload.Path)
		}

	default:
		c.server.log.Warn("server: unknown message type", "type", msg.Type)
		c.sendError(protocol.ErrInvalidMessage, "Unknown message type "+msg.Type)
	}

	if handleErr != nil {
		c.sendError(protocol.ErrInvalidMessage, "Invalid "+msg.Type+" payload")
	}
}

func (c *Client) handleOperation(p protocol.OperationPayload) {
	resps, err := c.server.deps.Dispatcher.Run(context.Background(), p.NodePath, p.Kind, p.Operation, p.Payload)
	if errors.Is(err, dispatch.ErrOperationNotFound) {
		c.sendError(protocol.ErrUnknownOperation, err.Error())
		return
	}
	if err != nil {
		c.sendError(protocol.ErrOperationFailed, err.Error())
		return
	}

	result := protocol.OperationResultPayload{
		Operation: p.Operation,
		NodePath:  p.NodePath,
		OK:        true,
		Commands:  len(resps),
	}
	for _, r := range resps {
		if !r.OK {
			result.OK = false
			result.Errors = append(result.Errors, r.Error)
		}
	}
	c.sendMessage(protocol.TypeOperationResult, result)
}

// handleKey feeds bound controls to the gesture controller. Arrow keys on
// unbound controls move focus instead.
func (c *Client) handleKey(p protocol.KeyPayload) {
	c.logGesture(protocol.TypeKey, p.NodePath, p.Action, "key", p.Key)
	gestures := c.server.deps.Gestures
	switch p.Action {
	case protocol.ActionDown, protocol.ActionRepeat:
		if gestures != nil && gestures.KeyDown(p.NodePath, p.Key) {
			return
		}
		if p.Action == protocol.ActionDown {
			if dir, ok := focus.ParseDirection(p.Key); ok {
				c.moveFocus(p.NodePath, dir)
			}
		}
	case protocol.ActionUp:
		if gestures != nil {
			gestures.KeyUp(p.NodePath, p.Key)
		}
	default:
		c.sendError(protocol.ErrInvalidMessage, "Unknown key action "+p.Action)
	}
}

func (c *Client) handleDrag(p protocol.DragPayload) {
	c.logGesture(protocol.TypeDrag, p.NodePath, p.Action, "value", p.Value)
	gestures := c.server.deps.Gestures
	if gestures == nil {
		return
	}
	switch p.Action {
	case protocol.ActionStart:
		gestures.DragStart(p.NodePath)
	case protocol.ActionMove:
		gestures.DragTo(p.NodePath, p.Value)
	case protocol.ActionEnd:
		gestures.DragEnd(p.NodePath, p.Value)
	default:
		c.sendError(protocol.ErrInvalidMessage, "Unknown drag action "+p.Action)
	}
}

// logGesture logs an incoming gesture event while the debug.gestures toggle
// is on.
func (c *Client) logGesture(msgType, node, action string, args ...any) {
	if !c.server.deps.Toggles.Enabled(config.ToggleDebugGestures) {
		return
	}
	attrs := append([]any{"type", msgType, "node", node, "action", action}, args...)
	c.server.log.Info("server: gesture", attrs...)
}

func (c *Client) moveFocus(from string, dir focus.Direction) {
	to, moved := c.server.deps.Navigator.Move(from, dir)
	if !moved {
		to = from
	}
	c.sendMessage(protocol.TypeFocus, protocol.FocusPayload{NodeID: to, Moved: moved})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if c.release != nil {
		c.release()
		c.release = nil
	}
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	close(c.send)
}
