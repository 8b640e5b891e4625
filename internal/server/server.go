// Package server exposes the panel over HTTP: the WebSocket control
// protocol, the live preview offer, metrics and a health check.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"ptz-panel/internal/config"
	"ptz-panel/internal/dispatch"
	"ptz-panel/internal/focus"
	"ptz-panel/internal/gesture"
	"ptz-panel/internal/metrics"
	"ptz-panel/internal/preview"
	"ptz-panel/internal/protocol"
	"ptz-panel/internal/state"
)

// Config for the server
type Config struct {
	ListenAddr      string
	RTSPURL         string
	ICEIPs          []string
	ControlProtocol string
	Logger          *slog.Logger
}

// Deps are the engine parts the server drives.
type Deps struct {
	Store      *state.Store
	Dispatcher *dispatch.Dispatcher
	Gestures   *gesture.Controller
	Navigator  *focus.Navigator
	Toggles    *config.Toggles
	Metrics    *metrics.Metrics
}

// Server is the panel's network front end.
type Server struct {
	cfg      Config
	deps     Deps
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	relay *preview.Relay

	mu      sync.Mutex
	http    *http.Server
	cancels []func()
}

// New creates a new server instance. Client messages reach the engine
// through deps; broadcasts go through hub.
func New(cfg Config, hub *Hub, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("server requires a store and a dispatcher")
	}
	if deps.Navigator == nil {
		deps.Navigator = focus.NewNavigator()
	}
	if deps.Toggles == nil {
		deps.Toggles = config.NewToggles()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		hub:  hub,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local use
			},
		},
	}
	s.router = s.routes()

	s.cancels = append(s.cancels,
		deps.Store.Subscribe(func(v state.View) {
			hub.Broadcast(protocol.TypeState, protocol.StatePayload{Version: v.Version, Tree: v.Tree})
		}),
		deps.Toggles.Subscribe(func(string, bool) {
			hub.Broadcast(protocol.TypeStatus, s.status())
		}),
	)
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the client hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start connects the preview relay if configured and serves until
// Shutdown.
func (s *Server) Start() error {
	if s.cfg.RTSPURL != "" {
		relay, err := preview.NewRelay(s.cfg.RTSPURL, s.log)
		if err != nil {
			s.log.Warn("server: failed to create RTSP relay", "error", err)
		} else if err := relay.Connect(); err != nil {
			s.log.Warn("server: failed to connect to RTSP", "error", err)
		} else {
			s.mu.Lock()
			s.relay = relay
			s.mu.Unlock()
			s.log.Info("server: connected to RTSP", "url", s.cfg.RTSPURL)
		}
	}

	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.log.Info("server: listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, closes every client and releases
// the relay.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	relay := s.relay
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.hub.closeAll()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if relay != nil {
		relay.Close()
	}
	return err
}

func (s *Server) previewRelay() *preview.Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relay
}

func (s *Server) status() protocol.StatusPayload {
	return protocol.StatusPayload{
		CameraConnected: s.previewRelay() != nil,
		RTSPURL:         s.cfg.RTSPURL,
		ControlProtocol: s.cfg.ControlProtocol,
		VideoProtocol:   "rtsp",
		Operations:      s.deps.Dispatcher.Operations(),
		Toggles:         s.deps.Toggles.Snapshot(),
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("server: websocket upgrade failed", "error", err)
		return
	}

	client := newClient(conn, s)
	s.hub.add(client)

	go client.writePump()
	go client.readPump()

	client.sendMessage(protocol.TypeStatus, s.status())
	v := s.deps.Store.View()
	client.sendMessage(protocol.TypeState, protocol.StatePayload{Version: v.Version, Tree: v.Tree})

	if relay := s.previewRelay(); relay != nil {
		if err := client.initPreview(relay); err != nil {
			s.log.Warn("server: failed to initialize WebRTC", "error", err)
		}
	}
}
