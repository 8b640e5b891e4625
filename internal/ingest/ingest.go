// Package ingest applies state reported by a real camera bridge to the
// store. Reports arrive over MQTT on <prefix>/state.
package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"ptz-panel/internal/mqtt"
	"ptz-panel/internal/state"
)

// Report is the payload published on the state topic.
type Report struct {
	Axes      map[string]float64 `json:"axes"`
	AutoFocus *bool              `json:"auto_focus,omitempty"`
}

// Echo subscribes to device state reports.
type Echo struct {
	client mqtt.ClientAPI
	store  *state.Store
	topic  string
	log    *slog.Logger
}

// NewEcho returns an echo reading <prefix>/state into store.
func NewEcho(client mqtt.ClientAPI, store *state.Store, prefix string, log *slog.Logger) *Echo {
	if log == nil {
		log = slog.Default()
	}
	return &Echo{client: client, store: store, topic: prefix + "/state", log: log}
}

// Topic returns the subscribed topic.
func (e *Echo) Topic() string { return e.topic }

// Start subscribes to the state topic.
func (e *Echo) Start() error {
	if err := e.client.Subscribe(e.topic, e.handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", e.topic, err)
	}
	return nil
}

// Stop unsubscribes.
func (e *Echo) Stop() error {
	return e.client.Unsubscribe(e.topic)
}

func (e *Echo) handle(topic string, payload []byte) {
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		e.log.Warn("ingest: ignoring malformed report", "topic", topic, "error", err)
		return
	}
	if n := e.Apply(r); n > 0 {
		e.log.Debug("ingest: applied report", "topic", topic, "fields", n)
	}
}

// Apply writes r into the store and notifies subscribers once. It returns
// the number of fields applied; unknown axes are skipped.
func (e *Echo) Apply(r Report) int {
	names := make([]string, 0, len(r.Axes))
	for name := range r.Axes {
		names = append(names, name)
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		if e.store.SetAxis(name, r.Axes[name]) {
			applied++
			continue
		}
		e.log.Debug("ingest: unknown axis in report", "axis", name)
	}
	if r.AutoFocus != nil {
		ptz := e.store.Snapshot().PTZ
		ptz.AutoFocus = *r.AutoFocus
		e.store.Apply(state.Delta{PTZ: &ptz})
		applied++
	}
	if applied > 0 {
		e.store.Notify()
	}
	return applied
}
