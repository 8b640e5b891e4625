package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveOperation("ptz.setZoom", "ok")
	m.ObserveOperation("ptz.setZoom", "ok")
	m.ObserveCommand("axis.set", false)
	m.ObserveTelemetryFailure("mqtt")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("ptz.setZoom", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("axis.set", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.telemetry.WithLabelValues("mqtt")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("x", "ok")
	m.ObserveCommand("x", true)
	m.ObserveTelemetryFailure("x")
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveCommand("preset.recall", true)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `ptzpanel_device_commands_total{kind="preset.recall",ok="true"} 1`)
}
