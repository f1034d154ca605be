package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordSimulation(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordSimulation(10_000, 25*time.Millisecond, 950_000, 4_600_000)
	r.RecordSimulation(100, time.Millisecond, 10, 20)
	r.RecordSimulationFailure("invalid_configuration")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runCounter.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runCounter.WithLabelValues("invalid_configuration")))
	assert.Equal(t, 10_100.0, testutil.ToFloat64(r.trialCounter))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.lastAALGauge))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.lastPML99Gauge))
}

func TestRecorder_APIRequestStatusLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordAPIRequest("POST", "/api/v1/simulations", 201, 3*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.apiRequestCounter.WithLabelValues("POST", "/api/v1/simulations", "201")))
}

func TestRecorder_IsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewRecorder(prometheus.NewRegistry())
		NewRecorder(prometheus.NewRegistry())
	})
}

func TestHandler_ExposesRecordedMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.RecordPublishFailure("kafka")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `catrisk_publish_failures_total{sink="kafka"} 1`)
}
