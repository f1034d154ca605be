package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/cat-risk-pipeline/internal/engine"
	"github.com/rzzdr/cat-risk-pipeline/pkg/metrics"
	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/circuit"
	apperrors "github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSimulator struct {
	mu       sync.Mutex
	requests []models.SimulationRequest
	err      error
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeSimulator) Simulate(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.block != nil {
		f.started <- struct{}{}
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}

	trials := 10_000
	if req.Trials != nil {
		trials = *req.Trials
	}
	return &models.SimulationResult{RunID: "run-1", RequestID: req.RequestID, Trials: trials}, nil
}

func (f *fakeSimulator) Defaults() models.SimulationDefaults {
	return models.SimulationDefaults{Limit: 10_000_000, Trials: 10_000, MinTrials: 100}
}

func (f *fakeSimulator) lastRequest() models.SimulationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSimulate_ReturnsResult(t *testing.T) {
	sim := &fakeSimulator{}
	srv := NewServer(Config{}, sim)

	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/simulations", `{"attachment":1000000,"limit":5000000,"trials":500,"seed":7}`,
		HeaderRequestID, "req-42")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))

	var result models.SimulationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 500, result.Trials)
	assert.Equal(t, "req-42", result.RequestID)

	req := sim.lastRequest()
	require.NotNil(t, req.Attachment)
	assert.Equal(t, 1_000_000.0, *req.Attachment)
	assert.Equal(t, int64(7), *req.Seed)
}

func TestSimulate_EmptyBodyUsesDefaults(t *testing.T) {
	sim := &fakeSimulator{}
	srv := NewServer(Config{}, sim)

	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/simulations", "")
	require.Equal(t, http.StatusOK, w.Code)

	req := sim.lastRequest()
	assert.Nil(t, req.Attachment)
	assert.Nil(t, req.Trials)
	assert.NotEmpty(t, req.RequestID)
}

func TestSimulate_BodyRequestIDWins(t *testing.T) {
	sim := &fakeSimulator{}
	srv := NewServer(Config{}, sim)

	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/simulations", `{"request_id":"from-body"}`, HeaderRequestID, "from-header")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from-body", sim.lastRequest().RequestID)
}

func TestSimulate_MalformedBody(t *testing.T) {
	srv := NewServer(Config{}, &fakeSimulator{})

	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/simulations", `{"trials":"many"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_argument", decodeError(t, w).Type)
}

func TestSimulate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"invalid configuration", apperrors.InvalidConfiguration("trial count must be at least 100"), http.StatusBadRequest, "invalid_configuration"},
		{"invalid argument", apperrors.InvalidArgument("bad rows"), http.StatusBadRequest, "invalid_argument"},
		{"empty run", apperrors.Wrap(apperrors.EmptyRun("no samples"), "summarize"), http.StatusUnprocessableEntity, "empty_run"},
		{"exhausted", apperrors.ResourceExhausted("busy"), http.StatusTooManyRequests, "resource_exhausted"},
		{"unavailable", apperrors.Unavailable("down"), http.StatusServiceUnavailable, "unavailable"},
		{"deadline", apperrors.Wrap(context.DeadlineExceeded, "generate"), http.StatusGatewayTimeout, "timeout"},
		{"untyped", assert.AnError, http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(Config{}, &fakeSimulator{err: tt.err})

			w := do(t, srv.Handler(), http.MethodPost, "/api/v1/simulations", `{}`, HeaderRequestID, "rid")
			assert.Equal(t, tt.status, w.Code)

			resp := decodeError(t, w)
			assert.Equal(t, tt.kind, resp.Type)
			assert.Equal(t, "rid", resp.RequestID)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestSimulate_RateLimitedPerClient(t *testing.T) {
	srv := NewServer(Config{RateLimit: 0.001, RateBurst: 1}, &fakeSimulator{})
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/simulations", `{}`).Code)

	w := do(t, h, http.MethodPost, "/api/v1/simulations", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "resource_exhausted", decodeError(t, w).Type)

	// other routes are not limited
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/defaults", "").Code)
}

func TestSimulate_TrialBudget(t *testing.T) {
	sim := &fakeSimulator{block: make(chan struct{}), started: make(chan struct{}, 1)}
	srv := NewServer(Config{MaxInflightTrials: 1000}, sim)
	h := srv.Handler()

	first := make(chan int, 1)
	go func() {
		first <- do(t, h, http.MethodPost, "/api/v1/simulations", `{"trials":800}`).Code
	}()
	<-sim.started

	w := do(t, h, http.MethodPost, "/api/v1/simulations", `{"trials":300}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	close(sim.block)
	assert.Equal(t, http.StatusOK, <-first)

	// budget is released once the first run finishes
	sim.block = nil
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/simulations", `{"trials":300}`).Code)
}

func TestDefaults(t *testing.T) {
	srv := NewServer(Config{}, &fakeSimulator{})

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/defaults", "")
	require.Equal(t, http.StatusOK, w.Code)

	var defaults models.SimulationDefaults
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &defaults))
	assert.Equal(t, 10_000, defaults.Trials)
	assert.Equal(t, 100, defaults.MinTrials)
}

type fixedFeed struct{ clients int }

func (f fixedFeed) HandleWebSocket(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

func (f fixedFeed) ClientCount() int { return f.clients }

func TestHealth_ReportsBreakers(t *testing.T) {
	breaker := circuit.NewCircuitBreaker("kafka-results", circuit.Config{MaxFailures: 1, Timeout: time.Hour})
	srv := NewServer(Config{}, &fakeSimulator{}, WithBreakers(breaker), WithLiveFeed(fixedFeed{clients: 3}))
	h := srv.Handler()

	w := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 3, health.WebSocketClients)
	require.Len(t, health.Breakers, 1)
	assert.Equal(t, "CLOSED", health.Breakers[0].State)

	_ = breaker.Execute(context.Background(), func(context.Context) error { return assert.AnError })

	w = do(t, h, http.MethodGet, "/health", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "OPEN", health.Breakers[0].State)

	assert.Equal(t, http.StatusTeapot, do(t, h, http.MethodGet, "/ws", "").Code)
}

func TestMetricsEndpoint_LabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := NewServer(Config{}, &fakeSimulator{}, WithRecorder(metrics.NewRecorder(reg)), WithGatherer(reg))
	h := srv.Handler()

	do(t, h, http.MethodPost, "/api/v1/simulations", `{}`)
	do(t, h, http.MethodGet, "/does/not/exist", "")

	w := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `catrisk_api_requests_total{method="POST",path="/api/v1/simulations",status="200"} 1`)
	assert.Contains(t, body, `path="unmatched",status="404"`)
}

func TestNotFoundAndCORS(t *testing.T) {
	srv := NewServer(Config{CORS: CORSConfig{AllowedOrigins: []string{"https://dash.example.com"}}}, &fakeSimulator{})
	h := srv.Handler()

	w := do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Type)

	w = do(t, h, http.MethodOptions, "/api/v1/simulations", "", "Origin", "https://dash.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dash.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(t, h, http.MethodGet, "/api/v1/defaults", "", "Origin", "https://evil.example.com")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSimulate_WithEngine(t *testing.T) {
	svc := engine.NewService(engine.DefaultConfig(), engine.WithLogger(logger.Nop()))
	srv := NewServer(Config{}, svc)
	h := srv.Handler()

	body, err := json.Marshal(map[string]interface{}{"trials": 1000, "seed": 11, "curve_rows": 10, "histogram_bins": 20})
	require.NoError(t, err)

	w := do(t, h, http.MethodPost, "/api/v1/simulations", string(body))
	require.Equal(t, http.StatusOK, w.Code)

	var result models.SimulationResult
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&result))
	assert.Equal(t, 1000, result.Trials)
	assert.Equal(t, int64(11), result.Seed)
	assert.Len(t, result.EPCurve, 10)
	assert.True(t, result.CurveTruncated)
	assert.Len(t, result.Histogram, 20)
	assert.Greater(t, result.Metrics.AverageAnnualLoss, 0.0)
	assert.GreaterOrEqual(t, result.Metrics.PML99, result.Metrics.AverageAnnualLoss)
	assert.True(t, strings.HasPrefix(result.Metrics.AALDisplay, "$"))

	w = do(t, h, http.MethodPost, "/api/v1/simulations", `{"trials":10}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_configuration", decodeError(t, w).Type)

	w = do(t, h, http.MethodPost, "/api/v1/simulations", `{"attachment":-5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
