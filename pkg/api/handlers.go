package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/circuit"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/version"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error     string `json:"error"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse reports liveness and the state of downstream sinks
type HealthResponse struct {
	Status           string          `json:"status"`
	Timestamp        string          `json:"timestamp"`
	Version          string          `json:"version"`
	WebSocketClients int             `json:"websocket_clients"`
	Breakers         []circuit.Stats `json:"breakers,omitempty"`
}

// handleSimulate runs one simulation synchronously and returns the result
func (s *Server) handleSimulate(c *gin.Context) {
	var req models.SimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(c, errors.InvalidArgument("invalid request body: %v", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetString(requestIDKey)
	}

	ctx := c.Request.Context()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	if s.budget != nil {
		weight := s.trialWeight(req)
		if !s.budget.TryAcquire(weight) {
			s.writeError(c, errors.ResourceExhausted("too many trials in flight, retry later"))
			return
		}
		defer s.budget.Release(weight)
	}

	result, err := s.simulator.Simulate(ctx, req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// trialWeight is the share of the in-flight budget a request holds
func (s *Server) trialWeight(req models.SimulationRequest) int64 {
	trials := int64(s.simulator.Defaults().Trials)
	if req.Trials != nil {
		trials = int64(*req.Trials)
	}
	return min(max(trials, 1), s.config.MaxInflightTrials)
}

// handleDefaults reports how omitted request fields are filled in
func (s *Server) handleDefaults(c *gin.Context) {
	c.JSON(http.StatusOK, s.simulator.Defaults())
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
	}
	if s.feed != nil {
		resp.WebSocketClients = s.feed.ClientCount()
	}
	for _, b := range s.breakers {
		stats := b.Stats()
		if b.State() == circuit.StateOpen {
			resp.Status = "degraded"
		}
		resp.Breakers = append(resp.Breakers, stats)
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleNotFound(c *gin.Context) {
	s.writeError(c, errors.NotFound("no route for %s %s", c.Request.Method, c.Request.URL.Path))
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorf("Request %s failed: %v", c.GetString(requestIDKey), err)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     err.Error(),
		Type:      kind,
		RequestID: c.GetString(requestIDKey),
	})
}

// statusFor maps an error onto an HTTP status and a machine-readable type
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "canceled"
	}

	t := errors.TypeOf(err)
	switch t {
	case errors.ErrorTypeInvalidArgument, errors.ErrorTypeInvalidConfiguration:
		return http.StatusBadRequest, t.String()
	case errors.ErrorTypeEmptyRun:
		return http.StatusUnprocessableEntity, t.String()
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound, t.String()
	case errors.ErrorTypeResourceExhausted:
		return http.StatusTooManyRequests, t.String()
	case errors.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable, t.String()
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, t.String()
	default:
		return http.StatusInternalServerError, errors.ErrorTypeInternal.String()
	}
}
