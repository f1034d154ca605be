package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/backpressure"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/circuit"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

// Config holds the configuration for the API server
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// RequestTimeout bounds a single simulation request; 0 disables it
	RequestTimeout time.Duration
	// RateLimit is requests per second per client IP; 0 disables limiting
	RateLimit float64
	RateBurst int
	// MaxInflightTrials caps trials simulated concurrently; 0 disables the cap
	MaxInflightTrials int64
	CORS              CORSConfig
}

// CORSConfig lists what cross-origin callers may send
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Simulator runs simulation requests
type Simulator interface {
	Simulate(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error)
	Defaults() models.SimulationDefaults
}

// RequestRecorder receives per-request HTTP metrics
type RequestRecorder interface {
	RecordAPIRequest(method, path string, status int, latency time.Duration)
}

// LiveFeed serves the websocket results feed
type LiveFeed interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// Server represents the API server
type Server struct {
	config     Config
	router     *gin.Engine
	httpServer *http.Server
	simulator  Simulator
	recorder   RequestRecorder
	gatherer   prometheus.Gatherer
	feed       LiveFeed
	breakers   []*circuit.CircuitBreaker
	limiter    *backpressure.KeyedLimiter
	budget     *semaphore.Weighted
	log        *logger.Logger
}

// Option configures a Server
type Option func(*Server)

// WithRecorder records request metrics
func WithRecorder(r RequestRecorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithGatherer exposes the registry on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLiveFeed mounts the websocket feed on /ws
func WithLiveFeed(f LiveFeed) Option {
	return func(s *Server) {
		s.feed = f
	}
}

// WithBreakers reports the given circuit breakers on /health
func WithBreakers(b ...*circuit.CircuitBreaker) Option {
	return func(s *Server) {
		s.breakers = append(s.breakers, b...)
	}
}

// NewServer creates a new API server
func NewServer(config Config, simulator Simulator, opts ...Option) *Server {
	// Apply defaults if needed
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 60 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	server := &Server{
		config:    config,
		router:    gin.New(),
		simulator: simulator,
		log:       logger.GetLogger("api.server"),
	}
	for _, opt := range opts {
		opt(server)
	}

	if config.RateLimit > 0 {
		burst := max(config.RateBurst, 1)
		server.limiter = backpressure.NewKeyedLimiter(config.RateLimit, burst, 10*time.Minute)
	}
	if config.MaxInflightTrials > 0 {
		server.budget = semaphore.NewWeighted(config.MaxInflightTrials)
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return server
}

// Handler returns the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.log.Infof("Starting API server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}
