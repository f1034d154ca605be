package api

import (
	"github.com/gin-gonic/gin"

	"github.com/rzzdr/cat-risk-pipeline/pkg/metrics"
)

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggingMiddleware())
	if s.recorder != nil {
		s.router.Use(MetricsMiddleware(s.recorder))
	}
	s.router.Use(RecoveryMiddleware())
	s.router.Use(CORSMiddleware(s.config.CORS))

	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// Metrics endpoint for Prometheus
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.gatherer)))
	}

	// Live results feed
	if s.feed != nil {
		s.router.GET("/ws", func(c *gin.Context) {
			s.feed.HandleWebSocket(c.Writer, c.Request)
		})
	}

	v1 := s.router.Group("/api/v1")
	v1.GET("/defaults", s.handleDefaults)

	simulations := v1.Group("/simulations")
	if s.limiter != nil {
		simulations.Use(RateLimitMiddleware(s.limiter))
	}
	simulations.POST("", s.handleSimulate)

	s.router.NoRoute(s.handleNotFound)
}
