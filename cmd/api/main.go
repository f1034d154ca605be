package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rzzdr/cat-risk-pipeline/config"
	"github.com/rzzdr/cat-risk-pipeline/internal/bootstrap"
	"github.com/rzzdr/cat-risk-pipeline/internal/engine"
	"github.com/rzzdr/cat-risk-pipeline/internal/kafka"
	"github.com/rzzdr/cat-risk-pipeline/internal/websocket"
	"github.com/rzzdr/cat-risk-pipeline/pkg/api"
	"github.com/rzzdr/cat-risk-pipeline/pkg/metrics"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/performance"
	"github.com/rzzdr/cat-risk-pipeline/pkg/version"
)

var (
	configFile = flag.String("config", config.GetConfigPath(), "Path to configuration file")
)

func main() {
	// Parse command line flags
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.GetLogger("api.main").Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.GetLogger("api.main")
	defer log.Sync()
	log.Infof("Starting CAT risk simulation API %s", version.String())

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create a context that will be canceled on program termination
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize metrics recorder on a private registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	var (
		publishers []engine.ResultPublisher
		serverOpts = []api.Option{api.WithRecorder(recorder), api.WithGatherer(registry)}
		producer   *kafka.Producer
	)

	// Live results feed
	if cfg.WebSocket.Enabled {
		hub := websocket.NewHub(websocket.Config{
			AllowedOrigins: cfg.WebSocket.AllowedOrigins,
			OnClientCount:  recorder.RecordWebSocketClients,
		})
		go hub.Run(ctx)

		publishers = append(publishers, hub)
		serverOpts = append(serverOpts, api.WithLiveFeed(hub))
	}

	// Optional Kafka result stream
	if cfg.Kafka.Enabled {
		kafkaClient, err := kafka.NewClient(bootstrap.KafkaConfig(cfg.Kafka))
		if err != nil {
			log.Fatalf("Failed to create Kafka client: %v", err)
		}

		topic := cfg.Kafka.Topics.SimulationResults
		if cfg.Kafka.Topics.AutoCreate {
			if err := kafkaClient.EnsureTopicExists(ctx, topic, cfg.Kafka.Topics.Partitions, cfg.Kafka.Topics.ReplicationFactor); err != nil {
				log.Warnf("Could not ensure topic %s exists: %v", topic, err)
			}
		}

		producer, err = kafkaClient.NewProducer(topic)
		if err != nil {
			log.Fatalf("Failed to create Kafka producer: %v", err)
		}

		publishers = append(publishers, producer)
		serverOpts = append(serverOpts, api.WithBreakers(producer.Breaker()))
	}

	service := engine.NewService(bootstrap.EngineConfig(cfg.Simulation),
		engine.WithRecorder(recorder),
		engine.WithPublishers(publishers...),
	)

	// Runtime stats into the recorder
	sampler := performance.NewSampler(cfg.Metrics.Interval, 0, recorder)
	go sampler.Run(ctx)

	apiServer := api.NewServer(
		api.Config{
			Host:              cfg.API.Host,
			Port:              cfg.API.Port,
			ReadTimeout:       cfg.API.ReadTimeout,
			WriteTimeout:      cfg.API.WriteTimeout,
			ShutdownTimeout:   cfg.API.ShutdownTimeout,
			RequestTimeout:    cfg.API.RequestTimeout,
			RateLimit:         cfg.API.RateLimit,
			RateBurst:         cfg.API.RateBurst,
			MaxInflightTrials: cfg.API.MaxInflightTrials,
			CORS: api.CORSConfig{
				AllowedOrigins: cfg.API.CORS.AllowedOrigins,
				AllowedMethods: cfg.API.CORS.AllowedMethods,
				AllowedHeaders: cfg.API.CORS.AllowedHeaders,
			},
		},
		service,
		serverOpts...,
	)

	// Start API server
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	// Wait for termination signal or a server failure
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal, initiating shutdown")
	case err := <-serverErr:
		if err != nil {
			log.Errorf("API server error: %v", err)
		}
		stop()
	}

	// Create a context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout+5*time.Second)
	defer cancel()

	// Stop API server
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Errorf("API server shutdown error: %v", err)
	}

	// Flush the Kafka producer
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("Kafka producer shutdown error: %v", err)
		}
	}

	log.Info("Shutdown complete")
}
