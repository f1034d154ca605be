package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/cat-risk-pipeline/config"
	"github.com/rzzdr/cat-risk-pipeline/internal/bootstrap"
	"github.com/rzzdr/cat-risk-pipeline/internal/engine"
	"github.com/rzzdr/cat-risk-pipeline/internal/kafka"
	"github.com/rzzdr/cat-risk-pipeline/pkg/metrics"
	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/backpressure"
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
		logger.GetLogger("risk-engine.main").Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.GetLogger("risk-engine.main")
	defer log.Sync()
	log.Infof("Starting CAT risk simulation engine %s", version.String())

	// Create a context that will be canceled on program termination
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize metrics recorder
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	// Create Kafka client
	kafkaClient, err := kafka.NewClient(bootstrap.KafkaConfig(cfg.Kafka))
	if err != nil {
		log.Fatalf("Failed to create Kafka client: %v", err)
	}

	topics := cfg.Kafka.Topics
	if topics.AutoCreate {
		for _, topic := range []string{topics.SimulationRequests, topics.SimulationResults} {
			if err := kafkaClient.EnsureTopicExists(ctx, topic, topics.Partitions, topics.ReplicationFactor); err != nil {
				log.Warnf("Could not ensure topic %s exists: %v", topic, err)
			}
		}
	}

	// Create a producer for simulation results
	producer, err := kafkaClient.NewProducer(topics.SimulationResults)
	if err != nil {
		log.Fatalf("Failed to create results producer: %v", err)
	}

	// Create a consumer for simulation requests
	consumer, err := kafkaClient.NewConsumer(topics.SimulationRequests)
	if err != nil {
		log.Fatalf("Failed to create requests consumer: %v", err)
	}

	service := engine.NewService(bootstrap.EngineConfig(cfg.Simulation),
		engine.WithRecorder(recorder),
		engine.WithPublishers(producer),
	)

	pool := engine.NewPool(service, engine.PoolConfig{
		Workers:   cfg.Kafka.Consumer.Workers,
		QueueSize: cfg.Kafka.Consumer.QueueSize,
		Strategy:  backpressure.Block,
		OnDone: func(req models.SimulationRequest, result *models.SimulationResult, err error) {
			if err != nil {
				recorder.RecordConsumed(topics.SimulationRequests, "failed")
				return
			}
			recorder.RecordConsumed(topics.SimulationRequests, "ok")
		},
	})

	sampler := performance.NewSampler(cfg.Metrics.Interval, 0, recorder)

	var promServer *metrics.PrometheusServer
	if cfg.Metrics.Prometheus.Enabled {
		promServer = metrics.NewPrometheusServer(cfg.Metrics.Prometheus.Port, cfg.Metrics.Prometheus.Path, registry)
	}

	g, gctx := errgroup.WithContext(ctx)

	if promServer != nil {
		g.Go(promServer.Start)
	}

	g.Go(func() error {
		sampler.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return pool.Run(gctx)
	})

	// The consumer commits once a request is queued, so a crash loses queued
	// requests rather than replaying them
	g.Go(func() error {
		defer pool.Close()
		return consumer.ConsumeMessages(gctx, func(ctx context.Context, msg *kafka.Message) error {
			var req models.SimulationRequest
			if err := consumer.Decode(msg, &req); err != nil {
				recorder.RecordConsumed(msg.Topic, "invalid")
				return err
			}
			if req.RequestID == "" {
				if id, ok := msg.Header(kafka.HeaderRequestID); ok {
					req.RequestID = id
				} else {
					req.RequestID = string(msg.Key)
				}
			}
			return pool.Submit(ctx, req)
		})
	})

	// Stop the metrics server once everything else is done
	g.Go(func() error {
		<-gctx.Done()
		if promServer == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return promServer.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorf("Risk engine stopped with error: %v", err)
	}

	if err := consumer.Close(); err != nil {
		log.Errorf("Kafka consumer shutdown error: %v", err)
	}
	if err := producer.Close(); err != nil {
		log.Errorf("Kafka producer shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}
