// Package bootstrap maps loaded configuration onto component configs for the commands.
package bootstrap

import (
	"github.com/rzzdr/cat-risk-pipeline/config"
	"github.com/rzzdr/cat-risk-pipeline/internal/engine"
	"github.com/rzzdr/cat-risk-pipeline/internal/kafka"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/circuit"
)

// EngineConfig maps the simulation section onto the engine service config
func EngineConfig(s config.SimulationConfig) engine.Config {
	return engine.Config{
		DefaultAttachment: s.DefaultAttachment,
		DefaultLimit:      s.DefaultLimit,
		DefaultTrials:     s.DefaultTrials,
		MinTrials:         s.MinTrials,
		MaxTrials:         s.MaxTrials,
		LossScale:         s.LossScale,
		Workers:           s.Workers,
		MaxWorkers:        s.MaxWorkers,
		HistogramBins:     s.HistogramBins,
		MaxHistogramBins:  s.MaxHistogramBins,
		CurveRows:         s.CurveRows,
	}
}

// KafkaConfig maps the kafka section onto the transport client config
func KafkaConfig(k config.KafkaConfig) *kafka.Config {
	return &kafka.Config{
		Brokers:           k.Brokers,
		ClientID:          k.ClientID,
		GroupID:           k.Consumer.GroupID,
		StartOffset:       k.Consumer.AutoOffsetReset,
		SessionTimeout:    k.Consumer.SessionTimeout,
		HeartbeatInterval: k.Consumer.HeartbeatInterval,
		WriteTimeout:      k.Producer.WriteTimeout,
		BatchTimeout:      k.Producer.BatchTimeout,
		RequiredAcks:      k.Producer.Acks,
		Compression:       k.Producer.CompressionType,
		Codec:             k.Codec,
		Breaker: circuit.Config{
			MaxFailures: k.Breaker.MaxFailures,
			Timeout:     k.Breaker.Timeout,
			MaxRequests: 1,
		},
	}
}
