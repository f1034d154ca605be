package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder handles metrics recording and exposure
type Recorder struct {
	// API metrics
	apiRequestCounter   *prometheus.CounterVec
	apiLatencyHistogram *prometheus.HistogramVec

	// Simulation metrics
	runCounter       *prometheus.CounterVec
	trialCounter     prometheus.Counter
	runLatency       prometheus.Histogram
	trialsHistogram  prometheus.Histogram
	lastAALGauge     prometheus.Gauge
	lastPML99Gauge   prometheus.Gauge
	publishFailures  *prometheus.CounterVec
	consumedMessages *prometheus.CounterVec

	// System metrics
	wsClientsGauge      prometheus.Gauge
	memoryUsageGauge    prometheus.Gauge
	goroutineCountGauge prometheus.Gauge
}

// NewRecorder creates a recorder whose collectors are registered with reg.
// Pass prometheus.DefaultRegisterer to expose them through promhttp.Handler.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		// API metrics
		apiRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catrisk_api_requests_total",
				Help: "The total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		apiLatencyHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catrisk_api_latency_seconds",
				Help:    "API request latency distribution",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // From 1ms to ~16s
			},
			[]string{"method", "path"},
		),

		// Simulation metrics
		runCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catrisk_simulation_runs_total",
				Help: "The total number of simulation runs by outcome",
			},
			[]string{"outcome"},
		),
		trialCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "catrisk_simulation_trials_total",
				Help: "The total number of simulated trials",
			},
		),
		runLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catrisk_simulation_duration_seconds",
				Help:    "Time to generate and aggregate one run",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // From 0.5ms to ~16s
			},
		),
		trialsHistogram: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catrisk_simulation_trials",
				Help:    "Trial count distribution per run",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6), // From 100 to 10M
			},
		),
		lastAALGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catrisk_last_aal",
				Help: "Average annual loss of the most recent run",
			},
		),
		lastPML99Gauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catrisk_last_pml_99",
				Help: "99th percentile probable maximum loss of the most recent run",
			},
		),
		publishFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catrisk_publish_failures_total",
				Help: "Results that could not be delivered to a sink",
			},
			[]string{"sink"},
		),
		consumedMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catrisk_kafka_messages_consumed_total",
				Help: "Simulation requests consumed from Kafka by outcome",
			},
			[]string{"topic", "outcome"},
		),

		// System metrics
		wsClientsGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catrisk_websocket_clients",
				Help: "Connected WebSocket subscribers",
			},
		),
		memoryUsageGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catrisk_memory_usage_bytes",
				Help: "Memory usage of the application in bytes",
			},
		),
		goroutineCountGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catrisk_goroutine_count",
				Help: "Number of goroutines",
			},
		),
	}
}

// RecordAPIRequest records metrics for an API request
func (r *Recorder) RecordAPIRequest(method, path string, status int, latency time.Duration) {
	r.apiRequestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.apiLatencyHistogram.WithLabelValues(method, path).Observe(latency.Seconds())
}

// RecordSimulation records a successful run
func (r *Recorder) RecordSimulation(trials int, latency time.Duration, aal, pml99 float64) {
	r.runCounter.WithLabelValues("ok").Inc()
	r.trialCounter.Add(float64(trials))
	r.trialsHistogram.Observe(float64(trials))
	r.runLatency.Observe(latency.Seconds())
	r.lastAALGauge.Set(aal)
	r.lastPML99Gauge.Set(pml99)
}

// RecordSimulationFailure records a run rejected or aborted with the given error kind
func (r *Recorder) RecordSimulationFailure(kind string) {
	r.runCounter.WithLabelValues(kind).Inc()
}

// RecordPublishFailure records a result that a sink refused
func (r *Recorder) RecordPublishFailure(sink string) {
	r.publishFailures.WithLabelValues(sink).Inc()
}

// RecordConsumed records a consumed Kafka message
func (r *Recorder) RecordConsumed(topic, outcome string) {
	r.consumedMessages.WithLabelValues(topic, outcome).Inc()
}

// RecordWebSocketClients records the number of connected subscribers
func (r *Recorder) RecordWebSocketClients(count int) {
	r.wsClientsGauge.Set(float64(count))
}

// RecordMemoryUsage records the current memory usage
func (r *Recorder) RecordMemoryUsage(bytesUsed uint64) {
	r.memoryUsageGauge.Set(float64(bytesUsed))
}

// RecordGoroutineCount records the current number of goroutines
func (r *Recorder) RecordGoroutineCount(count int) {
	r.goroutineCountGauge.Set(float64(count))
}
