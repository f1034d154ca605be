package config

import (
	stderrors "errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

// EnvPrefix prefixes every environment override, e.g. CATRISK_API_PORT
const EnvPrefix = "CATRISK"

// Config for the whole application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	API        APIConfig        `mapstructure:"api"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
}

// General application configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// Configuration for the API server
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// RateLimit is requests per second per client IP; 0 disables limiting
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// MaxInflightTrials bounds the trials being simulated at once across requests
	MaxInflightTrials int64      `mapstructure:"max_inflight_trials"`
	CORS              CORSConfig `mapstructure:"cors"`
}

// CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// Configuration for Kafka
type KafkaConfig struct {
	Enabled  bool                `mapstructure:"enabled"`
	Brokers  []string            `mapstructure:"brokers"`
	ClientID string              `mapstructure:"client_id"`
	Codec    string              `mapstructure:"codec"`
	Consumer KafkaConsumerConfig `mapstructure:"consumer"`
	Producer KafkaProducerConfig `mapstructure:"producer"`
	Topics   KafkaTopicsConfig   `mapstructure:"topics"`
	Breaker  BreakerConfig       `mapstructure:"breaker"`
}

// Kafka consumer configuration
type KafkaConsumerConfig struct {
	GroupID           string        `mapstructure:"group_id"`
	AutoOffsetReset   string        `mapstructure:"auto_offset_reset"`
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
}

// Kafka producer configuration
type KafkaProducerConfig struct {
	Acks            string        `mapstructure:"acks"`
	CompressionType string        `mapstructure:"compression_type"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// Kafka topics configuration
type KafkaTopicsConfig struct {
	SimulationRequests string `mapstructure:"simulation_requests"`
	SimulationResults  string `mapstructure:"simulation_results"`
	Partitions         int    `mapstructure:"partitions"`
	ReplicationFactor  int    `mapstructure:"replication_factor"`
	AutoCreate         bool   `mapstructure:"auto_create"`
}

// Circuit breaker configuration for the result producer
type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Defaults and bounds applied to simulation requests
type SimulationConfig struct {
	DefaultAttachment float64 `mapstructure:"default_attachment"`
	DefaultLimit      float64 `mapstructure:"default_limit"`
	DefaultTrials     int     `mapstructure:"default_trials"`
	MinTrials         int     `mapstructure:"min_trials"`
	MaxTrials         int     `mapstructure:"max_trials"`
	LossScale         float64 `mapstructure:"loss_scale"`
	Workers           int     `mapstructure:"workers"`
	MaxWorkers        int     `mapstructure:"max_workers"`
	HistogramBins     int     `mapstructure:"histogram_bins"`
	MaxHistogramBins  int     `mapstructure:"max_histogram_bins"`
	CurveRows         int     `mapstructure:"curve_rows"`
}

// Configuration for metrics
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Interval   time.Duration    `mapstructure:"interval"`
}

// Configuration for Prometheus metrics
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Configuration for the live results feed
type WebSocketConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads defaults, then the YAML file, then CATRISK_* environment
// overrides. With an empty path ./config/config.yaml and ./config.yaml are
// tried and a missing file is not an error; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, errors.Wrap(errors.WithType(err, errors.ErrorTypeInvalidConfiguration), "failed to read config file")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(errors.WithType(err, errors.ErrorTypeInvalidConfiguration), "failed to unmarshal config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings no component could run with
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return errors.InvalidConfiguration("api.port must be between 1 and 65535, got %d", c.API.Port)
	}
	if c.API.RateLimit < 0 {
		return errors.InvalidConfiguration("api.rate_limit must not be negative")
	}

	s := c.Simulation
	if s.MinTrials < 1 {
		return errors.InvalidConfiguration("simulation.min_trials must be at least 1, got %d", s.MinTrials)
	}
	if s.MaxTrials < s.MinTrials {
		return errors.InvalidConfiguration("simulation.max_trials (%d) is below min_trials (%d)", s.MaxTrials, s.MinTrials)
	}
	if s.DefaultTrials < s.MinTrials || s.DefaultTrials > s.MaxTrials {
		return errors.InvalidConfiguration("simulation.default_trials %d is outside [%d, %d]", s.DefaultTrials, s.MinTrials, s.MaxTrials)
	}
	if s.DefaultAttachment < 0 || s.DefaultLimit < 0 {
		return errors.InvalidConfiguration("simulation default attachment and limit must not be negative")
	}
	if s.LossScale <= 0 {
		return errors.InvalidConfiguration("simulation.loss_scale must be positive")
	}
	if s.HistogramBins < 1 || s.HistogramBins > s.MaxHistogramBins {
		return errors.InvalidConfiguration("simulation.histogram_bins must be between 1 and max_histogram_bins (%d), got %d", s.MaxHistogramBins, s.HistogramBins)
	}
	if s.CurveRows < 0 {
		return errors.InvalidConfiguration("simulation.curve_rows must not be negative")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.InvalidConfiguration("kafka.brokers is required when kafka is enabled")
	}
	if c.Metrics.Prometheus.Enabled && (c.Metrics.Prometheus.Port <= 0 || c.Metrics.Prometheus.Port > 65535) {
		return errors.InvalidConfiguration("metrics.prometheus.port must be between 1 and 65535, got %d", c.Metrics.Prometheus.Port)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "cat-risk-pipeline")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "60s")
	v.SetDefault("api.shutdown_timeout", "30s")
	v.SetDefault("api.request_timeout", "45s")
	v.SetDefault("api.rate_limit", 10)
	v.SetDefault("api.rate_burst", 20)
	v.SetDefault("api.max_inflight_trials", 20_000_000)
	v.SetDefault("api.cors.allowed_origins", []string{"*"})
	v.SetDefault("api.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("api.cors.allowed_headers", []string{"Authorization", "Content-Type", "X-Request-ID"})

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "cat-risk-pipeline")
	v.SetDefault("kafka.codec", "json")
	v.SetDefault("kafka.consumer.group_id", "cat-risk-engine")
	v.SetDefault("kafka.consumer.auto_offset_reset", "earliest")
	v.SetDefault("kafka.consumer.session_timeout", "30s")
	v.SetDefault("kafka.consumer.heartbeat_interval", "3s")
	v.SetDefault("kafka.consumer.workers", 4)
	v.SetDefault("kafka.consumer.queue_size", 64)
	v.SetDefault("kafka.producer.acks", "all")
	v.SetDefault("kafka.producer.compression_type", "snappy")
	v.SetDefault("kafka.producer.batch_timeout", "10ms")
	v.SetDefault("kafka.producer.write_timeout", "10s")
	v.SetDefault("kafka.topics.simulation_requests", "cat.simulation.requests")
	v.SetDefault("kafka.topics.simulation_results", "cat.simulation.results")
	v.SetDefault("kafka.topics.partitions", 6)
	v.SetDefault("kafka.topics.replication_factor", 1)
	v.SetDefault("kafka.topics.auto_create", true)
	v.SetDefault("kafka.breaker.max_failures", 5)
	v.SetDefault("kafka.breaker.timeout", "30s")

	// Simulation defaults
	v.SetDefault("simulation.default_attachment", 0.0)
	v.SetDefault("simulation.default_limit", 10_000_000.0)
	v.SetDefault("simulation.default_trials", 10_000)
	v.SetDefault("simulation.min_trials", 100)
	v.SetDefault("simulation.max_trials", 5_000_000)
	v.SetDefault("simulation.loss_scale", 1_000_000.0)
	v.SetDefault("simulation.workers", 1)
	v.SetDefault("simulation.max_workers", 8)
	v.SetDefault("simulation.histogram_bins", 50)
	v.SetDefault("simulation.max_histogram_bins", 1000)
	v.SetDefault("simulation.curve_rows", 1000)

	// Metrics defaults
	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.port", 9090)
	v.SetDefault("metrics.prometheus.path", "/metrics")
	v.SetDefault("metrics.interval", "15s")

	// WebSocket defaults
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.allowed_origins", []string{"*"})
}

// GetConfigPath returns CATRISK_CONFIG_PATH, or "" to search the default locations
func GetConfigPath() string {
	return os.Getenv(EnvPrefix + "_CONFIG_PATH")
}
