package kafka

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzzdr/cat-risk-pipeline/internal/codec"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/circuit"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

// Client configuration options
type Config struct {
	Brokers           []string
	ClientID          string
	GroupID           string
	StartOffset       string // "earliest" or "latest"
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	BatchTimeout      time.Duration
	RequiredAcks      string // "none", "one" or "all"
	Compression       string // "", "gzip", "snappy", "lz4" or "zstd"
	Codec             string // "json" or "protobuf"
	Breaker           circuit.Config
}

// Message represents a Kafka message
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Headers   []MessageHeader
}

// MessageHeader represents a Kafka message header
type MessageHeader struct {
	Key   string
	Value []byte
}

// Header returns the value of the first header named key
func (m *Message) Header(key string) (string, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// Client builds producers and consumers that share broker settings
type Client struct {
	config *Config
	codec  codec.Codec
	log    *logger.Logger
}

// DefaultConfig returns a configuration for a local single-broker cluster
func DefaultConfig() *Config {
	return &Config{
		Brokers:           []string{"localhost:9092"},
		ClientID:          "cat-risk-pipeline",
		GroupID:           "cat-risk-engine",
		StartOffset:       "earliest",
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		WriteTimeout:      10 * time.Second,
		BatchTimeout:      10 * time.Millisecond,
		RequiredAcks:      "all",
		Codec:             "json",
		Breaker:           circuit.DefaultConfig(),
	}
}

// NewClient creates a new Kafka client
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Brokers) == 0 {
		return nil, errors.InvalidConfiguration("kafka: at least one broker is required")
	}

	c, err := codec.New(config.Codec)
	if err != nil {
		return nil, errors.Wrap(err, "kafka")
	}

	return &Client{
		config: config,
		codec:  c,
		log:    logger.GetLogger("kafka.client"),
	}, nil
}

// Codec returns the wire codec shared by the client's producers and consumers
func (c *Client) Codec() codec.Codec {
	return c.codec
}

// NewProducer creates a producer writing to topic
func (c *Client) NewProducer(topic string) (*Producer, error) {
	if topic == "" {
		return nil, errors.InvalidConfiguration("kafka: producer topic is required")
	}

	acks, err := parseAcks(c.config.RequiredAcks)
	if err != nil {
		return nil, err
	}
	compression, err := parseCompression(c.config.Compression)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		Compression:  compression,
		BatchTimeout: c.config.BatchTimeout,
		WriteTimeout: c.config.WriteTimeout,
		Transport:    &kafka.Transport{ClientID: c.config.ClientID},
	}

	c.log.Infof("Created producer for topic %s (acks=%s, codec=%s)", topic, c.config.RequiredAcks, c.config.Codec)
	return newProducer(w, topic, c.codec, circuit.NewCircuitBreaker("kafka-"+topic, c.config.Breaker)), nil
}

// NewConsumer creates a group consumer reading topic
func (c *Client) NewConsumer(topic string) (*Consumer, error) {
	if topic == "" {
		return nil, errors.InvalidConfiguration("kafka: consumer topic is required")
	}
	if c.config.GroupID == "" {
		return nil, errors.InvalidConfiguration("kafka: consumer group id is required")
	}

	startOffset := kafka.FirstOffset
	switch strings.ToLower(c.config.StartOffset) {
	case "", "earliest":
	case "latest":
		startOffset = kafka.LastOffset
	default:
		return nil, errors.InvalidConfiguration("kafka: unknown start offset %q", c.config.StartOffset)
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           c.config.Brokers,
		GroupID:           c.config.GroupID,
		Topic:             topic,
		StartOffset:       startOffset,
		SessionTimeout:    c.config.SessionTimeout,
		HeartbeatInterval: c.config.HeartbeatInterval,
		MinBytes:          1,
		MaxBytes:          10e6,
		Dialer:            &kafka.Dialer{ClientID: c.config.ClientID, Timeout: 10 * time.Second},
	})

	c.log.Infof("Created consumer for topic %s in group %s", topic, c.config.GroupID)
	return newConsumer(r, topic, c.codec), nil
}

// ListTopics lists the topics known to the cluster
func (c *Client) ListTopics(ctx context.Context) ([]string, error) {
	conn, err := kafka.DialContext(ctx, "tcp", c.config.Brokers[0])
	if err != nil {
		return nil, errors.Wrap(errors.WithType(err, errors.ErrorTypeUnavailable), "kafka: dial")
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, errors.Wrap(errors.WithType(err, errors.ErrorTypeUnavailable), "kafka: read partitions")
	}

	seen := make(map[string]struct{})
	topics := make([]string, 0, len(partitions))
	for _, p := range partitions {
		if _, ok := seen[p.Topic]; ok {
			continue
		}
		seen[p.Topic] = struct{}{}
		topics = append(topics, p.Topic)
	}
	return topics, nil
}

// EnsureTopicExists creates topic on the cluster controller if it is missing
func (c *Client) EnsureTopicExists(ctx context.Context, topic string, partitions, replicationFactor int) error {
	topics, err := c.ListTopics(ctx)
	if err != nil {
		return err
	}
	for _, t := range topics {
		if t == topic {
			c.log.Debugf("Topic %s already exists", topic)
			return nil
		}
	}

	conn, err := kafka.DialContext(ctx, "tcp", c.config.Brokers[0])
	if err != nil {
		return errors.Wrap(errors.WithType(err, errors.ErrorTypeUnavailable), "kafka: dial")
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return errors.Wrap(errors.WithType(err, errors.ErrorTypeUnavailable), "kafka: find controller")
	}

	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return errors.Wrap(errors.WithType(err, errors.ErrorTypeUnavailable), "kafka: dial controller")
	}
	defer ctrlConn.Close()

	c.log.Infof("Creating topic %s with %d partitions and replication factor %d", topic, partitions, replicationFactor)
	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil {
		return errors.Wrapf(errors.WithType(err, errors.ErrorTypeUnavailable), "kafka: create topic %s", topic)
	}
	return nil
}

func parseAcks(s string) (kafka.RequiredAcks, error) {
	switch strings.ToLower(s) {
	case "", "all", "-1":
		return kafka.RequireAll, nil
	case "one", "1":
		return kafka.RequireOne, nil
	case "none", "0":
		return kafka.RequireNone, nil
	default:
		return kafka.RequireAll, errors.InvalidConfiguration("kafka: unknown required acks %q", s)
	}
}

func parseCompression(s string) (kafka.Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, errors.InvalidConfiguration("kafka: unknown compression %q", s)
	}
}
