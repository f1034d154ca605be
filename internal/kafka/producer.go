package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/rzzdr/cat-risk-pipeline/internal/codec"
	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/circuit"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

const (
	HeaderContentType = "content-type"
	HeaderRequestID   = "request-id"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes encoded messages to one topic behind a circuit breaker
type Producer struct {
	writer  messageWriter
	topic   string
	codec   codec.Codec
	breaker *circuit.CircuitBreaker
	log     *logger.Logger
}

func newProducer(w messageWriter, topic string, c codec.Codec, breaker *circuit.CircuitBreaker) *Producer {
	return &Producer{
		writer:  w,
		topic:   topic,
		codec:   c,
		breaker: breaker,
		log:     logger.GetLogger("kafka.producer"),
	}
}

// ProduceMessage writes a single message synchronously
func (p *Producer) ProduceMessage(ctx context.Context, key, value []byte, headers []MessageHeader) error {
	msg := kafka.Message{
		Key:   key,
		Value: value,
	}
	for _, h := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: h.Key, Value: h.Value})
	}

	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		if errors.TypeOf(err) == errors.ErrorTypeUnknown {
			err = errors.WithType(err, errors.ErrorTypeUnavailable)
		}
		return errors.Wrapf(err, "kafka: write to %s", p.topic)
	}
	return nil
}

// ProduceValue encodes v with the producer's codec and writes it
func (p *Producer) ProduceValue(ctx context.Context, key []byte, v interface{}, headers ...MessageHeader) error {
	value, err := p.codec.Marshal(v)
	if err != nil {
		return err
	}

	headers = append(headers, MessageHeader{Key: HeaderContentType, Value: []byte(p.codec.ContentType())})
	return p.ProduceMessage(ctx, key, value, headers)
}

// Name identifies the producer as a result sink
func (p *Producer) Name() string {
	return "kafka"
}

// Publish writes a finished simulation result keyed by run ID
func (p *Producer) Publish(ctx context.Context, result *models.SimulationResult) error {
	var headers []MessageHeader
	if result.RequestID != "" {
		headers = append(headers, MessageHeader{Key: HeaderRequestID, Value: []byte(result.RequestID)})
	}

	if err := p.ProduceValue(ctx, []byte(result.RunID), result, headers...); err != nil {
		return err
	}

	p.log.Debugf("Published run %s to %s", result.RunID, p.topic)
	return nil
}

// Breaker exposes the producer's circuit breaker for health reporting
func (p *Producer) Breaker() *circuit.CircuitBreaker {
	return p.breaker
}

// Close flushes pending writes and closes the writer
func (p *Producer) Close() error {
	p.log.Infof("Closing producer for topic %s", p.topic)
	return p.writer.Close()
}
