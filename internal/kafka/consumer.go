package kafka

import (
	"context"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzzdr/cat-risk-pipeline/internal/codec"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

// MessageHandler processes one consumed message
type MessageHandler func(ctx context.Context, msg *Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic as part of a consumer group
type Consumer struct {
	reader  messageReader
	topic   string
	codec   codec.Codec
	backoff time.Duration
	log     *logger.Logger
}

func newConsumer(r messageReader, topic string, c codec.Codec) *Consumer {
	return &Consumer{
		reader:  r,
		topic:   topic,
		codec:   c,
		backoff: time.Second,
		log:     logger.GetLogger("kafka.consumer"),
	}
}

// Topic returns the consumed topic
func (c *Consumer) Topic() string {
	return c.topic
}

// Decode unmarshals a message value with the consumer's codec
func (c *Consumer) Decode(msg *Message, v interface{}) error {
	return c.codec.Unmarshal(msg.Value, v)
}

// ConsumeMessages blocks, handing every message to handler until ctx is
// cancelled or the reader is closed. A handler error is logged and the offset
// is still committed so one bad message cannot stall the partition.
func (c *Consumer) ConsumeMessages(ctx context.Context, handler MessageHandler) error {
	c.log.Infof("Starting consumer for topic: %s", c.topic)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Infof("Context cancelled, stopping consumer for topic: %s", c.topic)
				return nil
			}
			if errors.Is(err, io.EOF) {
				c.log.Infof("Reader closed, stopping consumer for topic: %s", c.topic)
				return nil
			}

			c.log.Errorf("Error fetching from %s: %v", c.topic, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		msg := fromKafkaMessage(m)
		if err := handler(ctx, msg); err != nil {
			c.log.Errorf("Error processing message %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Errorf("Error committing offset %d on %s/%d: %v", m.Offset, m.Topic, m.Partition, err)
		}
	}
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	c.log.Infof("Closing consumer for topic %s", c.topic)
	return c.reader.Close()
}

func fromKafkaMessage(m kafka.Message) *Message {
	msg := &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Timestamp: m.Time,
	}

	if len(m.Headers) > 0 {
		msg.Headers = make([]MessageHeader, len(m.Headers))
		for i, h := range m.Headers {
			msg.Headers[i] = MessageHeader{Key: h.Key, Value: h.Value}
		}
	}
	return msg
}
