package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/cat-risk-pipeline/internal/codec"
	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/circuit"
	apperrors "github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

type fakeWriter struct {
	mu   sync.Mutex
	err  error
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	fetchErrs []error
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.pending) > 0 {
		m := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func jsonCodec(t *testing.T) codec.Codec {
	t.Helper()
	c, err := codec.New("json")
	require.NoError(t, err)
	return c
}

func TestProducer_PublishKeysByRunID(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "sim-results", jsonCodec(t), circuit.NewCircuitBreaker("test", circuit.DefaultConfig()))

	result := &models.SimulationResult{RunID: "run-1", RequestID: "req-1", Trials: 100}
	require.NoError(t, p.Publish(context.Background(), result))

	require.Len(t, w.msgs, 1)
	msg := fromKafkaMessage(w.msgs[0])
	assert.Equal(t, []byte("run-1"), msg.Key)

	rid, ok := msg.Header(HeaderRequestID)
	assert.True(t, ok)
	assert.Equal(t, "req-1", rid)
	ct, _ := msg.Header(HeaderContentType)
	assert.Equal(t, "application/json", ct)

	var decoded models.SimulationResult
	require.NoError(t, jsonCodec(t).Unmarshal(msg.Value, &decoded))
	assert.Equal(t, 100, decoded.Trials)
}

func TestProducer_BreakerOpensOnRepeatedFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newProducer(w, "sim-results", jsonCodec(t), circuit.NewCircuitBreaker("test", circuit.Config{MaxFailures: 2, Timeout: time.Hour}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := p.ProduceMessage(ctx, nil, []byte("x"), nil)
		assert.True(t, errors.Is(err, apperrors.ErrUnavailable))
	}
	assert.Equal(t, circuit.StateOpen, p.Breaker().State())

	w.err = nil
	err := p.ProduceMessage(ctx, nil, []byte("x"), nil)
	assert.True(t, errors.Is(err, apperrors.ErrUnavailable))
	assert.Empty(t, w.msgs)
}

func TestConsumer_CommitsEvenWhenHandlerFails(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{
		{Topic: "sim-requests", Offset: 10, Value: []byte(`{"trials":100}`)},
		{Topic: "sim-requests", Offset: 11, Value: []byte(`not json`)},
		{Topic: "sim-requests", Offset: 12, Value: []byte(`{"trials":200}`)},
	}}
	c := newConsumer(r, "sim-requests", jsonCodec(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var trials []int
	done := make(chan error, 1)
	go func() {
		done <- c.ConsumeMessages(ctx, func(_ context.Context, msg *Message) error {
			var req models.SimulationRequest
			if err := c.Decode(msg, &req); err != nil {
				return err
			}
			mu.Lock()
			trials = append(trials, *req.Trials)
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{10, 11, 12}, r.commits())
	mu.Lock()
	assert.Equal(t, []int{100, 200}, trials)
	mu.Unlock()
}

func TestConsumer_StopsOnReaderEOF(t *testing.T) {
	r := &fakeReader{fetchErrs: []error{io.EOF}}
	c := newConsumer(r, "sim-requests", jsonCodec(t))

	err := c.ConsumeMessages(context.Background(), func(context.Context, *Message) error {
		t.Fatal("handler must not run")
		return nil
	})
	assert.NoError(t, err)
}

func TestConsumer_RetriesTransientFetchErrors(t *testing.T) {
	r := &fakeReader{
		fetchErrs: []error{errors.New("coordinator not available")},
		pending:   []kafka.Message{{Offset: 1}},
	}
	c := newConsumer(r, "sim-requests", jsonCodec(t))
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = c.ConsumeMessages(ctx, func(context.Context, *Message) error { return nil }) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidConfiguration))

	cfg := DefaultConfig()
	cfg.Codec = "xml"
	_, err = NewClient(cfg)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	client, err := NewClient(DefaultConfig())
	require.NoError(t, err)

	_, err = client.NewProducer("")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidConfiguration))

	cfg = DefaultConfig()
	cfg.RequiredAcks = "most"
	client, err = NewClient(cfg)
	require.NoError(t, err)
	_, err = client.NewProducer("sim-results")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidConfiguration))
}

func TestClient_NewProducerDoesNotDial(t *testing.T) {
	client, err := NewClient(DefaultConfig())
	require.NoError(t, err)

	p, err := client.NewProducer("sim-results")
	require.NoError(t, err)
	assert.NoError(t, p.Close())

	cfg := DefaultConfig()
	cfg.GroupID = ""
	client, err = NewClient(cfg)
	require.NoError(t, err)
	_, err = client.NewConsumer("sim-requests")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidConfiguration))
}
