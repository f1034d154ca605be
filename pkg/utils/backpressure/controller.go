// Package backpressure bounds the work a process accepts: a queue controller
// between producers and workers, and token bucket rate limiters.
package backpressure

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

type Strategy int

const (
	// Block waits for room in the queue
	Block Strategy = iota
	// Reject fails the submission when the queue is full
	Reject
	// DropNewest discards the submitted item when the queue is full
	DropNewest
)

func (s Strategy) String() string {
	switch s {
	case Block:
		return "BLOCK"
	case Reject:
		return "REJECT"
	case DropNewest:
		return "DROP_NEWEST"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrMessageDropped  = errors.ResourceExhausted("message dropped due to backpressure")
	ErrMessageRejected = errors.ResourceExhausted("message rejected due to backpressure")
	ErrQueueClosed     = errors.Unavailable("queue is closed")
)

type Config struct {
	Name          string
	Strategy      Strategy
	MaxQueueSize  int
	HighWaterMark int // Percentage (0-100)
	OnOverload    func(depth int)
	OnDrop        func(item interface{})
}

// Controller is a bounded queue between producers and a worker pool
type Controller[T any] struct {
	name          string
	strategy      Strategy
	maxQueueSize  int
	highWaterMark int
	queue         chan T
	done          chan struct{}
	closeOnce     sync.Once

	processed atomic.Int64
	dropped   atomic.Int64
	rejected  atomic.Int64
	lastNanos atomic.Int64

	onOverload func(int)
	onDrop     func(interface{})
	log        *logger.Logger
}

type Stats struct {
	Name           string    `json:"name"`
	Strategy       string    `json:"strategy"`
	CurrentLoad    int       `json:"current_load"`
	MaxQueueSize   int       `json:"max_queue_size"`
	ProcessedCount int64     `json:"processed_count"`
	DroppedCount   int64     `json:"dropped_count"`
	RejectedCount  int64     `json:"rejected_count"`
	LastProcessed  time.Time `json:"last_processed"`
	UtilizationPct float64   `json:"utilization_percent"`
}

func NewController[T any](config Config) *Controller[T] {
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 1024
	}
	if config.HighWaterMark <= 0 || config.HighWaterMark > 100 {
		config.HighWaterMark = 80
	}

	c := &Controller[T]{
		name:          config.Name,
		strategy:      config.Strategy,
		maxQueueSize:  config.MaxQueueSize,
		highWaterMark: (config.HighWaterMark * config.MaxQueueSize) / 100,
		queue:         make(chan T, config.MaxQueueSize),
		done:          make(chan struct{}),
		onOverload:    config.OnOverload,
		onDrop:        config.OnDrop,
		log:           logger.GetLogger("backpressure." + config.Name),
	}

	c.log.Debugf("Backpressure controller '%s' initialized with strategy %s, capacity %d",
		config.Name, config.Strategy, config.MaxQueueSize)
	return c
}

// Submit enqueues item according to the controller's strategy
func (c *Controller[T]) Submit(ctx context.Context, item T) error {
	select {
	case <-c.done:
		return ErrQueueClosed
	default:
	}

	if depth := len(c.queue); depth >= c.highWaterMark && c.onOverload != nil {
		c.onOverload(depth)
	}

	select {
	case c.queue <- item:
		return nil
	default:
	}

	switch c.strategy {
	case Reject:
		c.rejected.Add(1)
		return ErrMessageRejected
	case DropNewest:
		c.dropped.Add(1)
		if c.onDrop != nil {
			c.onDrop(item)
		}
		return ErrMessageDropped
	default:
		select {
		case c.queue <- item:
			return nil
		case <-c.done:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Receive blocks for the next item. After Close it drains what is left and
// then returns ErrQueueClosed.
func (c *Controller[T]) Receive(ctx context.Context) (T, error) {
	var zero T

	select {
	case item := <-c.queue:
		c.markProcessed()
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		select {
		case item := <-c.queue:
			c.markProcessed()
			return item, nil
		default:
			return zero, ErrQueueClosed
		}
	}
}

func (c *Controller[T]) markProcessed() {
	c.processed.Add(1)
	c.lastNanos.Store(time.Now().UnixNano())
}

// Len returns the number of queued items
func (c *Controller[T]) Len() int {
	return len(c.queue)
}

// IsOverloaded reports whether the queue is above its high water mark
func (c *Controller[T]) IsOverloaded() bool {
	return len(c.queue) >= c.highWaterMark
}

func (c *Controller[T]) Stats() Stats {
	var last time.Time
	if n := c.lastNanos.Load(); n > 0 {
		last = time.Unix(0, n)
	}
	load := len(c.queue)

	return Stats{
		Name:           c.name,
		Strategy:       c.strategy.String(),
		CurrentLoad:    load,
		MaxQueueSize:   c.maxQueueSize,
		ProcessedCount: c.processed.Load(),
		DroppedCount:   c.dropped.Load(),
		RejectedCount:  c.rejected.Load(),
		LastProcessed:  last,
		UtilizationPct: float64(load) / float64(c.maxQueueSize) * 100,
	}
}

// Close stops accepting submissions. Queued items can still be received.
func (c *Controller[T]) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.log.Infof("Backpressure controller '%s' closed", c.name)
	})
}
