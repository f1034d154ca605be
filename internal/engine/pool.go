package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/backpressure"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

// PoolConfig sizes the worker pool and its queue
type PoolConfig struct {
	Workers   int
	QueueSize int
	// Strategy decides what Submit does when the queue is full
	Strategy backpressure.Strategy
	// OnDone is called after every request with its result or error
	OnDone func(req models.SimulationRequest, result *models.SimulationResult, err error)
}

// Pool runs queued simulation requests on a fixed set of workers
type Pool struct {
	service *Service
	queue   *backpressure.Controller[models.SimulationRequest]
	workers int
	onDone  func(models.SimulationRequest, *models.SimulationResult, error)
	log     *logger.Logger
}

// NewPool creates a pool in front of service
func NewPool(service *Service, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	log := logger.GetLogger("engine.pool")
	return &Pool{
		service: service,
		queue: backpressure.NewController[models.SimulationRequest](backpressure.Config{
			Name:         "simulation-requests",
			Strategy:     cfg.Strategy,
			MaxQueueSize: cfg.QueueSize,
			OnOverload: func(depth int) {
				log.Warnf("Simulation queue above high water mark: %d queued", depth)
			},
		}),
		workers: cfg.Workers,
		onDone:  cfg.OnDone,
		log:     log,
	}
}

// Submit queues a request, honouring the pool's backpressure strategy
func (p *Pool) Submit(ctx context.Context, req models.SimulationRequest) error {
	return p.queue.Submit(ctx, req)
}

// Run blocks until ctx is cancelled or Close has been called and the queue
// has drained
func (p *Pool) Run(ctx context.Context) error {
	p.log.Infof("Starting %d simulation workers", p.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		i := i
		g.Go(func() error {
			return p.work(ctx, i)
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, id int) error {
	for {
		req, err := p.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, backpressure.ErrQueueClosed) || ctx.Err() != nil {
				p.log.Debugf("Worker %d stopping", id)
				return nil
			}
			return err
		}

		result, err := p.service.Simulate(ctx, req)
		if p.onDone != nil {
			p.onDone(req, result, err)
		}
	}
}

// Close stops accepting requests; queued ones are still processed
func (p *Pool) Close() {
	p.queue.Close()
}

// Stats reports queue depth and throughput
func (p *Pool) Stats() backpressure.Stats {
	return p.queue.Stats()
}
