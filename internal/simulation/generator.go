package simulation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

// DefaultLossScale is the mean gross loss of the exponential event model
const DefaultLossScale = 1_000_000.0

// cancellation is checked once per this many trials
const checkEvery = 4096

// Stream is the source of randomness for a generator. *rand.Rand satisfies it.
type Stream interface {
	// ExpFloat64 returns an exponentially distributed value with rate 1
	ExpFloat64() float64
	// Int63 is used to seed the per-worker streams of a parallel run
	Int63() int64
}

// Generator draws gross event losses and pushes them through the layer terms
type Generator struct {
	stream  Stream
	scale   float64
	workers int
	mu      sync.Mutex
}

// Option configures a Generator
type Option func(*Generator)

// WithSeed makes runs reproducible
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.stream = rand.New(rand.NewSource(seed))
	}
}

// WithStream injects a caller-owned random stream
func WithStream(stream Stream) Option {
	return func(g *Generator) {
		if stream != nil {
			g.stream = stream
		}
	}
}

// WithWorkers splits trials across n goroutines, each with its own stream
func WithWorkers(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithLossScale overrides the mean of the gross loss distribution
func WithLossScale(scale float64) Option {
	return func(g *Generator) {
		if scale > 0 {
			g.scale = scale
		}
	}
}

// NewGenerator creates a generator. Without WithSeed or WithStream it is
// seeded from the clock and successive runs are not reproducible.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		scale:   DefaultLossScale,
		workers: 1,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.stream == nil {
		g.stream = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return g
}

// Generate produces cfg.Trials() net losses. With one worker the samples come
// straight off the generator's stream in trial order. With several workers the
// trials are cut into contiguous chunks and every chunk draws from a stream
// seeded off the parent stream, so a given seed and worker count always
// produce the same run.
func (g *Generator) Generate(ctx context.Context, cfg Config) (*Run, error) {
	if !cfg.valid() {
		return nil, errors.InvalidConfiguration("configuration must be built with NewConfig")
	}

	// the parent stream is not safe for concurrent use
	g.mu.Lock()
	defer g.mu.Unlock()

	samples := make([]float64, cfg.trials)
	workers := min(g.workers, cfg.trials)

	if workers <= 1 {
		if err := g.fill(ctx, g.stream, cfg, samples); err != nil {
			return nil, err
		}
		return newRun(cfg, samples), nil
	}

	seeds := make([]int64, workers)
	for i := range seeds {
		seeds[i] = g.stream.Int63()
	}

	chunk := (cfg.trials + workers - 1) / workers
	eg, egCtx := errgroup.WithContext(ctx)

	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, cfg.trials)
		if lo >= hi {
			break
		}

		part := samples[lo:hi]
		seed := seeds[w]
		eg.Go(func() error {
			return g.fill(egCtx, rand.New(rand.NewSource(seed)), cfg, part)
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return newRun(cfg, samples), nil
}

// fill writes one net loss per element of dst
func (g *Generator) fill(ctx context.Context, stream Stream, cfg Config, dst []float64) error {
	for i := range dst {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		gross := g.scale * stream.ExpFloat64()
		dst[i] = ApplyLayer(gross, cfg.attachment, cfg.limit)
	}
	return nil
}
