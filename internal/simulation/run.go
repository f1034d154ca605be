package simulation

import (
	"time"

	"github.com/google/uuid"
)

// Run is the immutable outcome of one generation: exactly Config.Trials()
// net losses in trial order. Nothing outside this package can mutate the samples.
type Run struct {
	id        string
	config    Config
	samples   []float64
	createdAt time.Time
}

// NewRun wraps a copy of samples as a run. It is mainly useful for feeding
// externally produced loss sets into the aggregator.
func NewRun(cfg Config, samples []float64) *Run {
	owned := make([]float64, len(samples))
	copy(owned, samples)
	return newRun(cfg, owned)
}

func newRun(cfg Config, samples []float64) *Run {
	return &Run{
		id:        uuid.NewString(),
		config:    cfg,
		samples:   samples,
		createdAt: time.Now().UTC(),
	}
}

// ID returns the run identifier
func (r *Run) ID() string { return r.id }

// Config returns the configuration the run was generated from
func (r *Run) Config() Config { return r.config }

// CreatedAt returns when the run finished generating
func (r *Run) CreatedAt() time.Time { return r.createdAt }

// Len returns the number of samples
func (r *Run) Len() int { return len(r.samples) }

// At returns the i-th sample in trial order
func (r *Run) At(i int) float64 { return r.samples[i] }

// Samples returns a copy of the samples in trial order
func (r *Run) Samples() []float64 {
	out := make([]float64, len(r.samples))
	copy(out, r.samples)
	return out
}

// CopyInto appends the samples to dst and returns the extended slice
func (r *Run) CopyInto(dst []float64) []float64 {
	return append(dst, r.samples...)
}
