// Package performance samples runtime statistics into the metrics recorder
// and writes pprof profiles for simulation runs.
package performance

import (
	"context"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

// Sample represents a performance sample
type Sample struct {
	Timestamp      time.Time
	HeapAlloc      uint64
	SysBytes       uint64
	GoroutineCount int
	NumGC          uint32
	GCPauseTotal   time.Duration
}

// Sink receives every collected sample
type Sink interface {
	RecordMemoryUsage(bytesUsed uint64)
	RecordGoroutineCount(count int)
}

// Sampler periodically reads runtime stats and keeps a bounded history
type Sampler struct {
	interval time.Duration
	history  int
	sink     Sink
	samples  []Sample
	mutex    sync.RWMutex
	log      *logger.Logger
}

// NewSampler creates a sampler. sink may be nil.
func NewSampler(interval time.Duration, history int, sink Sink) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if history <= 0 {
		history = 240
	}

	return &Sampler{
		interval: interval,
		history:  history,
		sink:     sink,
		samples:  make([]Sample, 0, history),
		log:      logger.GetLogger("performance.sampler"),
	}
}

// Run collects a sample every interval until ctx is cancelled
func (s *Sampler) Run(ctx context.Context) {
	s.log.Debugf("Sampling runtime stats every %v", s.interval)
	s.Collect()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Collect()
		case <-ctx.Done():
			return
		}
	}
}

// Collect takes one sample, forwards it to the sink and returns it
func (s *Sampler) Collect() Sample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	sample := Sample{
		Timestamp:      time.Now(),
		HeapAlloc:      m.HeapAlloc,
		SysBytes:       m.Sys,
		GoroutineCount: runtime.NumGoroutine(),
		NumGC:          m.NumGC,
		GCPauseTotal:   time.Duration(m.PauseTotalNs),
	}

	if s.sink != nil {
		s.sink.RecordMemoryUsage(sample.HeapAlloc)
		s.sink.RecordGoroutineCount(sample.GoroutineCount)
	}

	s.mutex.Lock()
	if len(s.samples) == s.history {
		copy(s.samples, s.samples[1:])
		s.samples = s.samples[:s.history-1]
	}
	s.samples = append(s.samples, sample)
	s.mutex.Unlock()

	return sample
}

// Samples returns a copy of the retained history, oldest first
func (s *Sampler) Samples() []Sample {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	samples := make([]Sample, len(s.samples))
	copy(samples, s.samples)
	return samples
}

// Latest returns the most recent sample
func (s *Sampler) Latest() (Sample, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// StartCPUProfile writes a CPU profile to path until the returned stop
// function is called
func StartCPUProfile(path string) (func() error, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(errors.WithType(err, errors.ErrorTypeInvalidArgument), "failed to create CPU profile file")
	}

	if err := pprof.StartCPUProfile(file); err != nil {
		file.Close()
		return nil, errors.Wrap(errors.WithType(err, errors.ErrorTypeInternal), "failed to start CPU profiling")
	}

	log := logger.GetLogger("performance.profiler")
	log.Infof("Started CPU profiling to %s", path)

	return func() error {
		pprof.StopCPUProfile()
		log.Infof("Stopped CPU profiling")
		return file.Close()
	}, nil
}

// WriteHeapProfile writes a heap profile to path after forcing a collection
func WriteHeapProfile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.WithType(err, errors.ErrorTypeInvalidArgument), "failed to create memory profile file")
	}
	defer file.Close()

	runtime.GC()
	if err := pprof.WriteHeapProfile(file); err != nil {
		return errors.Wrap(errors.WithType(err, errors.ErrorTypeInternal), "failed to write memory profile")
	}
	return nil
}
