package engine

import (
	"context"
	"math"
	"time"

	"github.com/rzzdr/cat-risk-pipeline/internal/risk"
	"github.com/rzzdr/cat-risk-pipeline/internal/simulation"
	"github.com/rzzdr/cat-risk-pipeline/pkg/currency"
	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

// Config holds the defaults and bounds applied to every request
type Config struct {
	DefaultAttachment float64
	DefaultLimit      float64
	DefaultTrials     int
	MinTrials         int
	MaxTrials         int
	LossScale         float64
	Workers           int
	MaxWorkers        int
	HistogramBins     int
	MaxHistogramBins  int
	// CurveRows caps the EP curve rows in a result; 0 returns every row
	CurveRows int
}

// DefaultConfig returns the stock presentation defaults
func DefaultConfig() Config {
	return Config{
		DefaultAttachment: 0,
		DefaultLimit:      10_000_000,
		DefaultTrials:     10_000,
		MinTrials:         100,
		MaxTrials:         5_000_000,
		LossScale:         simulation.DefaultLossScale,
		Workers:           1,
		MaxWorkers:        8,
		HistogramBins:     risk.DefaultHistogramBins,
		MaxHistogramBins:  1000,
		CurveRows:         0,
	}
}

// MetricsRecorder receives run outcomes
type MetricsRecorder interface {
	RecordSimulation(trials int, latency time.Duration, aal, pml99 float64)
	RecordSimulationFailure(kind string)
	RecordPublishFailure(sink string)
}

// ResultPublisher delivers finished results to a downstream sink
type ResultPublisher interface {
	Name() string
	Publish(ctx context.Context, result *models.SimulationResult) error
}

// Service resolves requests against the configured defaults, runs the
// generator and aggregator, and fans results out to publishers
type Service struct {
	cfg        Config
	recorder   MetricsRecorder
	publishers []ResultPublisher
	log        *logger.Logger
	now        func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithRecorder sets the metrics recorder
func WithRecorder(r MetricsRecorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithPublishers adds result publishers
func WithPublishers(p ...ResultPublisher) Option {
	return func(s *Service) {
		s.publishers = append(s.publishers, p...)
	}
}

// WithLogger overrides the service logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService creates a simulation service. Zero-valued config fields are
// filled from DefaultConfig, except DefaultAttachment, DefaultLimit and
// CurveRows whose zero values are meaningful. A negative or NaN DefaultLimit
// is replaced.
func NewService(cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.DefaultLimit < 0 || math.IsNaN(cfg.DefaultLimit) {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.DefaultTrials <= 0 {
		cfg.DefaultTrials = def.DefaultTrials
	}
	if cfg.MinTrials <= 0 {
		cfg.MinTrials = 1
	}
	if cfg.MaxTrials <= 0 {
		cfg.MaxTrials = def.MaxTrials
	}
	if cfg.LossScale <= 0 {
		cfg.LossScale = def.LossScale
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.MaxHistogramBins <= 0 {
		cfg.MaxHistogramBins = def.MaxHistogramBins
	}
	if cfg.HistogramBins <= 0 {
		cfg.HistogramBins = min(def.HistogramBins, cfg.MaxHistogramBins)
	}

	s := &Service{
		cfg:      cfg,
		recorder: nopRecorder{},
		log:      logger.GetLogger("engine.service"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Defaults reports how omitted request fields are resolved
func (s *Service) Defaults() models.SimulationDefaults {
	return models.SimulationDefaults{
		Attachment:       s.cfg.DefaultAttachment,
		Limit:            s.cfg.DefaultLimit,
		Trials:           s.cfg.DefaultTrials,
		MinTrials:        s.cfg.MinTrials,
		MaxTrials:        s.cfg.MaxTrials,
		LossScale:        s.cfg.LossScale,
		HistogramBins:    s.cfg.HistogramBins,
		MaxHistogramBins: s.cfg.MaxHistogramBins,
		CurveRows:        s.cfg.CurveRows,
	}
}

// Simulate runs one request end to end. Publisher failures are logged and
// counted but never fail the run.
func (s *Service) Simulate(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error) {
	result, err := s.simulate(ctx, req)
	if err != nil {
		s.recorder.RecordSimulationFailure(failureKind(err))
		s.log.Warnf("Simulation %q failed: %v", req.RequestID, err)
		return nil, err
	}

	s.recorder.RecordSimulation(result.Trials, time.Duration(result.DurationMs*float64(time.Millisecond)),
		result.Metrics.AverageAnnualLoss, result.Metrics.PML99)
	s.log.Infof("Run %s finished: trials=%d attachment=%.0f limit=%.0f AAL=%s PML99=%s in %.1fms",
		result.RunID, result.Trials, result.Attachment, result.Limit,
		result.Metrics.AALDisplay, result.Metrics.PML99Display, result.DurationMs)

	s.publish(ctx, result)
	return result, nil
}

func (s *Service) simulate(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error) {
	start := s.now()

	attachment := s.cfg.DefaultAttachment
	if req.Attachment != nil {
		attachment = *req.Attachment
	}
	limit := s.cfg.DefaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	trials := s.cfg.DefaultTrials
	if req.Trials != nil {
		trials = *req.Trials
	}

	if math.IsInf(limit, 0) {
		return nil, errors.InvalidConfiguration("limit must be finite")
	}
	if trials < s.cfg.MinTrials {
		return nil, errors.InvalidConfiguration("trial count must be at least %d, got %d", s.cfg.MinTrials, trials)
	}
	if trials > s.cfg.MaxTrials {
		return nil, errors.InvalidConfiguration("trial count must be at most %d, got %d", s.cfg.MaxTrials, trials)
	}

	cfg, err := simulation.NewConfig(attachment, limit, trials)
	if err != nil {
		return nil, err
	}

	bins := s.cfg.HistogramBins
	if req.HistogramBins != 0 {
		bins = req.HistogramBins
	}
	if bins < 1 || bins > s.cfg.MaxHistogramBins {
		return nil, errors.InvalidArgument("histogram bins must be between 1 and %d, got %d", s.cfg.MaxHistogramBins, bins)
	}
	rows := s.cfg.CurveRows
	if req.CurveRows != 0 {
		rows = req.CurveRows
	}
	if rows < 0 {
		return nil, errors.InvalidArgument("curve rows must not be negative, got %d", rows)
	}

	workers := s.cfg.Workers
	if req.Workers > 0 {
		workers = min(req.Workers, s.cfg.MaxWorkers)
	}

	seed := start.UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	gen := simulation.NewGenerator(
		simulation.WithSeed(seed),
		simulation.WithWorkers(workers),
		simulation.WithLossScale(s.cfg.LossScale),
	)

	run, err := gen.Generate(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "generate")
	}

	metrics, err := risk.Summarize(run)
	if err != nil {
		return nil, errors.Wrap(err, "summarize")
	}
	curve, err := risk.BuildEPCurve(run)
	if err != nil {
		return nil, errors.Wrap(err, "build ep curve")
	}
	hist, err := risk.Histogram(run.Samples(), bins)
	if err != nil {
		return nil, errors.Wrap(err, "histogram")
	}

	shown := risk.ThinCurve(curve, rows)
	completed := s.now()

	return &models.SimulationResult{
		RunID:      run.ID(),
		RequestID:  req.RequestID,
		Attachment: attachment,
		Limit:      limit,
		Trials:     trials,
		Seed:       seed,
		Workers:    workers,
		Metrics: models.RiskMetrics{
			AverageAnnualLoss: metrics.AverageAnnualLoss,
			PML99:             metrics.PML99,
			AALDisplay:        currency.Format(metrics.AverageAnnualLoss),
			PML99Display:      currency.Format(metrics.PML99),
		},
		EPCurve:        toCurvePoints(shown),
		CurveTruncated: len(shown) < len(curve),
		Histogram:      toHistogramBins(hist),
		DurationMs:     float64(completed.Sub(start)) / float64(time.Millisecond),
		CompletedAt:    completed.UTC(),
	}, nil
}

func (s *Service) publish(ctx context.Context, result *models.SimulationResult) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, result); err != nil {
			s.recorder.RecordPublishFailure(p.Name())
			s.log.Errorf("Failed to publish run %s to %s: %v", result.RunID, p.Name(), err)
		}
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return errors.TypeOf(err).String()
	}
}

func toCurvePoints(curve []risk.EPPoint) []models.EPCurvePoint {
	out := make([]models.EPCurvePoint, len(curve))
	for i, p := range curve {
		out[i] = models.EPCurvePoint{Rank: p.Rank, Loss: p.Loss, ReturnPeriod: p.ReturnPeriod}
	}
	return out
}

func toHistogramBins(bins []risk.Bin) []models.HistogramBin {
	out := make([]models.HistogramBin, len(bins))
	for i, b := range bins {
		out[i] = models.HistogramBin{Lower: b.Lower, Upper: b.Upper, Count: b.Count}
	}
	return out
}

type nopRecorder struct{}

func (nopRecorder) RecordSimulation(int, time.Duration, float64, float64) {}

func (nopRecorder) RecordSimulationFailure(string) {}

func (nopRecorder) RecordPublishFailure(string) {}
