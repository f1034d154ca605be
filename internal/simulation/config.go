package simulation

import (
	"math"

	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

// Config holds the layer terms and trial count for one run.
// Build it with NewConfig; the zero value is not a valid configuration.
type Config struct {
	attachment float64
	limit      float64
	trials     int
}

// NewConfig validates the layer terms and returns an immutable Config.
// Limit is the layer width applied after attachment, not a cap on gross loss.
// A limit of zero is legal and yields an all-zero run; +Inf means no limit.
func NewConfig(attachment, limit float64, trials int) (Config, error) {
	if math.IsNaN(attachment) || attachment < 0 || math.IsInf(attachment, 0) {
		return Config{}, errors.InvalidConfiguration("attachment must be a finite non-negative number, got %v", attachment)
	}
	if math.IsNaN(limit) || limit < 0 {
		return Config{}, errors.InvalidConfiguration("limit must be non-negative, got %v", limit)
	}
	if trials < 1 {
		return Config{}, errors.InvalidConfiguration("trial count must be at least 1, got %d", trials)
	}

	return Config{
		attachment: attachment,
		limit:      limit,
		trials:     trials,
	}, nil
}

// Attachment returns the retention below which losses do not reach the layer
func (c Config) Attachment() float64 { return c.attachment }

// Limit returns the maximum loss the layer absorbs
func (c Config) Limit() float64 { return c.limit }

// Trials returns the number of independent event draws
func (c Config) Trials() int { return c.trials }

// valid reports whether c came from NewConfig
func (c Config) valid() bool {
	return c.trials >= 1
}

// ApplyLayer turns a gross loss into the loss ceded to the layer:
// max(0, gross-attachment) capped at limit.
func ApplyLayer(gross, attachment, limit float64) float64 {
	net := math.Max(0, gross-attachment)
	return math.Min(net, limit)
}
