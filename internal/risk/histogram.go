package risk

import (
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

// DefaultHistogramBins is the bin count used when callers do not pick one
const DefaultHistogramBins = 50

// Bin is one equal-width histogram bucket. Every bin is half-open
// [Lower, Upper) except the last, which also includes Upper.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram buckets samples into bins equal-width bins spanning [min, max].
// When all samples are equal the range is widened to [v-0.5, v+0.5].
func Histogram(samples []float64, bins int) ([]Bin, error) {
	if len(samples) == 0 {
		return nil, errors.EmptyRun("cannot build a histogram from no samples")
	}
	if bins < 1 {
		return nil, errors.InvalidArgument("bin count must be at least 1, got %d", bins)
	}

	lo, hi := samples[0], samples[0]
	for _, v := range samples[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}

	width := (hi - lo) / float64(bins)
	out := make([]Bin, bins)
	for i := range out {
		out[i].Lower = lo + float64(i)*width
		out[i].Upper = lo + float64(i+1)*width
	}
	out[bins-1].Upper = hi

	for _, v := range samples {
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		out[idx].Count++
	}

	return out, nil
}

