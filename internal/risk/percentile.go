package risk

import (
	"math"

	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

// Percentile returns the p-th percentile (0..100) of an ascending slice using
// linear interpolation between the two order statistics that bracket rank
// p/100*(n-1). A single-element slice returns that element for every p.
func Percentile(sorted []float64, p float64) (float64, error) {
	n := len(sorted)
	if n == 0 {
		return 0, errors.EmptyRun("percentile of an empty sample")
	}
	if math.IsNaN(p) || p < 0 || p > 100 {
		return 0, errors.InvalidArgument("percentile must be within [0, 100], got %v", p)
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo], nil
	}

	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac, nil
}
