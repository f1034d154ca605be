package risk

import (
	"sort"

	"github.com/rzzdr/cat-risk-pipeline/internal/simulation"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/pools"
)

// PMLPercentile is the percentile reported as the probable maximum loss
const PMLPercentile = 99.0

// Metrics summarises a run
type Metrics struct {
	AverageAnnualLoss float64 `json:"aal"`
	PML99             float64 `json:"pml_99"`
}

// EPPoint is one row of an exceedance probability curve
type EPPoint struct {
	Rank         int     `json:"rank"`
	Loss         float64 `json:"loss"`
	ReturnPeriod float64 `json:"return_period"`
}

var scratch = pools.NewFloat64SlicePool(16 * 1024)

// Summarize computes the average annual loss and the 99th percentile loss.
// The run is not modified.
func Summarize(run *simulation.Run) (Metrics, error) {
	if run == nil || run.Len() == 0 {
		return Metrics{}, errors.EmptyRun("cannot summarize a run with no samples")
	}

	buf := run.CopyInto(scratch.Get(run.Len()))
	defer scratch.Put(buf)

	var sum float64
	for _, v := range buf {
		sum += v
	}

	sort.Float64s(buf)
	pml, err := Percentile(buf, PMLPercentile)
	if err != nil {
		return Metrics{}, errors.Wrap(err, "summarize")
	}

	return Metrics{
		AverageAnnualLoss: sum / float64(len(buf)),
		PML99:             pml,
	}, nil
}

// BuildEPCurve sorts the run's losses in descending order and assigns the
// i-th row (1-indexed) a return period of n/i years. Every sample gets a row;
// equal losses are not merged.
func BuildEPCurve(run *simulation.Run) ([]EPPoint, error) {
	if run == nil || run.Len() == 0 {
		return nil, errors.EmptyRun("cannot build an EP curve from a run with no samples")
	}

	losses := run.Samples()
	sort.Sort(sort.Reverse(sort.Float64Slice(losses)))

	n := float64(len(losses))
	curve := make([]EPPoint, len(losses))
	for i, loss := range losses {
		rank := i + 1
		curve[i] = EPPoint{
			Rank:         rank,
			Loss:         loss,
			ReturnPeriod: n / float64(rank),
		}
	}

	return curve, nil
}

// LossAtReturnPeriod reads the loss for a target return period off a curve,
// taking the first row whose return period does not exceed years.
func LossAtReturnPeriod(curve []EPPoint, years float64) (float64, error) {
	if len(curve) == 0 {
		return 0, errors.EmptyRun("EP curve has no rows")
	}
	if !(years >= 1) {
		return 0, errors.InvalidArgument("return period must be at least one year, got %v", years)
	}

	idx := sort.Search(len(curve), func(i int) bool {
		return curve[i].ReturnPeriod <= years
	})
	if idx == len(curve) {
		idx = len(curve) - 1
	}
	return curve[idx].Loss, nil
}

// ThinCurve keeps at most rows points of a curve, spaced evenly by rank so
// that the first and last rows always survive. rows <= 0 or rows >= len(curve)
// returns the curve unchanged.
func ThinCurve(curve []EPPoint, rows int) []EPPoint {
	if rows <= 0 || rows >= len(curve) {
		return curve
	}
	if rows == 1 {
		return curve[:1]
	}

	out := make([]EPPoint, rows)
	last := len(curve) - 1
	for i := range out {
		out[i] = curve[i*last/(rows-1)]
	}
	return out
}
