package models

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

// SimulationRequest asks for one Monte Carlo run. Nil fields fall back to the
// configured defaults. The seed is written as a JSON string and read from
// either a string or a number.
type SimulationRequest struct {
	RequestID  string   `json:"request_id,omitempty"`
	Attachment *float64 `json:"attachment,omitempty"`
	Limit      *float64 `json:"limit,omitempty"`
	Trials     *int     `json:"trials,omitempty"`
	Seed       *int64   `json:"seed,omitempty"`
	Workers    int      `json:"workers,omitempty"`
	// CurveRows caps the EP curve rows returned; 0 uses the server default
	CurveRows int `json:"curve_rows,omitempty"`
	// HistogramBins overrides the histogram bin count; 0 uses the server default
	HistogramBins int `json:"histogram_bins,omitempty"`
}

// requestFields is SimulationRequest without its JSON methods
type requestFields SimulationRequest

// MarshalJSON quotes the seed so 64-bit values survive decoders that read
// numbers as doubles
func (r SimulationRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		requestFields
		Seed *int64 `json:"seed,string,omitempty"`
	}{requestFields(r), r.Seed})
}

// UnmarshalJSON accepts the seed as a quoted or bare integer
func (r *SimulationRequest) UnmarshalJSON(data []byte) error {
	aux := struct {
		*requestFields
		Seed json.RawMessage `json:"seed,omitempty"`
	}{requestFields: (*requestFields)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Seed) == 0 || string(aux.Seed) == "null" {
		return nil
	}
	seed, err := parseSeed(aux.Seed)
	if err != nil {
		return err
	}
	r.Seed = &seed
	return nil
}

func parseSeed(raw json.RawMessage) (int64, error) {
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, errors.InvalidArgument("seed: %v", err)
		}
	}
	seed, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errors.InvalidArgument("seed must be a 64-bit integer, got %s", raw)
	}
	return seed, nil
}

// RiskMetrics are the headline numbers of a run, raw and formatted for display
type RiskMetrics struct {
	AverageAnnualLoss float64 `json:"aal"`
	PML99             float64 `json:"pml_99"`
	AALDisplay        string  `json:"aal_display"`
	PML99Display      string  `json:"pml_99_display"`
}

// EPCurvePoint is one row of the exceedance probability curve
type EPCurvePoint struct {
	Rank         int     `json:"rank"`
	Loss         float64 `json:"loss"`
	ReturnPeriod float64 `json:"return_period"`
}

// HistogramBin is one bucket of the net loss histogram
type HistogramBin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// SimulationResult is everything a caller needs to present a finished run
type SimulationResult struct {
	RunID      string  `json:"run_id"`
	RequestID  string  `json:"request_id,omitempty"`
	Attachment float64 `json:"attachment"`
	Limit      float64 `json:"limit"`
	Trials     int     `json:"trials"`
	Seed       int64   `json:"seed,string"`
	Workers    int     `json:"workers"`

	Metrics RiskMetrics `json:"metrics"`

	EPCurve        []EPCurvePoint `json:"ep_curve"`
	CurveTruncated bool           `json:"curve_truncated"`
	Histogram      []HistogramBin `json:"histogram"`

	DurationMs  float64   `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// SimulationSummary is the slim form of a result pushed to live subscribers
type SimulationSummary struct {
	RunID       string      `json:"run_id"`
	RequestID   string      `json:"request_id,omitempty"`
	Attachment  float64     `json:"attachment"`
	Limit       float64     `json:"limit"`
	Trials      int         `json:"trials"`
	Metrics     RiskMetrics `json:"metrics"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Summary strips the curve and histogram from a result
func (r *SimulationResult) Summary() SimulationSummary {
	return SimulationSummary{
		RunID:       r.RunID,
		RequestID:   r.RequestID,
		Attachment:  r.Attachment,
		Limit:       r.Limit,
		Trials:      r.Trials,
		Metrics:     r.Metrics,
		CompletedAt: r.CompletedAt,
	}
}

// SimulationDefaults describes how omitted request fields are filled in
type SimulationDefaults struct {
	Attachment       float64 `json:"attachment"`
	Limit            float64 `json:"limit"`
	Trials           int     `json:"trials"`
	MinTrials        int     `json:"min_trials"`
	MaxTrials        int     `json:"max_trials"`
	LossScale        float64 `json:"loss_scale"`
	HistogramBins    int     `json:"histogram_bins"`
	MaxHistogramBins int     `json:"max_histogram_bins"`
	CurveRows        int     `json:"curve_rows"`
}
