package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	apperrors "github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

func sampleResult() *models.SimulationResult {
	return &models.SimulationResult{
		RunID:      "6f1c0d7e-1d2b-4a57-9d0e-2b1f3a4c5d6e",
		RequestID:  "req-9",
		Attachment: 1_000_000,
		Limit:      5_000_000,
		Trials:     100,
		Seed:       1_729_000_000_123_456_789,
		Workers:    2,
		Metrics: models.RiskMetrics{
			AverageAnnualLoss: 367_879.25,
			PML99:             3_605_170.5,
			AALDisplay:        "$367,879",
			PML99Display:      "$3,605,170",
		},
		EPCurve: []models.EPCurvePoint{
			{Rank: 1, Loss: 5_000_000, ReturnPeriod: 100},
			{Rank: 100, Loss: 0, ReturnPeriod: 1},
		},
		CurveTruncated: true,
		Histogram:      []models.HistogramBin{{Lower: 0, Upper: 5_000_000, Count: 100}},
		DurationMs:     1.25,
		CompletedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCodecs_PreserveResults(t *testing.T) {
	for _, format := range []string{"json", "protobuf"} {
		t.Run(format, func(t *testing.T) {
			c, err := New(format)
			require.NoError(t, err)

			data, err := c.Marshal(sampleResult())
			require.NoError(t, err)

			var got models.SimulationResult
			require.NoError(t, c.Unmarshal(data, &got))
			assert.Equal(t, *sampleResult(), got)
		})
	}
}

func TestNew_Formats(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "application/json", c.ContentType())

	c, err = New(" Proto ")
	require.NoError(t, err)
	assert.Equal(t, "application/x-protobuf", c.ContentType())

	_, err = New("avro")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))
}

func TestUnmarshal_Garbage(t *testing.T) {
	for _, format := range []string{"json", "protobuf"} {
		c, err := New(format)
		require.NoError(t, err)

		var req models.SimulationRequest
		err = c.Unmarshal([]byte{0xff, 0x01, 0x02}, &req)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument), format)
	}
}

func TestCodecs_PreserveWideRequestSeeds(t *testing.T) {
	seed := int64(1_760_000_000_123_456_789)
	trials := 500

	for _, format := range []string{"json", "protobuf"} {
		t.Run(format, func(t *testing.T) {
			c, err := New(format)
			require.NoError(t, err)

			data, err := c.Marshal(models.SimulationRequest{RequestID: "req-1", Trials: &trials, Seed: &seed})
			require.NoError(t, err)

			var got models.SimulationRequest
			require.NoError(t, c.Unmarshal(data, &got))
			require.NotNil(t, got.Seed)
			assert.Equal(t, seed, *got.Seed)
			assert.Equal(t, trials, *got.Trials)
			assert.Equal(t, "req-1", got.RequestID)
		})
	}
}

func TestCodecs_ReplayResultSeed(t *testing.T) {
	c, err := New("protobuf")
	require.NoError(t, err)

	// a reported result's seed field decodes straight into a new request
	data, err := c.Marshal(sampleResult())
	require.NoError(t, err)

	var req models.SimulationRequest
	require.NoError(t, c.Unmarshal(data, &req))
	require.NotNil(t, req.Seed)
	assert.Equal(t, sampleResult().Seed, *req.Seed)
}
