package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	apperrors "github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	chdir(t, t.TempDir())

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestRun_JSONOutput(t *testing.T) {
	out, err := execute(t, "run", "--trials", "1000", "--seed", "42", "--attachment", "500000", "--limit", "3000000", "--format", "json", "--bins", "10")
	require.NoError(t, err)

	var result models.SimulationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1000, result.Trials)
	assert.Equal(t, int64(42), result.Seed)
	assert.Equal(t, 500_000.0, result.Attachment)
	assert.Equal(t, 3_000_000.0, result.Limit)
	assert.Len(t, result.EPCurve, 1000)
	assert.False(t, result.CurveTruncated)
	assert.Len(t, result.Histogram, 10)
	assert.LessOrEqual(t, result.Metrics.PML99, 3_000_000.0)
}

func TestRun_SeedIsReproducible(t *testing.T) {
	first, err := execute(t, "run", "--trials", "500", "--seed", "9", "--format", "json")
	require.NoError(t, err)
	second, err := execute(t, "run", "--trials", "500", "--seed", "9", "--format", "json")
	require.NoError(t, err)

	var a, b models.SimulationResult
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	assert.Equal(t, a.Metrics, b.Metrics)
	assert.Equal(t, a.EPCurve, b.EPCurve)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestRun_TextOutput(t *testing.T) {
	out, err := execute(t, "run", "--trials", "2000", "--seed", "1")
	require.NoError(t, err)

	assert.Contains(t, out, "Average Annual Loss (AAL):")
	assert.Contains(t, out, "PML 1-in-100 (99th percentile):")
	assert.Contains(t, out, "EXCEEDANCE PROBABILITY CURVE (20 of 2000 rows)")
	assert.Contains(t, out, "NET LOSS DISTRIBUTION")
	assert.Contains(t, out, "$10,000,000")

	// 20 curve rows plus 50 histogram rows carry the rank/bin layout
	lines := strings.Split(out, "\n")
	var histogramRows int
	for _, l := range lines {
		if strings.Contains(l, " - $") {
			histogramRows++
		}
	}
	assert.Equal(t, 50, histogramRows)
}

func TestRun_RejectsTooFewTrials(t *testing.T) {
	_, err := execute(t, "run", "--trials", "10")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidConfiguration))
	assert.Contains(t, err.Error(), "at least 100")
}

func TestRun_RejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "run", "--format", "xml")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))
}

func TestRun_WritesProfiles(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	mem := filepath.Join(dir, "mem.prof")

	_, err := execute(t, "run", "--trials", "200", "--format", "json", "--cpuprofile", cpu, "--memprofile", mem)
	require.NoError(t, err)

	for _, p := range []string{cpu, mem} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "catsim version dev"))
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
