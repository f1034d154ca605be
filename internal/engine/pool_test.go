package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/backpressure"
	apperrors "github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

type outcomes struct {
	mu      sync.Mutex
	results map[string]*models.SimulationResult
	errs    map[string]error
}

func newOutcomes() *outcomes {
	return &outcomes{results: make(map[string]*models.SimulationResult), errs: make(map[string]error)}
}

func (o *outcomes) record(req models.SimulationRequest, res *models.SimulationResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.errs[req.RequestID] = err
		return
	}
	o.results[req.RequestID] = res
}

func TestPool_DrainsQueueAfterClose(t *testing.T) {
	out := newOutcomes()
	pool := NewPool(newTestService(), PoolConfig{Workers: 3, QueueSize: 16, OnDone: out.record})
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		require.NoError(t, pool.Submit(ctx, models.SimulationRequest{RequestID: id, Trials: ptr(200), Seed: ptr(int64(1))}))
	}
	require.NoError(t, pool.Submit(ctx, models.SimulationRequest{RequestID: "bad", Trials: ptr(5)}))
	pool.Close()

	require.NoError(t, pool.Run(ctx))

	assert.Len(t, out.results, len(ids))
	for _, id := range ids {
		require.Contains(t, out.results, id)
		assert.Equal(t, 200, out.results[id].Trials)
	}
	// same seed and terms give the same metrics on every worker
	assert.Equal(t, out.results["a"].Metrics, out.results["e"].Metrics)

	require.Contains(t, out.errs, "bad")
	assert.True(t, errors.Is(out.errs["bad"], apperrors.ErrInvalidConfiguration))
	assert.EqualValues(t, 6, pool.Stats().ProcessedCount)

	assert.True(t, errors.Is(pool.Submit(ctx, models.SimulationRequest{}), backpressure.ErrQueueClosed))
}

func TestPool_StopsOnCancel(t *testing.T) {
	pool := NewPool(newTestService(), PoolConfig{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_RejectStrategy(t *testing.T) {
	pool := NewPool(newTestService(), PoolConfig{QueueSize: 1, Strategy: backpressure.Reject})
	ctx := context.Background()

	require.NoError(t, pool.Submit(ctx, models.SimulationRequest{}))
	err := pool.Submit(ctx, models.SimulationRequest{})
	assert.True(t, errors.Is(err, apperrors.ErrResourceExhausted))
}
