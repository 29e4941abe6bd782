package localsearch

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/smbo/internal/metrics"
	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

// scoreFunc is an acquisition function backed by a plain function of the
// vector. It counts evaluated rows.
type scoreFunc struct {
	mu    sync.Mutex
	score func([]float64) float64
	rows  int
	calls int
	epoch uint64
	err   error
}

func (f *scoreFunc) Update(optimization.Model, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epoch++
}

func (f *scoreFunc) Epoch() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

func (f *scoreFunc) Evaluate(X [][]float64) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.rows += len(X)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = f.score(x)
	}
	return out, nil
}

func (f *scoreFunc) Name() string { return "score" }

func categoricalSpace(t *testing.T) *space.Space {
	t.Helper()
	s, err := space.New(space.Definition{
		Name:            "letters",
		Hyperparameters: []space.Hyperparameter{space.Categorical("c", "a", "b", "c", "d")},
	})
	require.NoError(t, err)
	return s
}

func integerSpace(t *testing.T) *space.Space {
	t.Helper()
	s, err := space.New(space.Definition{
		Name:            "ints",
		Hyperparameters: []space.Hyperparameter{space.Integer("i", 0, 10)},
	})
	require.NoError(t, err)
	return s
}

func mustConfig(t *testing.T, s *space.Space, values map[string]interface{}) *space.Configuration {
	t.Helper()
	c, err := s.FromValues(values)
	require.NoError(t, err)
	return c
}

func TestHillClimbingReachesOptimum(t *testing.T) {
	s := categoricalSpace(t)
	acq := &scoreFunc{score: func(x []float64) float64 { return x[0] }}
	hc := NewHillClimbing(s, acq)

	start := mustConfig(t, s, map[string]interface{}{"c": "a"})
	res, err := hc.Maximize(context.Background(), start, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, []float64{0, 3}, res.Trajectory)
	assert.Equal(t, 3.0, res.Utility())
	assert.Equal(t, "d", s.Values(res.Config)["c"])
}

func TestHillClimbingBatchesNeighbourhood(t *testing.T) {
	s := categoricalSpace(t)
	acq := &scoreFunc{score: func(x []float64) float64 { return x[0] }}
	hc := NewHillClimbing(s, acq, WithCacheSize(0))

	start := mustConfig(t, s, map[string]interface{}{"c": "a"})
	_, err := hc.Maximize(context.Background(), start, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	// start, neighbours of a, neighbours of d
	assert.Equal(t, 3, acq.calls)
	assert.Equal(t, 7, acq.rows)
}

func TestHillClimbingStepBudget(t *testing.T) {
	s := integerSpace(t)
	acq := &scoreFunc{score: func(x []float64) float64 { return x[0] }}
	hc := NewHillClimbing(s, acq, WithMaxSteps(3))
	assert.Equal(t, 3, hc.MaxSteps())

	start := mustConfig(t, s, map[string]interface{}{"i": 0})
	res, err := hc.Maximize(context.Background(), start, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrMaximizerNonconvergence))

	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.Steps)
	require.Len(t, res.Trajectory, 4)
	assert.Equal(t, 3, s.Values(res.Config)["i"])
	for i := 1; i < len(res.Trajectory); i++ {
		assert.Greater(t, res.Trajectory[i], res.Trajectory[i-1])
	}
}

func TestHillClimbingContinuous(t *testing.T) {
	s, err := space.FromBounds([][2]float64{{0, 1}, {0, 1}})
	require.NoError(t, err)
	acq := &scoreFunc{score: func(x []float64) float64 {
		return -((x[0]-0.3)*(x[0]-0.3) + (x[1]-0.7)*(x[1]-0.7))
	}}
	hc := NewHillClimbing(s, acq, WithMaxSteps(500))

	start := space.NewConfiguration(s, []float64{0.9, 0.1})
	res, err := hc.Maximize(context.Background(), start, rand.New(rand.NewSource(3)))
	if err != nil {
		require.True(t, errors.Is(err, optimization.ErrMaximizerNonconvergence))
	}

	assert.Greater(t, res.Utility(), res.Trajectory[0])
	for i := 1; i < len(res.Trajectory); i++ {
		assert.Greater(t, res.Trajectory[i], res.Trajectory[i-1])
	}
	v := res.Config.Array()
	assert.Less(t, math.Hypot(v[0]-0.3, v[1]-0.7), math.Hypot(0.9-0.3, 0.1-0.7))
}

func TestHillClimbingCache(t *testing.T) {
	s := categoricalSpace(t)
	acq := &scoreFunc{score: func(x []float64) float64 { return x[0] }}
	m := metrics.New(prometheus.NewRegistry())
	hc := NewHillClimbing(s, acq, WithCacheSize(64), WithMetrics(m))
	start := mustConfig(t, s, map[string]interface{}{"c": "a"})
	rng := rand.New(rand.NewSource(1))

	_, err := hc.Maximize(context.Background(), start, rng)
	require.NoError(t, err)
	// a, then b c d, then nothing new around d
	assert.Equal(t, 4, acq.rows)

	_, err = hc.Maximize(context.Background(), start, rng)
	require.NoError(t, err)
	assert.Equal(t, 4, acq.rows, "second run must be served from the cache")
	assert.Greater(t, testutil.ToFloat64(m.CacheHitsTotal), 0.0)

	acq.Update(nil, 0)
	_, err = hc.Maximize(context.Background(), start, rng)
	require.NoError(t, err)
	assert.Equal(t, 8, acq.rows, "a new epoch must invalidate cached values")
}

func TestHillClimbingErrors(t *testing.T) {
	s := categoricalSpace(t)
	start := mustConfig(t, s, map[string]interface{}{"c": "b"})
	rng := rand.New(rand.NewSource(1))

	t.Run("nil start", func(t *testing.T) {
		hc := NewHillClimbing(s, &scoreFunc{score: func([]float64) float64 { return 0 }})
		_, err := hc.Maximize(context.Background(), nil, rng)
		assert.True(t, errors.Is(err, optimization.ErrInvalidInput))
	})

	t.Run("acquisition failure", func(t *testing.T) {
		acq := &scoreFunc{err: optimization.NewError(optimization.KindModelNotTrained, "no model")}
		hc := NewHillClimbing(s, acq)
		_, err := hc.Maximize(context.Background(), start, rng)
		assert.True(t, errors.Is(err, optimization.ErrModelNotTrained))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		hc := NewHillClimbing(s, &scoreFunc{score: func(x []float64) float64 { return x[0] }})
		_, err := hc.Maximize(ctx, start, rng)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNelderMead(t *testing.T) {
	s, err := space.FromBounds([][2]float64{{-5, 5}, {0, 10}})
	require.NoError(t, err)
	acq := &scoreFunc{score: func(x []float64) float64 {
		return -((x[0]-0.3)*(x[0]-0.3) + (x[1]-0.7)*(x[1]-0.7))
	}}

	nm, err := NewNelderMead(s, acq, 400, nil)
	require.NoError(t, err)

	start := space.NewConfiguration(s, []float64{0.5, 0.5})
	res, err := nm.Maximize(context.Background(), start, nil)
	if err != nil {
		require.True(t, errors.Is(err, optimization.ErrMaximizerNonconvergence))
	}

	v := res.Config.Array()
	assert.InDelta(t, 0.3, v[0], 0.05)
	assert.InDelta(t, 0.7, v[1], 0.05)
	assert.InDelta(t, 0.0, res.Utility(), 1e-3)
	for i := 1; i < len(res.Trajectory); i++ {
		assert.Greater(t, res.Trajectory[i], res.Trajectory[i-1])
	}
}

func TestNelderMeadStaysInUnitCube(t *testing.T) {
	s, err := space.FromBounds([][2]float64{{0, 1}})
	require.NoError(t, err)
	// Unbounded ascent towards +inf is clipped at the upper bound.
	acq := &scoreFunc{score: func(x []float64) float64 { return x[0] }}

	nm, err := NewNelderMead(s, acq, 100, nil)
	require.NoError(t, err)

	res, _ := nm.Maximize(context.Background(), space.NewConfiguration(s, []float64{0.2}), nil)
	v := res.Config.Array()[0]
	assert.False(t, math.IsNaN(v))
	assert.LessOrEqual(t, v, 1.0)
	assert.InDelta(t, 1.0, v, 1e-6)
}

func TestNelderMeadRejectsDiscreteSpaces(t *testing.T) {
	_, err := NewNelderMead(categoricalSpace(t), &scoreFunc{}, 0, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrInvalidSpace))
}
