package smbo

import (
	"context"
	"iter"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/localsearch"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

// fixedSampler hands out a fixed list of one-dimensional configurations in
// order, cycling when exhausted.
type fixedSampler struct {
	values  []float64
	next    int
	calls   int
	imputed int
}

func (f *fixedSampler) SampleConfiguration(_ *rand.Rand, n int) ([]*space.Configuration, error) {
	f.calls++
	out := make([]*space.Configuration, n)
	for i := range out {
		out[i] = space.NewConfiguration(nil, []float64{f.values[f.next%len(f.values)]})
		f.next++
	}
	return out, nil
}

func (f *fixedSampler) ImputeInactiveValues(vector []float64) []float64 {
	f.imputed++
	return space.Impute(vector)
}

// stubModel is the model returned by countingSurrogate.
type stubModel struct{ version uint64 }

func (m stubModel) Predict(X [][]float64) ([]float64, []float64, error) {
	return make([]float64, len(X)), make([]float64, len(X)), nil
}

func (m stubModel) Version() uint64 { return m.version }

// countingSurrogate counts Train calls.
type countingSurrogate struct {
	trains int
	lastX  [][]float64
	err    error
}

func (s *countingSurrogate) Train(X [][]float64, _ []float64) error {
	if s.err != nil {
		return s.err
	}
	s.trains++
	s.lastX = X
	return nil
}

func (s *countingSurrogate) Model() (optimization.Model, error) {
	if s.trains == 0 {
		return nil, optimization.NewError(optimization.KindModelNotTrained, "not trained")
	}
	return stubModel{version: uint64(s.trains)}, nil
}

// countingAcq scores a vector by score, or by its first entry when score
// is nil, and records every batch with the model version it was scored
// against.
type countingAcq struct {
	mu       sync.Mutex
	score    func([]float64) float64
	batches  [][][]float64
	versions []uint64
	version  uint64
	updated  bool
	eta      float64
}

func (a *countingAcq) Update(model optimization.Model, eta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updated = true
	a.eta = eta
	a.version = model.Version()
}

func (a *countingAcq) Evaluate(X [][]float64) ([]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.updated {
		return nil, optimization.NewError(optimization.KindModelNotTrained, "no model")
	}
	a.batches = append(a.batches, X)
	a.versions = append(a.versions, a.version)
	out := make([]float64, len(X))
	for i, x := range X {
		if a.score != nil {
			out[i] = a.score(x)
		} else {
			out[i] = x[0]
		}
	}
	return out, nil
}

func (a *countingAcq) Name() string { return "counting" }

func (a *countingAcq) scoredVersions() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.versions...)
}

func (a *countingAcq) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batches)
}

// scriptedMaximizer returns scripted terminal values in call order and
// records its starts.
type scriptedMaximizer struct {
	mu     sync.Mutex
	values []float64
	starts []*space.Configuration
	// failAt makes the given call fail with err; nonconverged marks calls
	// that run out of budget.
	failAt      map[int]error
	nonconverge map[int]bool
}

func (m *scriptedMaximizer) Maximize(_ context.Context, start *space.Configuration, _ *rand.Rand) (localsearch.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := len(m.starts)
	m.starts = append(m.starts, start)

	if err, ok := m.failAt[call]; ok {
		return localsearch.Result{}, err
	}
	v := m.values[call%len(m.values)]
	res := localsearch.Result{
		Config:     space.NewConfiguration(nil, []float64{v}),
		Trajectory: []float64{v - 1, v},
		Steps:      1,
		Converged:  !m.nonconverge[call],
	}
	if m.nonconverge[call] {
		return res, optimization.NewError(optimization.KindMaximizerNonconvergence, "budget exhausted")
	}
	return res, nil
}

func (m *scriptedMaximizer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.starts)
}

// sliceGen replays fixed challengers.
type sliceGen struct {
	items []Challenger
}

func (g sliceGen) Challengers(_ context.Context, n int, _ *space.Configuration) iter.Seq2[Challenger, error] {
	return func(yield func(Challenger, error) bool) {
		for i := 0; i < n && i < len(g.items); i++ {
			if !yield(g.items[i], nil) {
				return
			}
		}
	}
}

func unitSpace(t *testing.T, dims int) *space.Space {
	t.Helper()
	bounds := make([][2]float64, dims)
	for i := range bounds {
		bounds[i] = [2]float64{0, 1}
	}
	s, err := space.FromBounds(bounds)
	require.NoError(t, err)
	return s
}

func observations(rng *rand.Rand, n, dims int) ([][]float64, []float64) {
	X := make([][]float64, n)
	Y := make([]float64, n)
	for i := range X {
		X[i] = make([]float64, dims)
		for j := range X[i] {
			X[i][j] = rng.Float64()
		}
		Y[i] = math.Sin(5*X[i][0]) + X[i][1%dims]
	}
	return X, Y
}

func quadratic(x []float64) float64 {
	sum := 0.0
	for i, v := range x {
		d := v - 0.25*float64(i+1)
		sum += d * d
	}
	return -sum
}
