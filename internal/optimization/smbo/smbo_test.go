package smbo

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/acquisition"
	"github.com/copyleftdev/smbo/internal/optimization/bayesian"
	"github.com/copyleftdev/smbo/internal/optimization/kernels"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

func origins(chs []Challenger) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = ch.Origin
	}
	return out
}

func TestChooseNextInterleaves(t *testing.T) {
	s := unitSpace(t, 2)
	model := &countingSurrogate{}
	acq := &countingAcq{score: quadratic}
	engine, err := New(s, model, acq, 1)
	require.NoError(t, err)

	X, Y := observations(rand.New(rand.NewSource(2)), 10, 2)
	challengers, err := engine.ChooseNext(context.Background(), X, Y)
	require.NoError(t, err)
	defer challengers.Close()

	all, err := challengers.Collect()
	require.NoError(t, err)
	require.Len(t, all, 20)
	assert.Equal(t, 1, model.trains)

	for i, ch := range all {
		require.NotNil(t, ch.Config, "element %d", i)
		assert.Equal(t, 2, ch.Config.Len())
		if i%2 == 0 {
			assert.Equal(t, OriginLocalSearch, ch.Origin, "element %d", i)
		} else {
			assert.Equal(t, OriginRandomSearch, ch.Origin, "element %d", i)
			assert.Equal(t, 0.0, ch.Utility)
		}
	}
}

func TestChooseNextTruncatesToShorterSide(t *testing.T) {
	tests := []struct {
		name          string
		local, random int
		want          int
	}{
		{"fewer local", 3, 5, 6},
		{"fewer random", 5, 2, 4},
		{"no random", 4, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maximizer := &scriptedMaximizer{values: []float64{1}}
			randomItems := make([]Challenger, tt.random)
			for i := range randomItems {
				randomItems[i] = Challenger{Config: space.NewConfiguration(nil, []float64{0}), Origin: OriginRandomSearch}
			}
			engine, err := New(&fixedSampler{values: []float64{0.5}}, &countingSurrogate{}, &countingAcq{}, 1,
				WithMaximizer(maximizer),
				WithExploration(sliceGen{items: randomItems}),
				WithNumLocalSearchPoints(tt.local),
				WithNumRandomSearchPoints(100),
			)
			require.NoError(t, err)

			challengers, err := engine.ChooseNext(context.Background(), [][]float64{{0.1}}, []float64{1})
			require.NoError(t, err)
			all, err := challengers.Collect()
			require.NoError(t, err)
			assert.Len(t, all, tt.want)
			for i, o := range origins(all) {
				if i%2 == 0 {
					assert.Equal(t, OriginLocalSearch, o)
				} else {
					assert.Equal(t, OriginRandomSearch, o)
				}
			}
		})
	}
}

func TestChooseNextDerivedCounts(t *testing.T) {
	engine, err := New(&fixedSampler{values: []float64{0.5}}, &countingSurrogate{}, &countingAcq{}, 1,
		WithMaximizer(&scriptedMaximizer{values: []float64{1}}),
		WithPointsPerObservation(2),
	)
	require.NoError(t, err)

	challengers, err := engine.ChooseNext(context.Background(), [][]float64{{0.1}, {0.2}, {0.3}}, []float64{1, 2, 3})
	require.NoError(t, err)
	all, err := challengers.Collect()
	require.NoError(t, err)
	assert.Len(t, all, 12)
}

func TestChooseNextIsLazy(t *testing.T) {
	maximizer := &scriptedMaximizer{values: []float64{5, 4, 3, 2, 1}}
	engine, err := New(&fixedSampler{values: []float64{0.5}}, &countingSurrogate{}, &countingAcq{}, 1,
		WithMaximizer(maximizer))
	require.NoError(t, err)

	X, Y := observations(rand.New(rand.NewSource(1)), 5, 1)
	challengers, err := engine.ChooseNext(context.Background(), X, Y)
	require.NoError(t, err)
	defer challengers.Close()
	assert.Zero(t, maximizer.calls(), "nothing is produced before the first pull")

	first, err := challengers.Take(2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 1, maximizer.calls())
	assert.Equal(t, 2, challengers.Produced())

	// Replaying the prefix does not run the maximizer again.
	var replay []Challenger
	for i, ch := range challengers.All() {
		replay = append(replay, ch)
		if i == 1 {
			break
		}
	}
	assert.Equal(t, first, replay)
	assert.Equal(t, 1, maximizer.calls())

	ch, ok := challengers.At(2)
	require.True(t, ok)
	assert.Equal(t, 4.0, ch.Utility)
	assert.Equal(t, 2, maximizer.calls())
}

func TestChooseNextUsesIncumbentAndEta(t *testing.T) {
	maximizer := &scriptedMaximizer{values: []float64{1}}
	acq := &countingAcq{}
	engine, err := New(&fixedSampler{values: []float64{0.5}}, &countingSurrogate{}, acq, 1,
		WithMaximizer(maximizer))
	require.NoError(t, err)

	X := [][]float64{{0.1}, {0.2}, {0.3}}
	Y := []float64{3, 0.7, 2}

	challengers, err := engine.ChooseNext(context.Background(), X, Y)
	require.NoError(t, err)
	_, err = challengers.Take(1)
	require.NoError(t, err)
	challengers.Close()
	assert.Equal(t, 0.7, acq.eta)
	assert.Equal(t, 0.5, maximizer.starts[0].At(0))

	incumbent := space.NewConfiguration(nil, []float64{0.2})
	engine.SetIncumbent(incumbent, 0.6)
	got, cost := engine.Incumbent()
	assert.Same(t, incumbent, got)
	assert.Equal(t, 0.6, cost)

	challengers, err = engine.ChooseNext(context.Background(), X, Y)
	require.NoError(t, err)
	_, err = challengers.Take(1)
	require.NoError(t, err)
	challengers.Close()
	assert.Equal(t, 0.6, acq.eta)
	assert.Same(t, incumbent, maximizer.starts[1])
}

func TestChooseNextSubstitutedGenerators(t *testing.T) {
	s := unitSpace(t, 2)
	rng := rand.New(rand.NewSource(4))
	acq := &countingAcq{}
	rs := NewRandomSearch(s, acq, rng, nil)

	engine, err := New(s, &countingSurrogate{}, acq, rng,
		WithExploitation(rs.Slot(true)),
		WithExploration(rs.Slot(false)),
	)
	require.NoError(t, err)

	X, Y := observations(rand.New(rand.NewSource(1)), 4, 2)
	challengers, err := engine.ChooseNext(context.Background(), X, Y)
	require.NoError(t, err)
	all, err := challengers.Collect()
	require.NoError(t, err)
	require.Len(t, all, 8)
	for i, o := range origins(all) {
		if i%2 == 0 {
			assert.Equal(t, OriginRandomSearchSorted, o)
		} else {
			assert.Equal(t, OriginRandomSearch, o)
		}
	}
	assert.Equal(t, 1, acq.calls())
}

func TestChooseNextErrors(t *testing.T) {
	empty, err := space.New(space.Definition{Name: "empty"})
	require.NoError(t, err)

	t.Run("length mismatch", func(t *testing.T) {
		engine, err := New(unitSpace(t, 1), &countingSurrogate{}, &countingAcq{}, 1)
		require.NoError(t, err)
		_, err = engine.ChooseNext(context.Background(), [][]float64{{0.1}, {0.2}}, []float64{1})
		assert.True(t, errors.Is(err, optimization.ErrInvalidInput))
	})

	t.Run("no observations", func(t *testing.T) {
		engine, err := New(unitSpace(t, 1), &countingSurrogate{}, &countingAcq{}, 1)
		require.NoError(t, err)
		_, err = engine.ChooseNext(context.Background(), nil, nil)
		assert.True(t, errors.Is(err, optimization.ErrInvalidInput))
	})

	t.Run("empty space is rejected before training", func(t *testing.T) {
		model := &countingSurrogate{}
		engine, err := New(empty, model, &countingAcq{}, 1)
		require.NoError(t, err)
		_, err = engine.ChooseNext(context.Background(), [][]float64{{}}, []float64{1})
		assert.True(t, errors.Is(err, optimization.ErrInvalidSpace))
		assert.Equal(t, 0, model.trains)
	})

	t.Run("empty space with a gaussian process", func(t *testing.T) {
		gp := bayesian.NewGP(kernels.NewMatern52Kernel(0.5, 1.0), 1e-6)
		engine, err := New(empty, gp, acquisition.NewExpectedImprovement(0.01), 1)
		require.NoError(t, err)
		_, err = engine.ChooseNext(context.Background(), [][]float64{{}, {}}, []float64{1, 2})
		assert.True(t, errors.Is(err, optimization.ErrInvalidSpace))
	})

	t.Run("training failure", func(t *testing.T) {
		model := &countingSurrogate{err: optimization.NewError(optimization.KindInvalidInput, "bad data")}
		engine, err := New(unitSpace(t, 1), model, &countingAcq{}, 1)
		require.NoError(t, err)
		_, err = engine.ChooseNext(context.Background(), [][]float64{{0.1}}, []float64{1})
		assert.True(t, errors.Is(err, optimization.ErrInvalidInput))
	})

	t.Run("maximizer failure surfaces from the sequence", func(t *testing.T) {
		maximizer := &scriptedMaximizer{
			values: []float64{1},
			failAt: map[int]error{1: optimization.NewError(optimization.KindModelNotTrained, "lost model")},
		}
		engine, err := New(&fixedSampler{values: []float64{0.5}}, &countingSurrogate{}, &countingAcq{}, 1,
			WithMaximizer(maximizer))
		require.NoError(t, err)

		challengers, err := engine.ChooseNext(context.Background(), [][]float64{{0.1}, {0.2}, {0.3}}, []float64{1, 2, 3})
		require.NoError(t, err)
		all, err := challengers.Collect()
		require.Error(t, err)
		assert.True(t, errors.Is(err, optimization.ErrModelNotTrained))
		assert.Len(t, all, 2)
		assert.Equal(t, err, challengers.Err())
	})

	t.Run("unknown local search method", func(t *testing.T) {
		_, err := New(unitSpace(t, 1), &countingSurrogate{}, &countingAcq{}, 1, WithLocalSearchMethod("tabu"))
		assert.True(t, errors.Is(err, optimization.ErrInvalidInput))
	})
}

func TestSameSeedSameChallengers(t *testing.T) {
	X, Y := observations(rand.New(rand.NewSource(8)), 8, 2)

	collect := func() []Challenger {
		s := unitSpace(t, 2)
		gp := bayesian.NewGP(kernels.NewMatern52Kernel(0.5, 1.0), 1e-6)
		engine, err := New(s, gp, acquisition.NewExpectedImprovement(0.01), 1234)
		require.NoError(t, err)
		challengers, err := engine.ChooseNext(context.Background(), X, Y)
		require.NoError(t, err)
		all, err := challengers.Collect()
		require.NoError(t, err)
		return all
	}

	a, b := collect(), collect()
	require.Len(t, a, 16)
	require.Len(t, b, 16)
	for i := range a {
		assert.Equal(t, a[i].Origin, b[i].Origin)
		assert.Equal(t, a[i].Utility, b[i].Utility, "element %d", i)
		assert.True(t, a[i].Config.Equal(b[i].Config), "element %d", i)
	}
}

func TestNelderMeadMethod(t *testing.T) {
	s := unitSpace(t, 2)
	acq := &countingAcq{score: quadratic}
	engine, err := New(s, &countingSurrogate{}, acq, 5,
		WithLocalSearchMethod(MethodNelderMead),
		WithMaxSteps(100),
		WithNumLocalSearchPoints(2),
		WithNumRandomSearchPoints(2),
	)
	require.NoError(t, err)

	X, Y := observations(rand.New(rand.NewSource(1)), 3, 2)
	challengers, err := engine.ChooseNext(context.Background(), X, Y)
	require.NoError(t, err)
	all, err := challengers.Collect()
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.InDelta(t, 0.0, all[0].Utility, 1e-2)
}

func TestChallengersClose(t *testing.T) {
	maximizer := &scriptedMaximizer{values: []float64{1}}
	engine, err := New(&fixedSampler{values: []float64{0.5}}, &countingSurrogate{}, &countingAcq{}, 1,
		WithMaximizer(maximizer))
	require.NoError(t, err)

	challengers, err := engine.ChooseNext(context.Background(), [][]float64{{0.1}, {0.2}}, []float64{1, 2})
	require.NoError(t, err)
	_, err = challengers.Take(2)
	require.NoError(t, err)
	challengers.Close()

	all, err := challengers.Collect()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, maximizer.calls())
}

func TestChooseNextSupersedesPreviousSequence(t *testing.T) {
	s := unitSpace(t, 2)
	model := &countingSurrogate{}
	acq := &countingAcq{score: quadratic}
	engine, err := New(s, model, acq, 3,
		WithNumLocalSearchPoints(3),
		WithNumRandomSearchPoints(3),
	)
	require.NoError(t, err)
	X, Y := observations(rand.New(rand.NewSource(4)), 5, 2)

	first, err := engine.ChooseNext(context.Background(), X, Y)
	require.NoError(t, err)
	head, ok := first.At(0)
	require.True(t, ok)
	scoredByFirst := len(acq.scoredVersions())
	require.Positive(t, scoredByFirst)

	second, err := engine.ChooseNext(context.Background(), X, Y)
	require.NoError(t, err)

	rest, err := first.Collect()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSuperseded))
	assert.Equal(t, err, first.Err())
	require.Len(t, rest, 1)
	assert.Same(t, head.Config, rest[0].Config)
	_, ok = first.At(1)
	assert.False(t, ok)

	all, err := second.Collect()
	require.NoError(t, err)
	assert.Len(t, all, 6)

	versions := acq.scoredVersions()
	require.Greater(t, len(versions), scoredByFirst)
	for i, v := range versions {
		if i < scoredByFirst {
			assert.Equal(t, uint64(1), v, "batch %d", i)
		} else {
			assert.Equal(t, uint64(2), v, "batch %d", i)
		}
	}
}

func TestSupersededSequenceDoesNotShiftLaterDraws(t *testing.T) {
	X, Y := observations(rand.New(rand.NewSource(6)), 4, 2)

	run := func(readFirst bool) []Challenger {
		engine, err := New(unitSpace(t, 2), &countingSurrogate{}, &countingAcq{score: quadratic}, 99,
			WithNumLocalSearchPoints(2),
			WithNumRandomSearchPoints(2),
		)
		require.NoError(t, err)

		first, err := engine.ChooseNext(context.Background(), X, Y)
		require.NoError(t, err)
		_, ok := first.At(0)
		require.True(t, ok)

		second, err := engine.ChooseNext(context.Background(), X, Y)
		require.NoError(t, err)
		if readFirst {
			_, _ = first.Collect()
			_, _ = first.Take(4)
		}
		all, err := second.Collect()
		require.NoError(t, err)
		return all
	}

	a, b := run(false), run(true)
	require.Len(t, a, 4)
	require.Len(t, b, 4)
	for i := range a {
		assert.Equal(t, a[i].Origin, b[i].Origin)
		assert.True(t, a[i].Config.Equal(b[i].Config), "element %d", i)
	}
}

func TestChallengersConcurrentReaders(t *testing.T) {
	engine, err := New(unitSpace(t, 2), &countingSurrogate{}, &countingAcq{score: quadratic}, 11,
		WithNumLocalSearchPoints(4),
		WithNumRandomSearchPoints(4),
	)
	require.NoError(t, err)
	X, Y := observations(rand.New(rand.NewSource(3)), 4, 2)

	challengers, err := engine.ChooseNext(context.Background(), X, Y)
	require.NoError(t, err)

	const readers = 8
	got := make([][]Challenger, readers)
	var wg sync.WaitGroup
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; ; i++ {
				ch, ok := challengers.At(i)
				if !ok {
					return
				}
				got[r] = append(got[r], ch)
			}
		}(r)
	}
	wg.Wait()

	want, err := challengers.Collect()
	require.NoError(t, err)
	require.Len(t, want, 8)
	assert.Equal(t, 8, challengers.Produced())
	for r := range got {
		require.Len(t, got[r], len(want), "reader %d", r)
		for i := range want {
			assert.Same(t, want[i].Config, got[r][i].Config, "reader %d element %d", r, i)
		}
	}
}
