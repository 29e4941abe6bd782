package smbo

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"math/rand"
	"slices"

	"go.uber.org/zap"

	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/acquisition"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

// RandomSearch samples challengers independently from the space.
type RandomSearch struct {
	space  Space
	acq    acquisition.Function
	rng    *rand.Rand
	logger *zap.Logger
}

// NewRandomSearch creates a random search generator. acq is only used for
// sorted batches.
func NewRandomSearch(s Space, acq acquisition.Function, rng *rand.Rand, logger *zap.Logger) *RandomSearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RandomSearch{space: s, acq: acq, rng: rng, logger: logger}
}

// Generate samples n configurations. Unsorted batches are returned in
// sampling order with zero utility and no acquisition call. Sorted batches
// are scored in one acquisition call on the imputed vectors and stably
// sorted by utility, best first.
func (rs *RandomSearch) Generate(ctx context.Context, n int, sorted bool) ([]Challenger, error) {
	const op = "RandomSearch.Generate"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	configs, err := rs.sample(op, n)
	if err != nil {
		return nil, err
	}

	if !sorted {
		out := make([]Challenger, len(configs))
		for i, c := range configs {
			out[i] = Challenger{Config: c, Origin: OriginRandomSearch}
		}
		return out, nil
	}

	rows := make([][]float64, len(configs))
	for i, c := range configs {
		rows[i] = rs.space.ImputeInactiveValues(c.Array())
	}
	utilities, err := rs.acq.Evaluate(rows)
	if err != nil {
		return nil, optimization.WrapError(err, "failed to score random configurations").
			WithComponent(component).WithOperation(op)
	}
	if len(utilities) != len(configs) {
		return nil, optimization.NewErrorf(optimization.KindUnknown,
			"acquisition returned %d values for %d configurations", len(utilities), len(configs)).
			WithComponent(component).WithOperation(op)
	}

	out := make([]Challenger, len(configs))
	for i, c := range configs {
		out[i] = Challenger{Utility: utilities[i], Config: c, Origin: OriginRandomSearchSorted}
	}
	slices.SortStableFunc(out, func(a, b Challenger) int {
		return cmp.Compare(b.Utility, a.Utility)
	})

	rs.logger.Debug("Generated sorted random challengers", zap.Int("count", len(out)))
	return out, nil
}

// Seq lazily samples n unsorted challengers, one per pull. It draws the
// same configurations as Generate(ctx, n, false).
func (rs *RandomSearch) Seq(ctx context.Context, n int) iter.Seq2[Challenger, error] {
	const op = "RandomSearch.Seq"
	return func(yield func(Challenger, error) bool) {
		if n < 0 {
			yield(Challenger{}, rs.invalidCount(op, n))
			return
		}
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				yield(Challenger{}, err)
				return
			}
			configs, err := rs.sample(op, 1)
			if err != nil {
				yield(Challenger{}, err)
				return
			}
			if !yield(Challenger{Config: configs[0], Origin: OriginRandomSearch}, nil) {
				return
			}
		}
	}
}

// Slot returns the generator used by the orchestrator: lazy when unsorted,
// scored in a single batch when sorted.
func (rs *RandomSearch) Slot(sorted bool) Generator {
	return randomSlot{rs: rs, sorted: sorted}
}

type randomSlot struct {
	rs     *RandomSearch
	sorted bool
}

func (s randomSlot) Challengers(ctx context.Context, n int, _ *space.Configuration) iter.Seq2[Challenger, error] {
	if !s.sorted {
		return s.rs.Seq(ctx, n)
	}
	return func(yield func(Challenger, error) bool) {
		batch, err := s.rs.Generate(ctx, n, true)
		if err != nil {
			yield(Challenger{}, err)
			return
		}
		for _, ch := range batch {
			if !yield(ch, nil) {
				return
			}
		}
	}
}

func (rs *RandomSearch) sample(op string, n int) ([]*space.Configuration, error) {
	if n < 0 {
		return nil, rs.invalidCount(op, n)
	}
	configs, err := rs.space.SampleConfiguration(rs.rng, n)
	if err != nil {
		return nil, optimization.WrapError(err, "failed to sample configurations").
			WithComponent(component).WithOperation(op)
	}
	if len(configs) != n {
		return nil, optimization.NewErrorf(optimization.KindInvalidSpace,
			"space produced %d of %d configurations", len(configs), n).
			WithComponent(component).WithOperation(op)
	}
	return configs, nil
}

func (rs *RandomSearch) invalidCount(op string, n int) error {
	return optimization.WrapError(fmt.Errorf("cannot produce %d samples", n), "invalid sample count").
		WithKind(optimization.KindInvalidSpace).WithComponent(component).WithOperation(op)
}
