package smbo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/smbo/internal/metrics"
	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/localsearch"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

// LocalSearchGenerator produces challengers from independent local search
// runs. When an incumbent is known the first run starts from it; every
// other run starts from a random configuration.
type LocalSearchGenerator struct {
	space     Space
	maximizer localsearch.Maximizer
	rng       *rand.Rand
	workers   int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewLocalSearchGenerator creates a local search generator. workers > 1
// runs restarts concurrently; the output does not depend on it.
func NewLocalSearchGenerator(s Space, m localsearch.Maximizer, rng *rand.Rand, workers int,
	logger *zap.Logger, mt *metrics.Metrics) *LocalSearchGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSearchGenerator{
		space:     s,
		maximizer: m,
		rng:       rng,
		workers:   workers,
		logger:    logger,
		metrics:   mt,
	}
}

// Generate runs n local searches and returns their terminal points in call
// order.
func (g *LocalSearchGenerator) Generate(ctx context.Context, n int, incumbent *space.Configuration) ([]Challenger, error) {
	out := make([]Challenger, 0, max(n, 0))
	for ch, err := range g.Challengers(ctx, n, incumbent) {
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// restart is the input of one local search run.
type restart struct {
	start *space.Configuration
	rng   *rand.Rand
}

// Challengers implements Generator. Starts and per-run random sources are
// drawn on the first pull; runs then happen one per pull, or all at once
// on the worker pool.
func (g *LocalSearchGenerator) Challengers(ctx context.Context, n int, incumbent *space.Configuration) iter.Seq2[Challenger, error] {
	return func(yield func(Challenger, error) bool) {
		runs, err := g.restarts(n, incumbent)
		if err != nil {
			yield(Challenger{}, err)
			return
		}

		if g.workers > 1 && len(runs) > 1 {
			batch, err := g.runParallel(ctx, runs)
			if err != nil {
				yield(Challenger{}, err)
				return
			}
			for _, ch := range batch {
				if !yield(ch, nil) {
					return
				}
			}
			return
		}

		for i, r := range runs {
			if err := ctx.Err(); err != nil {
				yield(Challenger{}, err)
				return
			}
			ch, err := g.run(ctx, i, r)
			if !yield(ch, err) || err != nil {
				return
			}
		}
	}
}

func (g *LocalSearchGenerator) restarts(n int, incumbent *space.Configuration) ([]restart, error) {
	const op = "LocalSearchGenerator.restarts"

	if n < 0 {
		return nil, optimization.WrapError(fmt.Errorf("cannot produce %d samples", n), "invalid sample count").
			WithKind(optimization.KindInvalidSpace).WithComponent(component).WithOperation(op)
	}
	if n == 0 {
		return nil, nil
	}

	starts := make([]*space.Configuration, 0, n)
	if incumbent != nil {
		starts = append(starts, incumbent)
	}
	sampled, err := g.space.SampleConfiguration(g.rng, n-len(starts))
	if err != nil {
		return nil, optimization.WrapError(err, "failed to sample local search starts").
			WithComponent(component).WithOperation(op)
	}
	starts = append(starts, sampled...)
	if len(starts) != n {
		return nil, optimization.NewErrorf(optimization.KindInvalidSpace,
			"space produced %d of %d local search starts", len(starts), n).
			WithComponent(component).WithOperation(op)
	}

	runs := make([]restart, n)
	for i, s := range starts {
		runs[i] = restart{start: s, rng: child(g.rng)}
	}
	return runs, nil
}

func (g *LocalSearchGenerator) runParallel(ctx context.Context, runs []restart) ([]Challenger, error) {
	out := make([]Challenger, len(runs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, r := range runs {
		eg.Go(func() error {
			ch, err := g.run(egCtx, i, r)
			if err != nil {
				return err
			}
			out[i] = ch
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// run performs one local search. Nonconvergence is absorbed and the
// terminal point is used.
func (g *LocalSearchGenerator) run(ctx context.Context, i int, r restart) (Challenger, error) {
	const op = "LocalSearchGenerator.run"

	res, err := g.maximizer.Maximize(ctx, r.start, r.rng)
	switch {
	case err == nil:
	case errors.Is(err, optimization.ErrMaximizerNonconvergence) && res.Config != nil:
		g.logger.Warn("Local search did not converge, using its terminal point",
			zap.Int("run", i),
			zap.Int("steps", res.Steps),
			zap.Float64("utility", res.Utility()),
			zap.Error(err))
		res.Converged = false
	default:
		return Challenger{}, optimization.WrapErrorf(err, "local search run %d failed", i).
			WithComponent(component).WithOperation(op)
	}
	if res.Config == nil {
		return Challenger{}, optimization.NewErrorf(optimization.KindUnknown,
			"local search run %d returned no configuration", i).
			WithComponent(component).WithOperation(op)
	}

	g.metrics.RecordLocalSearch(res.Steps, res.Converged)
	return Challenger{
		Utility: res.Utility(),
		Config:  res.Config,
		Origin:  OriginLocalSearch,
	}, nil
}
