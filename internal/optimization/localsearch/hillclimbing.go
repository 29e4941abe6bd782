package localsearch

import (
	"context"
	"math/rand"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/copyleftdev/smbo/internal/metrics"
	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/acquisition"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

// DefaultMaxSteps bounds the number of moves of a hill climbing run.
const DefaultMaxSteps = 50

// epocher is implemented by acquisition functions that count updates.
type epocher interface {
	Epoch() uint64
}

type cacheKey struct {
	epoch  uint64
	vector string
}

// HillClimbing is a steepest ascent local search over the one-exchange
// neighbourhood. Each step scores the whole neighbourhood in one batch and
// moves to the best strictly improving neighbour.
type HillClimbing struct {
	space    Neighborhood
	acq      acquisition.Function
	maxSteps int

	cache   *lru.Cache[cacheKey, float64]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a HillClimbing.
type Option func(*HillClimbing)

// WithMaxSteps sets the step budget. Non-positive values keep the default.
func WithMaxSteps(n int) Option {
	return func(h *HillClimbing) {
		if n > 0 {
			h.maxSteps = n
		}
	}
}

// WithCacheSize memoises acquisition values for up to size vectors. The
// cache is only used with acquisition functions that expose an update epoch.
func WithCacheSize(size int) Option {
	return func(h *HillClimbing) {
		if size <= 0 {
			h.cache = nil
			return
		}
		cache, err := lru.New[cacheKey, float64](size)
		if err == nil {
			h.cache = cache
		}
	}
}

// WithMetrics records cache lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *HillClimbing) {
		h.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *HillClimbing) {
		if logger != nil {
			h.logger = logger.Named(component)
		}
	}
}

// NewHillClimbing creates a hill climbing maximizer of acq over s.
func NewHillClimbing(s Neighborhood, acq acquisition.Function, opts ...Option) *HillClimbing {
	h := &HillClimbing{
		space:    s,
		acq:      acq,
		maxSteps: DefaultMaxSteps,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MaxSteps returns the step budget.
func (h *HillClimbing) MaxSteps() int { return h.maxSteps }

// Maximize implements Maximizer.
func (h *HillClimbing) Maximize(ctx context.Context, start *space.Configuration, rng *rand.Rand) (Result, error) {
	const op = "HillClimbing.Maximize"

	if start == nil {
		return Result{}, optimization.NewError(optimization.KindInvalidInput, "start configuration is nil").
			WithComponent(component).WithOperation(op)
	}

	values, err := h.evaluate([]*space.Configuration{start})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Config:     start,
		Trajectory: []float64{values[0]},
	}
	current := values[0]

	for res.Steps < h.maxSteps {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		neighbors := h.space.Neighbors(res.Config, rng)
		if len(neighbors) == 0 {
			res.Converged = true
			return res, nil
		}

		values, err := h.evaluate(neighbors)
		if err != nil {
			return res, err
		}

		best := -1
		for i, v := range values {
			if v > current && (best < 0 || v > values[best]) {
				best = i
			}
		}
		if best < 0 {
			res.Converged = true
			return res, nil
		}

		current = values[best]
		res.Config = neighbors[best]
		res.Trajectory = append(res.Trajectory, current)
		res.Steps++
	}

	h.logger.Debug("Hill climbing exhausted its step budget",
		zap.Int("max_steps", h.maxSteps),
		zap.Float64("utility", current))
	return res, nonconvergence(op, res)
}

// evaluate scores configurations in one acquisition call, serving repeated
// vectors from the cache.
func (h *HillClimbing) evaluate(configs []*space.Configuration) ([]float64, error) {
	out := make([]float64, len(configs))

	ep, ok := h.acq.(epocher)
	if h.cache == nil || !ok {
		rows := make([][]float64, len(configs))
		for i, c := range configs {
			rows[i] = h.space.ImputeInactiveValues(c.Array())
		}
		values, err := h.acq.Evaluate(rows)
		if err != nil {
			return nil, err
		}
		copy(out, values)
		return out, nil
	}

	epoch := ep.Epoch()
	var (
		missIdx  []int
		missRows [][]float64
	)
	for i, c := range configs {
		row := h.space.ImputeInactiveValues(c.Array())
		if v, ok := h.cache.Get(cacheKey{epoch, space.VectorKey(row)}); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missRows = append(missRows, row)
	}
	h.metrics.RecordCache(len(configs)-len(missIdx), len(missIdx))
	if len(missRows) == 0 {
		return out, nil
	}

	values, err := h.acq.Evaluate(missRows)
	if err != nil {
		return nil, err
	}
	for k, i := range missIdx {
		out[i] = values[k]
		h.cache.Add(cacheKey{epoch, space.VectorKey(missRows[k])}, values[k])
	}
	return out, nil
}
