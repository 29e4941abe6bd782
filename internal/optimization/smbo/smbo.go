// Package smbo proposes the next configurations of a sequential model-based
// optimization run. ChooseNext retrains the surrogate on the observation
// history and merges local-search and random-search challengers into one
// lazily produced, interleaved sequence.
package smbo

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/smbo/internal/metrics"
	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/acquisition"
	"github.com/copyleftdev/smbo/internal/optimization/localsearch"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

const component = "smbo"

// Local search methods.
const (
	MethodHillClimbing = "hill_climbing"
	MethodNelderMead   = "nelder_mead"
)

// Space samples and imputes configurations.
type Space interface {
	SampleConfiguration(rng *rand.Rand, n int) ([]*space.Configuration, error)
	ImputeInactiveValues(vector []float64) []float64
}

// Surrogate is a regression model of the cost.
type Surrogate interface {
	// Train fits the model on imputed vectors X and costs Y.
	Train(X [][]float64, Y []float64) error
	// Model returns a read-only view of the last fit.
	Model() (optimization.Model, error)
}

// SMBO owns the incumbent and the random source shared by its generators.
type SMBO struct {
	space Space
	model Surrogate
	acq   acquisition.Function
	rng   *rand.Rand

	exploitation Generator
	exploration  Generator

	numLocal             int
	numRandom            int
	pointsPerObservation int

	maximizer         localsearch.Maximizer
	localSearchMethod string
	maxSteps          int
	cacheSize         int
	workers           int

	logger  *zap.Logger
	metrics *metrics.Metrics

	mu            sync.Mutex
	incumbent     *space.Configuration
	incumbentCost float64
	// current is the sequence returned by the last ChooseNext.
	current *Challengers
}

// Option configures an SMBO.
type Option func(*SMBO)

// WithExploitation replaces the local search slot.
func WithExploitation(g Generator) Option {
	return func(s *SMBO) { s.exploitation = g }
}

// WithExploration replaces the random search slot.
func WithExploration(g Generator) Option {
	return func(s *SMBO) { s.exploration = g }
}

// WithMaximizer sets the maximizer of the default local search slot.
func WithMaximizer(m localsearch.Maximizer) Option {
	return func(s *SMBO) { s.maximizer = m }
}

// WithNumLocalSearchPoints sets the number of local search challengers per
// call. Values <= 0 derive it from the number of observations.
func WithNumLocalSearchPoints(n int) Option {
	return func(s *SMBO) { s.numLocal = n }
}

// WithNumRandomSearchPoints sets the number of random challengers per
// call. Values <= 0 derive it from the number of observations.
func WithNumRandomSearchPoints(n int) Option {
	return func(s *SMBO) { s.numRandom = n }
}

// WithPointsPerObservation sets the derived counts to k per observation.
func WithPointsPerObservation(k int) Option {
	return func(s *SMBO) {
		if k > 0 {
			s.pointsPerObservation = k
		}
	}
}

// WithLocalSearchMethod selects the default maximizer: hill_climbing or
// nelder_mead. Nelder-Mead falls back to hill climbing on spaces it cannot
// handle.
func WithLocalSearchMethod(method string) Option {
	return func(s *SMBO) { s.localSearchMethod = strings.ToLower(method) }
}

// WithMaxSteps sets the step budget of the default maximizer.
func WithMaxSteps(n int) Option {
	return func(s *SMBO) { s.maxSteps = n }
}

// WithCacheSize sets the acquisition cache size of hill climbing.
func WithCacheSize(n int) Option {
	return func(s *SMBO) { s.cacheSize = n }
}

// WithWorkers runs local search restarts on n goroutines.
func WithWorkers(n int) Option {
	return func(s *SMBO) { s.workers = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SMBO) {
		if logger != nil {
			s.logger = logger.Named(component)
		}
	}
}

// WithMetrics enables Prometheus recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SMBO) { s.metrics = m }
}

// New creates an orchestrator. seed is nil, an integer or a *rand.Rand;
// other types fail with TypeMismatch before anything is sampled.
func New(s Space, model Surrogate, acq acquisition.Function, seed any, opts ...Option) (*SMBO, error) {
	const op = "New"

	rng, err := ResolveRNG(seed)
	if err != nil {
		return nil, err
	}
	if s == nil || model == nil || acq == nil {
		return nil, optimization.NewError(optimization.KindInvalidInput, "space, model and acquisition function are required").
			WithComponent(component).WithOperation(op)
	}

	o := &SMBO{
		space:                s,
		model:                model,
		acq:                  acq,
		rng:                  rng,
		pointsPerObservation: 1,
		localSearchMethod:    MethodHillClimbing,
		cacheSize:            1024,
		workers:              1,
		logger:               zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.exploitation == nil {
		m, err := o.defaultMaximizer()
		if err != nil {
			return nil, err
		}
		o.exploitation = NewLocalSearchGenerator(s, m, rng, o.workers, o.logger, o.metrics)
	}
	if o.exploration == nil {
		o.exploration = NewRandomSearch(s, acq, rng, o.logger).Slot(false)
	}
	return o, nil
}

func (o *SMBO) defaultMaximizer() (localsearch.Maximizer, error) {
	if o.maximizer != nil {
		return o.maximizer, nil
	}

	if o.localSearchMethod == MethodNelderMead {
		if sp, ok := o.space.(*space.Space); ok && sp.Continuous() {
			return localsearch.NewNelderMead(sp, o.acq, o.maxSteps, o.logger)
		}
		o.logger.Warn("Nelder-Mead needs a continuous space, using hill climbing")
	} else if o.localSearchMethod != MethodHillClimbing && o.localSearchMethod != "" {
		return nil, optimization.NewErrorf(optimization.KindInvalidInput,
			"unknown local search method %q", o.localSearchMethod).
			WithComponent(component).WithOperation("New")
	}

	nb, ok := o.space.(localsearch.Neighborhood)
	if !ok {
		return nil, optimization.NewError(optimization.KindInvalidInput,
			"space has no neighbourhood, set a maximizer explicitly").
			WithComponent(component).WithOperation("New")
	}
	return localsearch.NewHillClimbing(nb, o.acq,
		localsearch.WithMaxSteps(o.maxSteps),
		localsearch.WithCacheSize(o.cacheSize),
		localsearch.WithMetrics(o.metrics),
		localsearch.WithLogger(o.logger),
	), nil
}

// RNG returns the random source resolved at construction.
func (o *SMBO) RNG() *rand.Rand { return o.rng }

// SetIncumbent records the best configuration found so far and its cost.
func (o *SMBO) SetIncumbent(c *space.Configuration, cost float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.incumbent = c
	o.incumbentCost = cost
}

// Incumbent returns the current incumbent, nil when none is known.
func (o *SMBO) Incumbent() (*space.Configuration, float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.incumbent, o.incumbentCost
}

// counts returns the local and random batch sizes for nObs observations.
func (o *SMBO) counts(nObs int) (int, int) {
	derived := nObs * o.pointsPerObservation
	local, random := o.numLocal, o.numRandom
	if local <= 0 {
		local = derived
	}
	if random <= 0 {
		random = derived
	}
	return local, random
}

// ChooseNext trains the surrogate once on (X, Y) and returns the
// challengers: local search, random search, local search, ... Production
// happens as the sequence is consumed and stops when either generator is
// exhausted.
//
// The acquisition function and the random source are shared by every
// sequence of an SMBO, so a new ChooseNext ends the previous sequence with
// ErrSuperseded before retraining. Its produced challengers stay readable.
//
// ChooseNext is not safe for concurrent use on the same SMBO.
func (o *SMBO) ChooseNext(ctx context.Context, X [][]float64, Y []float64) (*Challengers, error) {
	const op = "SMBO.ChooseNext"

	if len(X) != len(Y) {
		return nil, optimization.NewErrorf(optimization.KindInvalidInput,
			"X has %d rows but Y has %d values", len(X), len(Y)).
			WithComponent(component).WithOperation(op)
	}
	if len(X) == 0 {
		return nil, optimization.NewError(optimization.KindInvalidInput, "no observations").
			WithComponent(component).WithOperation(op)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := o.space.SampleConfiguration(o.rng, 0); err != nil {
		return nil, optimization.WrapError(err, "space cannot be sampled").
			WithComponent(component).WithOperation(op)
	}

	o.mu.Lock()
	prev := o.current
	o.current = nil
	o.mu.Unlock()
	if prev != nil {
		prev.supersede()
	}

	rows := make([][]float64, len(X))
	for i, x := range X {
		rows[i] = o.space.ImputeInactiveValues(x)
	}

	start := time.Now()
	err := o.model.Train(rows, Y)
	o.metrics.RecordTrain(time.Since(start), err)
	if err != nil {
		return nil, optimization.WrapError(err, "failed to train surrogate").
			WithComponent(component).WithOperation(op)
	}

	model, err := o.model.Model()
	if err != nil {
		return nil, optimization.WrapError(err, "surrogate has no model after training").
			WithComponent(component).WithOperation(op)
	}

	incumbent, incumbentCost := o.Incumbent()
	eta := incumbentCost
	if incumbent == nil {
		eta = math.Inf(1)
		for _, y := range Y {
			eta = math.Min(eta, y)
		}
	}
	o.acq.Update(model, eta)

	nLocal, nRandom := o.counts(len(X))
	o.logger.Debug("Choosing next challengers",
		zap.Int("observations", len(X)),
		zap.Int("local_search_points", nLocal),
		zap.Int("random_search_points", nRandom),
		zap.Float64("eta", eta),
		zap.Uint64("model_version", model.Version()),
		zap.Bool("incumbent_known", incumbent != nil),
	)

	seq := interleave(
		o.exploitation.Challengers(ctx, nLocal, incumbent),
		o.exploration.Challengers(ctx, nRandom, incumbent),
	)
	c := newChallengers(seq, o.metrics)
	o.mu.Lock()
	o.current = c
	o.mu.Unlock()
	return c, nil
}
