package smbo

import (
	"context"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/copyleftdev/smbo/internal/metrics"
	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/acquisition"
	"github.com/copyleftdev/smbo/internal/optimization/bayesian"
	"github.com/copyleftdev/smbo/internal/optimization/kernels"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

// Initial designs.
const (
	DesignLatinHypercube = "lhs"
	DesignRandom         = "random"
)

// Optimizer runs the full SMBO loop: it evaluates the default
// configuration and an initial design, then repeatedly asks ChooseNext for
// challengers and evaluates the best one not evaluated yet.
type Optimizer struct {
	// Configuration
	config optimization.OptimizerConfig
	space  *space.Space

	engineOpts    []Option
	acquisition   acquisition.Function
	initialDesign string
	observer      func(optimization.Evaluation)

	logger  *zap.Logger
	metrics *metrics.Metrics

	mu sync.Mutex
	// Best solution found
	bestSolution *optimization.Solution
	// History of evaluations
	history []optimization.Evaluation
	// For cancellation
	cancel context.CancelFunc
}

// OptimizerOption configures an Optimizer.
type OptimizerOption func(*Optimizer)

// WithEngineOptions passes options to the SMBO engine of every run.
func WithEngineOptions(opts ...Option) OptimizerOption {
	return func(o *Optimizer) { o.engineOpts = append(o.engineOpts, opts...) }
}

// WithAcquisition sets the acquisition function. Defaults to EI with
// xi = 0.01.
func WithAcquisition(fn acquisition.Function) OptimizerOption {
	return func(o *Optimizer) { o.acquisition = fn }
}

// WithInitialDesign selects "lhs" (default) or "random".
func WithInitialDesign(design string) OptimizerOption {
	return func(o *Optimizer) { o.initialDesign = strings.ToLower(design) }
}

// WithObserver is called after every evaluation.
func WithObserver(fn func(optimization.Evaluation)) OptimizerOption {
	return func(o *Optimizer) { o.observer = fn }
}

// WithOptimizerLogger sets the logger of the loop and its engine.
func WithOptimizerLogger(logger *zap.Logger) OptimizerOption {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOptimizerMetrics enables Prometheus recording for the loop and its
// engine.
func WithOptimizerMetrics(m *metrics.Metrics) OptimizerOption {
	return func(o *Optimizer) { o.metrics = m }
}

// NewOptimizer creates an optimizer over s. A nil s is built from
// config.Bounds.
func NewOptimizer(s *space.Space, config optimization.OptimizerConfig, opts ...OptimizerOption) (*Optimizer, error) {
	if s == nil {
		if len(config.Bounds) == 0 {
			return nil, optimization.NewError(optimization.KindInvalidSpace, "either a space or bounds are required").
				WithComponent(component).WithOperation("NewOptimizer")
		}
		var err error
		if s, err = space.FromBounds(config.Bounds); err != nil {
			return nil, err
		}
	}
	if config.NInitialPoints < 1 {
		config.NInitialPoints = 10
	}
	if config.MaxIterations < 1 {
		config.MaxIterations = 50
	}

	o := &Optimizer{
		config:        config,
		space:         s,
		initialDesign: DesignLatinHypercube,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.acquisition == nil {
		o.acquisition = acquisition.NewExpectedImprovement(0.01)
	}
	if o.initialDesign != DesignLatinHypercube && o.initialDesign != DesignRandom {
		return nil, optimization.NewErrorf(optimization.KindInvalidInput, "unknown initial design %q", o.initialDesign).
			WithComponent(component).WithOperation("NewOptimizer")
	}
	return o, nil
}

// Space returns the search space.
func (o *Optimizer) Space() *space.Space { return o.space }

// run holds the state of one Optimize call.
type run struct {
	engine    *SMBO
	X         [][]float64
	Y         []float64
	evaluated map[string]bool
	iteration int
}

// Optimize runs the optimization loop. A config with an objective replaces
// the one given at construction.
func (o *Optimizer) Optimize(ctx context.Context, config optimization.OptimizerConfig) (*optimization.OptimizationResult, error) {
	const op = "Optimizer.Optimize"

	if config.Objective != nil {
		if config.NInitialPoints < 1 {
			config.NInitialPoints = o.config.NInitialPoints
		}
		if config.MaxIterations < 1 {
			config.MaxIterations = o.config.MaxIterations
		}
		o.config = config
	}
	if o.config.Objective == nil {
		return nil, optimization.NewError(optimization.KindInvalidInput, "objective function is required").
			WithComponent(component).WithOperation(op)
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.bestSolution = nil
	o.history = make([]optimization.Evaluation, 0, o.config.MaxIterations+o.config.NInitialPoints)
	o.mu.Unlock()
	defer cancel()

	var seed any
	if o.config.RandomSeed != 0 {
		seed = o.config.RandomSeed
	}
	gp := bayesian.NewGP(kernels.NewMatern52Kernel(0.5, 1.0), 1e-6, bayesian.WithLogger(o.logger))
	engineOpts := append([]Option{WithLogger(o.logger), WithMetrics(o.metrics)}, o.engineOpts...)
	engine, err := New(o.space, gp, o.acquisition, seed, engineOpts...)
	if err != nil {
		return nil, err
	}

	r := &run{engine: engine, evaluated: make(map[string]bool)}

	// Initial design, default configuration first
	design, err := o.initialConfigurations(engine)
	if err != nil {
		return nil, err
	}
	for i, c := range design {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		origin := OriginInitialDesign
		if i == 0 {
			origin = OriginDefault
		}
		if err := o.evaluate(r, c, origin); err != nil {
			return nil, err
		}
	}

	// Main optimization loop
	for i := 0; i < o.config.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, origin, err := o.next(ctx, r)
		if err != nil {
			return nil, optimization.WrapErrorf(err, "iteration %d", i).
				WithComponent(component).WithOperation(op)
		}
		if err := o.evaluate(r, next, origin); err != nil {
			return nil, err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return &optimization.OptimizationResult{
		BestSolution: o.bestSolution,
		History:      append([]optimization.Evaluation(nil), o.history...),
		Iterations:   r.iteration,
		Converged:    true,
	}, nil
}

func (o *Optimizer) initialConfigurations(engine *SMBO) ([]*space.Configuration, error) {
	n := o.config.NInitialPoints - 1
	var (
		design []*space.Configuration
		err    error
	)
	if o.initialDesign == DesignRandom {
		design, err = o.space.SampleConfiguration(engine.RNG(), n)
	} else {
		design, err = o.space.LatinHypercube(engine.RNG(), n)
	}
	if err != nil {
		return nil, err
	}
	return append([]*space.Configuration{o.space.Default()}, design...), nil
}

// next picks the first challenger that was not evaluated yet. When every
// produced challenger is a repeat, a fresh random configuration is used.
func (o *Optimizer) next(ctx context.Context, r *run) (*space.Configuration, string, error) {
	challengers, err := r.engine.ChooseNext(ctx, r.X, r.Y)
	if err != nil {
		return nil, "", err
	}
	defer challengers.Close()

	for _, ch := range challengers.All() {
		if !r.evaluated[ch.Config.Key()] {
			return ch.Config, ch.Origin, nil
		}
	}
	if err := challengers.Err(); err != nil {
		return nil, "", err
	}

	o.logger.Debug("All challengers were evaluated before, sampling a random configuration")
	configs, err := o.space.SampleConfiguration(r.engine.RNG(), 1)
	if err != nil {
		return nil, "", err
	}
	return configs[0], OriginRandomSearch, nil
}

// evaluate runs the objective on c and records the observation.
func (o *Optimizer) evaluate(r *run, c *space.Configuration, origin string) error {
	params := o.space.Params(c)
	value, err := o.config.Objective(params)

	eval := optimization.Evaluation{
		Iteration: r.iteration,
		Solution: &optimization.Solution{
			Parameters: params,
			Value:      value,
		},
		Origin: origin,
		Error:  err,
	}
	r.iteration++

	o.mu.Lock()
	o.history = append(o.history, eval)
	o.mu.Unlock()
	if o.observer != nil {
		o.observer(eval)
	}

	if err != nil {
		return optimization.WrapError(err, "error evaluating objective function").
			WithComponent(component).WithOperation("Optimizer.evaluate")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return optimization.NewErrorf(optimization.KindInvalidInput, "objective returned %v", value).
			WithComponent(component).WithOperation("Optimizer.evaluate")
	}

	r.X = append(r.X, c.Array())
	r.Y = append(r.Y, value)
	r.evaluated[c.Key()] = true

	if o.updateBestSolution(params, value) {
		r.engine.SetIncumbent(c, value)
	}

	if o.config.Verbose {
		o.logger.Info("Evaluated configuration",
			zap.Int("iteration", eval.Iteration),
			zap.String("origin", origin),
			zap.Float64("value", value),
			zap.Float64s("parameters", params))
	}
	return nil
}

// updateBestSolution updates the best solution if the new solution is better
func (o *Optimizer) updateBestSolution(params []float64, value float64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bestSolution == nil || value < o.bestSolution.Value {
		o.bestSolution = &optimization.Solution{
			Parameters: append([]float64(nil), params...),
			Value:      value,
		}
		return true
	}
	return false
}

// GetBestSolution returns the best solution found so far
func (o *Optimizer) GetBestSolution() *optimization.Solution {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bestSolution
}

// GetHistory returns the history of evaluations
func (o *Optimizer) GetHistory() []optimization.Evaluation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]optimization.Evaluation(nil), o.history...)
}

// Stop stops the optimization process
func (o *Optimizer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

var _ optimization.Optimizer = (*Optimizer)(nil)
