// Package bayesian implements the Gaussian process surrogate used to model
// the cost surface. Training produces an immutable posterior snapshot, so
// readers never observe a model that is halfway through a refit.
package bayesian

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/kernels"
)

const component = "gaussian_process"

// defaultLengthScales is the grid searched by marginal likelihood when
// length scale selection is enabled. Inputs live in the unit cube.
var defaultLengthScales = []float64{0.05, 0.1, 0.2, 0.35, 0.5, 0.75, 1.0, 2.0}

// GP implements a Gaussian Process model for Bayesian Optimization
type GP struct {
	// Kernel template; every fit works on a clone
	kernel kernels.Kernel

	// Noise variance
	noiseVar float64

	// Candidate shared length scales, nil disables the search
	lengthScales []float64

	// Current posterior, nil until the first successful fit
	posterior atomic.Pointer[Posterior]
	version   atomic.Uint64

	// Logger for structured logging
	logger *zap.Logger
}

// Option configures a GP.
type Option func(*GP)

// WithLogger sets the logger used by the model.
func WithLogger(logger *zap.Logger) Option {
	return func(gp *GP) {
		if logger != nil {
			gp.logger = logger.Named(component)
		}
	}
}

// WithLengthScaleGrid enables marginal likelihood selection of a shared
// length scale among the given candidates. An empty grid disables it.
func WithLengthScaleGrid(grid ...float64) Option {
	return func(gp *GP) {
		gp.lengthScales = append([]float64(nil), grid...)
	}
}

// NewGP creates a new Gaussian Process model
func NewGP(kernel kernels.Kernel, noiseVar float64, opts ...Option) *GP {
	gp := &GP{
		kernel:       kernel,
		noiseVar:     noiseVar,
		lengthScales: defaultLengthScales,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(gp)
	}
	return gp
}

// Train fits the model on observation rows X and costs Y.
func (gp *GP) Train(X [][]float64, Y []float64) error {
	const op = "GP.Train"

	if len(X) != len(Y) {
		return optimization.NewErrorf(optimization.KindInvalidInput,
			"dimension mismatch: X has %d rows but Y has length %d", len(X), len(Y)).
			WithComponent(component).WithOperation(op)
	}
	if len(X) == 0 || len(X[0]) == 0 {
		return optimization.NewError(optimization.KindInvalidInput, "input matrix X must not be empty").
			WithComponent(component).WithOperation(op)
	}

	nFeatures := len(X[0])
	Xm := mat.NewDense(len(X), nFeatures, nil)
	for i, row := range X {
		if len(row) != nFeatures {
			return optimization.NewErrorf(optimization.KindInvalidInput,
				"row %d has %d features, expected %d", i, len(row), nFeatures).
				WithComponent(component).WithOperation(op)
		}
		Xm.SetRow(i, row)
	}
	return gp.Fit(Xm, mat.NewVecDense(len(Y), append([]float64(nil), Y...)))
}

// Fit fits the GP model to the training data
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return optimization.WrapError(errors.New("input matrices must not be nil"), "gaussian_process: "+op).
			WithKind(optimization.KindInvalidInput)
	}

	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return optimization.WrapError(errors.New("input matrix X must not be empty"), "gaussian_process: "+op).
			WithKind(optimization.KindInvalidInput)
	}
	if nSamples != y.Len() {
		err := fmt.Errorf("dimension mismatch: X has %d samples but y has length %d", nSamples, y.Len())
		return optimization.WrapError(err, "gaussian_process: "+op).WithKind(optimization.KindInvalidInput)
	}
	for i := 0; i < nSamples; i++ {
		if v := y.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			err := fmt.Errorf("target %d is not finite: %v", i, v)
			return optimization.WrapError(err, "gaussian_process: "+op).WithKind(optimization.KindInvalidInput)
		}
	}

	gp.logger.Debug("Fitting GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar),
	)

	yMean, yStd := standardize(y)
	ys := mat.NewVecDense(nSamples, nil)
	for i := 0; i < nSamples; i++ {
		ys.SetVec(i, (y.AtVec(i)-yMean)/yStd)
	}

	var best *Posterior
	for _, kernel := range gp.candidateKernels() {
		p, err := gp.condition(kernel, X, ys)
		if err != nil {
			gp.logger.Debug("Skipping kernel candidate", zap.Error(err),
				zap.Float64s("hyperparameters", kernel.Hyperparameters()))
			continue
		}
		if best == nil || p.logLikelihood > best.logLikelihood {
			best = p
		}
	}
	if best == nil {
		return optimization.WrapError(errors.New("no kernel candidate produced a usable posterior"),
			"gaussian_process: "+op)
	}

	best.yMean = yMean
	best.yStd = yStd
	best.version = gp.version.Add(1)
	gp.posterior.Store(best)

	gp.logger.Debug("Successfully fitted GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64s("hyperparameters", best.kernel.Hyperparameters()),
		zap.Float64("log_likelihood", best.logLikelihood),
		zap.Uint64("version", best.version),
	)
	return nil
}

func (gp *GP) candidateKernels() []kernels.Kernel {
	if len(gp.lengthScales) == 0 {
		return []kernels.Kernel{gp.kernel.Clone()}
	}
	base := gp.kernel.Hyperparameters()
	out := make([]kernels.Kernel, 0, len(gp.lengthScales))
	for _, ls := range gp.lengthScales {
		params := append([]float64(nil), base...)
		for i := 0; i < len(params)-1; i++ {
			params[i] = ls
		}
		k := gp.kernel.Clone()
		if err := k.SetHyperparameters(params); err != nil {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Trained reports whether at least one fit succeeded.
func (gp *GP) Trained() bool {
	return gp.posterior.Load() != nil
}

// Version returns the number of successful fits.
func (gp *GP) Version() uint64 {
	return gp.version.Load()
}

// Snapshot returns the current posterior, or a ModelNotTrained error.
func (gp *GP) Snapshot() (*Posterior, error) {
	p := gp.posterior.Load()
	if p == nil {
		return nil, optimization.NewError(optimization.KindModelNotTrained, "model not trained or no training data").
			WithComponent(component).WithOperation("GP.Snapshot")
	}
	return p, nil
}

// Predict returns the posterior mean and variance at the given rows using
// the current snapshot.
func (gp *GP) Predict(X [][]float64) ([]float64, []float64, error) {
	p, err := gp.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	return p.Predict(X)
}

// standardize returns the mean and standard deviation of y, with a unit
// deviation for constant targets.
func standardize(y *mat.VecDense) (float64, float64) {
	n := y.Len()
	mean := 0.0
	for i := 0; i < n; i++ {
		mean += y.AtVec(i)
	}
	mean /= float64(n)

	ss := 0.0
	for i := 0; i < n; i++ {
		d := y.AtVec(i) - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(n))
	if std < 1e-12 {
		std = 1
	}
	return mean, std
}

// Model returns the current posterior as a read-only model.
func (gp *GP) Model() (optimization.Model, error) {
	p, err := gp.Snapshot()
	if err != nil {
		return nil, err
	}
	return p, nil
}
