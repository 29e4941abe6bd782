package localsearch

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/acquisition"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

// DefaultMaxEvaluations bounds the acquisition evaluations of a Nelder-Mead
// run.
const DefaultMaxEvaluations = 200

// NelderMead maximizes the acquisition function with the derivative-free
// Nelder-Mead simplex method. It works on the unit cube and therefore only
// supports spaces whose hyperparameters are all unconditional floats.
type NelderMead struct {
	space          *space.Space
	acq            acquisition.Function
	maxEvaluations int
	simplexSize    float64
	logger         *zap.Logger
}

// NewNelderMead creates a Nelder-Mead maximizer. It fails with
// InvalidSpace when s is not continuous.
func NewNelderMead(s *space.Space, acq acquisition.Function, maxEvaluations int, logger *zap.Logger) (*NelderMead, error) {
	if s == nil || !s.Continuous() {
		return nil, optimization.NewError(optimization.KindInvalidSpace,
			"nelder-mead requires a space of unconditional float hyperparameters").
			WithComponent(component).WithOperation("NewNelderMead")
	}
	if maxEvaluations <= 0 {
		maxEvaluations = DefaultMaxEvaluations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NelderMead{
		space:          s,
		acq:            acq,
		maxEvaluations: maxEvaluations,
		simplexSize:    0.2,
		logger:         logger.Named(component),
	}, nil
}

// ctxRecorder aborts a run once its context is done.
type ctxRecorder struct {
	ctx context.Context
}

func (r ctxRecorder) Init() error { return r.ctx.Err() }

func (r ctxRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}

// Maximize implements Maximizer.
func (nm *NelderMead) Maximize(ctx context.Context, start *space.Configuration, _ *rand.Rand) (Result, error) {
	const op = "NelderMead.Maximize"

	if start == nil {
		return Result{}, optimization.NewError(optimization.KindInvalidInput, "start configuration is nil").
			WithComponent(component).WithOperation(op)
	}

	var (
		bestX   = clampUnit(start.Array())
		bestVal = math.Inf(-1)
		traj    []float64
		evalErr error
	)

	score := func(x []float64) float64 {
		values, err := nm.acq.Evaluate([][]float64{x})
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return math.Inf(1)
		}
		v := values[0]
		if v > bestVal {
			bestVal = v
			bestX = append(bestX[:0], x...)
			traj = append(traj, v)
		}
		return -v
	}

	score(bestX)
	if evalErr != nil {
		return Result{}, evalErr
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return score(clampUnit(x))
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: nm.maxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-8,
			Relative:   1e-8,
			Iterations: 50,
		},
		Recorder: ctxRecorder{ctx: ctx},
	}
	method := &optimize.NelderMead{
		Reflection:  1.0,
		Expansion:   2.0,
		Contraction: 0.5,
		Shrink:      0.5,
		SimplexSize: nm.simplexSize,
	}

	result, err := optimize.Minimize(problem, start.Array(), settings, method)

	res := Result{
		Config:     space.NewConfiguration(nm.space, bestX),
		Trajectory: traj,
		Steps:      len(traj) - 1,
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if evalErr != nil {
		return res, evalErr
	}
	if err != nil {
		nm.logger.Debug("Nelder-Mead stopped with an error", zap.Error(err))
		return res, nonconvergence(op, res)
	}
	switch result.Status {
	case optimize.Success, optimize.FunctionConvergence, optimize.MethodConverge:
		res.Converged = true
		return res, nil
	default:
		return res, nonconvergence(op, res)
	}
}

func clampUnit(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(0, math.Min(1, v))
	}
	return out
}
