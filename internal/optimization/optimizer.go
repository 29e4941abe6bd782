package optimization

import (
	"context"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the optimization process
	Optimize(ctx context.Context, config OptimizerConfig) (*OptimizationResult, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns the history of evaluations
	GetHistory() []Evaluation

	// Stop gracefully stops the optimization process
	Stop()
}

// OptimizerConfig contains configuration for the optimizer
type OptimizerConfig struct {
	// Objective function to minimize
	Objective ObjectiveFunction

	// Bounds for each dimension [min, max]. Used to build a continuous
	// search space when the optimizer was not given one.
	Bounds [][2]float64

	// Maximum number of model-based iterations
	MaxIterations int

	// Number of initial design points to evaluate before the model is used
	NInitialPoints int

	// Random seed for reproducibility, 0 means time seeded
	RandomSeed int64

	// Verbose logging
	Verbose bool
}

// ObjectiveFunction returns the cost of a parameter vector. Parameters are
// in the units of the search space; inactive parameters are NaN.
type ObjectiveFunction func([]float64) (float64, error)

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

// Evaluation represents a single evaluation of the objective function
type Evaluation struct {
	Iteration int
	Solution  *Solution
	// Origin names the generator that proposed the evaluated configuration.
	Origin string
	Error  error
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution
	History      []Evaluation
	Iterations   int
	Converged    bool
}
