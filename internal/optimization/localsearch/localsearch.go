// Package localsearch maximizes an acquisition function from a starting
// configuration.
package localsearch

import (
	"context"
	"math/rand"

	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

const component = "local_search"

// Result is the outcome of one local search run.
type Result struct {
	// Config is the terminal configuration.
	Config *space.Configuration
	// Trajectory holds the utility of every accepted point, start first.
	// The last element is the utility of Config.
	Trajectory []float64
	// Steps is the number of accepted moves.
	Steps int
	// Converged is false when the run stopped on its step budget.
	Converged bool
}

// Utility returns the final trajectory value.
func (r Result) Utility() float64 {
	if len(r.Trajectory) == 0 {
		return 0
	}
	return r.Trajectory[len(r.Trajectory)-1]
}

// Maximizer climbs the acquisition surface from a start configuration.
//
// A run that exhausts its budget returns its terminal point together with an
// error of kind MaximizerNonconvergence. Any other error means the result is
// unusable.
type Maximizer interface {
	Maximize(ctx context.Context, start *space.Configuration, rng *rand.Rand) (Result, error)
}

// Neighborhood is the part of a search space hill climbing needs.
type Neighborhood interface {
	Neighbors(c *space.Configuration, rng *rand.Rand) []*space.Configuration
	ImputeInactiveValues(vector []float64) []float64
}

func nonconvergence(op string, res Result) error {
	return optimization.NewErrorf(optimization.KindMaximizerNonconvergence,
		"stopped after %d steps without reaching a local optimum", res.Steps).
		WithComponent(component).WithOperation(op)
}
