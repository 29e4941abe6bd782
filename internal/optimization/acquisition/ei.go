package acquisition

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// ExpectedImprovement implements the Expected Improvement acquisition function
type ExpectedImprovement struct {
	base
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
}

// NewExpectedImprovement creates a new ExpectedImprovement acquisition function
func NewExpectedImprovement(xi float64) *ExpectedImprovement {
	ei := &ExpectedImprovement{xi: xi}
	ei.compute = ei.expected
	return ei
}

// Name implements Function.
func (ei *ExpectedImprovement) Name() string { return "EI" }

// Xi returns the exploration parameter.
func (ei *ExpectedImprovement) Xi() float64 { return ei.xi }

// expected is the Expected Improvement of a prediction with mean mu and
// standard deviation sigma over the reference cost eta.
func (ei *ExpectedImprovement) expected(mu, sigma, eta float64) float64 {
	improvement := eta - mu - ei.xi

	// Certain prediction
	if sigma <= 1e-10 {
		if improvement > 0 {
			return improvement
		}
		return 0
	}

	z := improvement / sigma
	v := improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
	if v < 0 {
		return 0
	}
	return v
}
