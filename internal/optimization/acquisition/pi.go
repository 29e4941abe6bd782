package acquisition

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// ProbabilityOfImprovement scores the probability that a candidate's cost
// falls below eta - xi.
type ProbabilityOfImprovement struct {
	base
	xi float64
}

// NewProbabilityOfImprovement creates a PI acquisition function.
func NewProbabilityOfImprovement(xi float64) *ProbabilityOfImprovement {
	pi := &ProbabilityOfImprovement{xi: xi}
	pi.compute = func(mu, sigma, eta float64) float64 {
		improvement := eta - mu - pi.xi
		if sigma <= 1e-10 {
			if improvement > 0 {
				return 1
			}
			return 0
		}
		return distuv.UnitNormal.CDF(improvement / sigma)
	}
	return pi
}

// Name implements Function.
func (pi *ProbabilityOfImprovement) Name() string { return "PI" }

// LowerConfidenceBound scores candidates by the negated lower confidence
// bound mu - beta*sigma, so optimistic candidates rank first.
type LowerConfidenceBound struct {
	base
	beta float64
}

// NewLowerConfidenceBound creates an LCB acquisition function. A
// non-positive beta selects 2.
func NewLowerConfidenceBound(beta float64) *LowerConfidenceBound {
	if beta <= 0 {
		beta = 2
	}
	lcb := &LowerConfidenceBound{beta: beta}
	lcb.compute = func(mu, sigma, _ float64) float64 {
		return -(mu - lcb.beta*sigma)
	}
	return lcb
}

// Name implements Function.
func (lcb *LowerConfidenceBound) Name() string { return "LCB" }
