// Package acquisition scores candidate vectors against a trained surrogate.
// All functions follow the same convention: higher utility is better, and
// costs are minimized.
package acquisition

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/copyleftdev/smbo/internal/optimization"
)

const component = "acquisition"

// Function is an acquisition function over a surrogate model.
type Function interface {
	// Update sets the model to score against and the reference cost eta,
	// normally the incumbent's cost.
	Update(model optimization.Model, eta float64)

	// Evaluate returns one utility per row of X in a single model call.
	Evaluate(X [][]float64) ([]float64, error)

	// Name returns the short name of the function.
	Name() string
}

// pointwise computes the utility of a single prediction.
type pointwise func(mu, sigma, eta float64) float64

// base holds the state shared by all acquisition functions.
type base struct {
	mu      sync.RWMutex
	model   optimization.Model
	eta     float64
	epoch   uint64
	compute pointwise
}

// Update implements Function.
func (b *base) Update(model optimization.Model, eta float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
	b.eta = eta
	b.epoch++
}

// Epoch increments on every Update. Callers caching utilities use it to
// detect a new model or reference value.
func (b *base) Epoch() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.epoch
}

// Eta returns the reference cost of the last Update.
func (b *base) Eta() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.eta
}

// Evaluate implements Function.
func (b *base) Evaluate(X [][]float64) ([]float64, error) {
	b.mu.RLock()
	model, eta := b.model, b.eta
	b.mu.RUnlock()

	if model == nil {
		return nil, optimization.NewError(optimization.KindModelNotTrained,
			"acquisition function has no model, call Update after training").
			WithComponent(component).WithOperation("Evaluate")
	}
	if len(X) == 0 {
		return []float64{}, nil
	}

	mean, variance, err := model.Predict(X)
	if err != nil {
		return nil, optimization.WrapError(err, "failed to predict candidates").
			WithComponent(component).WithOperation("Evaluate")
	}

	out := make([]float64, len(X))
	for i := range out {
		out[i] = b.compute(mean[i], math.Sqrt(math.Max(variance[i], 0)), eta)
	}
	return out, nil
}

// New returns the acquisition function with the given name: "ei", "pi" or
// "lcb". The parameter is xi for EI and PI and beta for LCB.
func New(name string, param float64) (Function, error) {
	switch strings.ToLower(name) {
	case "", "ei":
		return NewExpectedImprovement(param), nil
	case "pi":
		return NewProbabilityOfImprovement(param), nil
	case "lcb":
		return NewLowerConfidenceBound(param), nil
	default:
		return nil, optimization.NewError(optimization.KindInvalidInput,
			fmt.Sprintf("unknown acquisition function %q", name)).
			WithComponent(component).WithOperation("New")
	}
}
