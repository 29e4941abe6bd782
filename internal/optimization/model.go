package optimization

// Model is a read-only view of a trained surrogate. Implementations must be
// safe for concurrent Predict calls.
type Model interface {
	// Predict returns the predictive mean and variance of the cost at each
	// row of X.
	Predict(X [][]float64) (mean, variance []float64, err error)

	// Version identifies the fit that produced the model.
	Version() uint64
}
