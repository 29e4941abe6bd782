package bayesian

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/kernels"
)

const maxJitterAttempts = 10

// Posterior is an immutable, conditioned Gaussian process. It is safe for
// concurrent use.
type Posterior struct {
	kernel   kernels.Kernel
	noiseVar float64

	// Training inputs (n_samples, n_features)
	X *mat.Dense

	// K^-1 y in standardized units
	alpha *mat.VecDense
	// Cholesky factor of K, nil when the SVD fallback was used
	chol *mat.Cholesky
	// Pseudo-inverse of K for the SVD fallback
	pinv *mat.Dense

	yMean, yStd   float64
	logLikelihood float64
	version       uint64
}

// condition computes the posterior of kernel given standardized targets.
func (gp *GP) condition(kernel kernels.Kernel, X *mat.Dense, y *mat.VecDense) (*Posterior, error) {
	n, _ := X.Dims()
	K := kernelMatrix(kernel, X)

	p := &Posterior{
		kernel:   kernel,
		noiseVar: gp.noiseVar,
		X:        mat.DenseCopyOf(X),
		alpha:    mat.NewVecDense(n, nil),
	}

	jitter := 1e-10
	for attempt := 0; attempt < maxJitterAttempts; attempt++ {
		Kj := mat.NewSymDense(n, nil)
		Kj.CopySym(K)
		for i := 0; i < n; i++ {
			Kj.SetSym(i, i, K.At(i, i)+gp.noiseVar+jitter)
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(Kj); !ok {
			gp.logger.Debug("Cholesky factorization failed, increasing jitter",
				zap.Int("attempt", attempt+1),
				zap.Float64("jitter", jitter))
			jitter *= 10
			continue
		}
		if err := chol.SolveVecTo(p.alpha, y); err != nil {
			jitter *= 10
			continue
		}

		p.chol = &chol
		p.logLikelihood = -0.5*mat.Dot(y, p.alpha) - 0.5*chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)
		return p, nil
	}

	gp.logger.Info("Falling back to SVD after Cholesky attempts failed", zap.Int("samples", n))
	if err := p.conditionSVD(K, y); err != nil {
		return nil, err
	}
	return p, nil
}

// conditionSVD builds the pseudo-inverse of K + noise and uses it for both
// the mean weights and the variance.
func (p *Posterior) conditionSVD(K *mat.SymDense, y *mat.VecDense) error {
	n := y.Len()
	Kn := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			Kn.Set(i, j, K.At(i, j))
		}
		Kn.Set(i, i, K.At(i, i)+p.noiseVar)
	}

	var svd mat.SVD
	if ok := svd.Factorize(Kn, mat.SVDFull); !ok {
		return optimization.WrapError(errors.New("SVD factorization failed"), "gaussian_process: conditionSVD")
	}
	s := svd.Values(nil)
	if len(s) == 0 || s[0] <= 0 {
		return optimization.WrapError(errors.New("matrix is effectively rank zero"), "gaussian_process: conditionSVD")
	}

	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	threshold := float64(n) * s[0] * 1e-15
	inv := make([]float64, len(s))
	logDet := 0.0
	for i, v := range s {
		if v > threshold {
			inv[i] = 1 / v
			logDet += math.Log(v)
		}
	}

	var tmp mat.Dense
	tmp.Mul(&V, mat.NewDiagDense(len(inv), inv))
	p.pinv = mat.NewDense(n, n, nil)
	p.pinv.Mul(&tmp, U.T())
	p.alpha.MulVec(p.pinv, y)
	p.logLikelihood = -0.5*mat.Dot(y, p.alpha) - 0.5*logDet - 0.5*float64(n)*math.Log(2*math.Pi)
	return nil
}

// Predict returns the predictive mean and variance of the latent cost at
// each row of X, in the units of the training targets.
func (p *Posterior) Predict(X [][]float64) ([]float64, []float64, error) {
	const op = "Posterior.Predict"

	nTrain, nFeatures := p.X.Dims()
	nTest := len(X)
	if nTest == 0 {
		return []float64{}, []float64{}, nil
	}

	Kstar := mat.NewDense(nTest, nTrain, nil)
	kss := make([]float64, nTest)
	for i, x := range X {
		if len(x) != nFeatures {
			return nil, nil, optimization.NewErrorf(optimization.KindInvalidInput,
				"row %d has %d features, model was trained on %d", i, len(x), nFeatures).
				WithComponent(component).WithOperation(op)
		}
		kss[i] = p.kernel.Eval(x, x)
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, p.kernel.Eval(x, p.X.RawRowView(j)))
		}
	}

	// W = K^-1 K*^T
	var W mat.Dense
	if p.chol != nil {
		if err := p.chol.SolveTo(&W, Kstar.T()); err != nil {
			return nil, nil, optimization.WrapError(fmt.Errorf("failed to solve linear system: %w", err),
				"gaussian_process: "+op)
		}
	} else {
		W.Mul(p.pinv, Kstar.T())
	}

	var muStd mat.VecDense
	muStd.MulVec(Kstar, p.alpha)

	mean := make([]float64, nTest)
	variance := make([]float64, nTest)
	scale := p.yStd * p.yStd
	for i := 0; i < nTest; i++ {
		mean[i] = muStd.AtVec(i)*p.yStd + p.yMean

		reduction := 0.0
		for j := 0; j < nTrain; j++ {
			reduction += Kstar.At(i, j) * W.At(j, i)
		}
		variance[i] = math.Max(0, kss[i]-reduction) * scale
	}
	return mean, variance, nil
}

// Version identifies the fit that produced the snapshot.
func (p *Posterior) Version() uint64 { return p.version }

// NumSamples returns the number of training rows.
func (p *Posterior) NumSamples() int {
	n, _ := p.X.Dims()
	return n
}

// LogLikelihood returns the log marginal likelihood of the standardized
// targets under the selected kernel.
func (p *Posterior) LogLikelihood() float64 { return p.logLikelihood }

// Hyperparameters returns the kernel hyperparameters of the snapshot.
func (p *Posterior) Hyperparameters() []float64 { return p.kernel.Hyperparameters() }

func kernelMatrix(kernel kernels.Kernel, X *mat.Dense) *mat.SymDense {
	n, _ := X.Dims()
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		xi := X.RawRowView(i)
		for j := i; j < n; j++ {
			K.SetSym(i, j, kernel.Eval(xi, X.RawRowView(j)))
		}
	}
	return K
}
