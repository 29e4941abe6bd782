// Package kernels provides stationary covariance functions for the Gaussian
// process surrogate. Both kernels support one length scale per input
// dimension (automatic relevance determination) or a single shared one.
package kernels

import (
	"fmt"
	"math"
)

// Kernel represents a kernel function for Gaussian Processes
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the length scales followed by the signal variance
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters
	SetHyperparameters(params []float64) error

	// Clone returns an independent copy of the kernel
	Clone() Kernel
}

// stationary holds the parameters shared by the kernels in this package.
type stationary struct {
	// One entry shared by all dimensions, or one entry per dimension
	lengthScales []float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

func newStationary(kind string, lengthScales []float64, signalVar float64) stationary {
	if len(lengthScales) == 0 {
		panic(fmt.Sprintf("%s: at least one length scale is required", kind))
	}
	for _, ls := range lengthScales {
		if ls <= 0 {
			panic(fmt.Sprintf("lengthScale must be positive, got %v", ls))
		}
	}
	if signalVar <= 0 {
		panic(fmt.Sprintf("signalVar must be positive, got %v", signalVar))
	}
	return stationary{
		lengthScales: append([]float64(nil), lengthScales...),
		signalVar:    signalVar,
	}
}

// scaledDist2 returns the squared distance after dividing each coordinate
// difference by its length scale.
func (s *stationary) scaledDist2(x1, x2 []float64) float64 {
	sum := 0.0
	shared := len(s.lengthScales) == 1
	for i := range x1 {
		ls := s.lengthScales[0]
		if !shared && i < len(s.lengthScales) {
			ls = s.lengthScales[i]
		}
		d := (x1[i] - x2[i]) / ls
		sum += d * d
	}
	return sum
}

func (s *stationary) hyperparameters() []float64 {
	return append(append([]float64(nil), s.lengthScales...), s.signalVar)
}

func (s *stationary) setHyperparameters(params []float64) error {
	want := len(s.lengthScales) + 1
	if len(params) != want {
		return fmt.Errorf("expected %d hyperparameters, got %d", want, len(params))
	}
	for _, p := range params {
		if p <= 0 {
			return fmt.Errorf("hyperparameters must be positive, got %v", params)
		}
	}
	copy(s.lengthScales, params[:want-1])
	s.signalVar = params[want-1]
	return nil
}

// RBFKernel implements the Radial Basis Function (squared exponential) kernel
type RBFKernel struct {
	stationary
}

// NewRBFKernel creates an RBF kernel with a single shared length scale
func NewRBFKernel(lengthScale, signalVar float64) *RBFKernel {
	return NewARDRBFKernel([]float64{lengthScale}, signalVar)
}

// NewARDRBFKernel creates an RBF kernel with one length scale per dimension
func NewARDRBFKernel(lengthScales []float64, signalVar float64) *RBFKernel {
	return &RBFKernel{newStationary("rbf", lengthScales, signalVar)}
}

// Eval computes k(x1, x2) = s * exp(-r^2 / 2)
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	return k.signalVar * math.Exp(-0.5*k.scaledDist2(x1, x2))
}

// Hyperparameters returns the current hyperparameters
func (k *RBFKernel) Hyperparameters() []float64 { return k.hyperparameters() }

// SetHyperparameters sets the kernel's hyperparameters
func (k *RBFKernel) SetHyperparameters(params []float64) error {
	return k.setHyperparameters(params)
}

// Clone returns an independent copy of the kernel
func (k *RBFKernel) Clone() Kernel {
	return NewARDRBFKernel(k.lengthScales, k.signalVar)
}

// Matern52Kernel implements the Matérn 5/2 kernel
type Matern52Kernel struct {
	stationary
}

// NewMatern52Kernel creates a Matérn 5/2 kernel with a single shared length scale
func NewMatern52Kernel(lengthScale, signalVar float64) *Matern52Kernel {
	return NewARDMatern52Kernel([]float64{lengthScale}, signalVar)
}

// NewARDMatern52Kernel creates a Matérn 5/2 kernel with one length scale per dimension
func NewARDMatern52Kernel(lengthScales []float64, signalVar float64) *Matern52Kernel {
	return &Matern52Kernel{newStationary("matern52", lengthScales, signalVar)}
}

// Eval computes k(x1, x2) = s * (1 + sqrt(5)r + 5r^2/3) * exp(-sqrt(5)r)
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r2 := k.scaledDist2(x1, x2)
	sr := math.Sqrt(5 * r2)
	return k.signalVar * (1 + sr + 5.0/3.0*r2) * math.Exp(-sr)
}

// Hyperparameters returns the current hyperparameters
func (k *Matern52Kernel) Hyperparameters() []float64 { return k.hyperparameters() }

// SetHyperparameters sets the kernel's hyperparameters
func (k *Matern52Kernel) SetHyperparameters(params []float64) error {
	return k.setHyperparameters(params)
}

// Clone returns an independent copy of the kernel
func (k *Matern52Kernel) Clone() Kernel {
	return NewARDMatern52Kernel(k.lengthScales, k.signalVar)
}
