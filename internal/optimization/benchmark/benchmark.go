// Package benchmark provides standard test objectives for the optimizer.
package benchmark

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/copyleftdev/smbo/internal/optimization"
)

// Problem is a named objective with its box bounds and known minimum.
type Problem struct {
	Name      string
	Objective optimization.ObjectiveFunction
	Bounds    [][2]float64
	Minimum   float64
}

// Branin is the two dimensional Branin-Hoo function on [-5, 10] x [0, 15].
// Its global minimum 0.397887 is reached at three points.
func Branin(x []float64) (float64, error) {
	if len(x) != 2 {
		return 0, fmt.Errorf("branin: expected 2 parameters, got %d", len(x))
	}
	const (
		a = 1.0
		r = 6.0
		s = 10.0
	)
	b := 5.1 / (4 * math.Pi * math.Pi)
	c := 5 / math.Pi
	t := 1 / (8 * math.Pi)

	x1, x2 := x[0], x[1]
	v := x2 - b*x1*x1 + c*x1 - r
	return a*v*v + s*(1-t)*math.Cos(x1) + s, nil
}

// Sphere is the sum of squares.
func Sphere(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

// Rosenbrock is the two dimensional Rosenbrock valley.
func Rosenbrock(x []float64) (float64, error) {
	if len(x) != 2 {
		return 0, fmt.Errorf("rosenbrock: expected 2 parameters, got %d", len(x))
	}
	return math.Pow(1-x[0], 2) + 100*math.Pow(x[1]-x[0]*x[0], 2), nil
}

// Get returns a benchmark problem by name. dims is used by sphere only and
// defaults to 2.
func Get(name string, dims int) (Problem, error) {
	switch strings.ToLower(name) {
	case "branin":
		return Problem{
			Name:      "branin",
			Objective: Branin,
			Bounds:    [][2]float64{{-5, 10}, {0, 15}},
			Minimum:   0.397887,
		}, nil
	case "sphere":
		if dims <= 0 {
			dims = 2
		}
		bounds := make([][2]float64, dims)
		for i := range bounds {
			bounds[i] = [2]float64{-5, 5}
		}
		return Problem{Name: "sphere", Objective: Sphere, Bounds: bounds}, nil
	case "rosenbrock":
		return Problem{
			Name:      "rosenbrock",
			Objective: Rosenbrock,
			Bounds:    [][2]float64{{-2, 2}, {-1, 3}},
		}, nil
	}
	return Problem{}, optimization.NewErrorf(optimization.KindInvalidInput,
		"unknown benchmark %q, available: %s", name, strings.Join(Names(), ", ")).
		WithComponent("benchmark").WithOperation("Get")
}

// Names lists the available benchmarks.
func Names() []string {
	names := []string{"branin", "sphere", "rosenbrock"}
	sort.Strings(names)
	return names
}
