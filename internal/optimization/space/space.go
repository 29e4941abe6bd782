// Package space implements the configuration space used by the optimizer:
// typed hyperparameters, activation conditions, forbidden combinations,
// sampling and neighbourhood generation.
package space

import (
	"fmt"
	"math"

	"github.com/copyleftdev/smbo/internal/optimization"
)

const (
	// ImputeSentinel replaces inactive entries before numeric scoring.
	ImputeSentinel = -1.0

	defaultMaxSamplingAttempts = 1000
	defaultFloatNeighbors      = 4
	defaultNeighborStdDev      = 0.2
	valueTolerance             = 1e-9
)

// Condition activates Child only when Parent is active and holds one of
// Values.
type Condition struct {
	Child  string        `yaml:"child" json:"child"`
	Parent string        `yaml:"parent" json:"parent"`
	Values []interface{} `yaml:"values" json:"values"`
}

// Definition is the serialisable description of a space.
type Definition struct {
	Name            string           `yaml:"name" json:"name"`
	Hyperparameters []Hyperparameter `yaml:"hyperparameters" json:"hyperparameters"`
	Conditions      []Condition      `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	// Forbidden lists combinations that must never be sampled. Each entry is
	// a conjunction of parameter == value clauses.
	Forbidden []map[string]interface{} `yaml:"forbidden,omitempty" json:"forbidden,omitempty"`
}

type condition struct {
	parent int
	values []float64
}

type clause struct {
	param int
	value float64
}

// Space is a compiled, read-only configuration space. It is safe for
// concurrent use; callers supply their own random sources.
type Space struct {
	def       Definition
	hps       []Hyperparameter
	index     map[string]int
	conds     [][]condition
	forbidden [][]clause

	maxAttempts    int
	floatNeighbors int
	neighborStdDev float64
}

// Option configures a Space.
type Option func(*Space)

// WithMaxSamplingAttempts bounds the rejection sampling performed per
// requested configuration when forbidden clauses are present.
func WithMaxSamplingAttempts(n int) Option {
	return func(s *Space) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithNeighborhood sets how many neighbours are drawn per continuous
// hyperparameter and the standard deviation of the unit-scale perturbation.
func WithNeighborhood(floatNeighbors int, stdDev float64) Option {
	return func(s *Space) {
		if floatNeighbors > 0 {
			s.floatNeighbors = floatNeighbors
		}
		if stdDev > 0 {
			s.neighborStdDev = stdDev
		}
	}
}

// New compiles a definition. A definition without hyperparameters is valid
// but cannot be sampled.
func New(def Definition, opts ...Option) (*Space, error) {
	s := &Space{
		def:            def,
		hps:            append([]Hyperparameter(nil), def.Hyperparameters...),
		index:          make(map[string]int, len(def.Hyperparameters)),
		conds:          make([][]condition, len(def.Hyperparameters)),
		maxAttempts:    defaultMaxSamplingAttempts,
		floatNeighbors: defaultFloatNeighbors,
		neighborStdDev: defaultNeighborStdDev,
	}
	for _, opt := range opts {
		opt(s)
	}

	for i, hp := range s.hps {
		if err := hp.validate(); err != nil {
			return nil, invalidSpace("New", err)
		}
		if _, dup := s.index[hp.Name]; dup {
			return nil, invalidSpace("New", fmt.Errorf("duplicate hyperparameter %q", hp.Name))
		}
		s.index[hp.Name] = i
	}

	for _, c := range def.Conditions {
		child, ok := s.index[c.Child]
		if !ok {
			return nil, invalidSpace("New", fmt.Errorf("condition on unknown child %q", c.Child))
		}
		parent, ok := s.index[c.Parent]
		if !ok {
			return nil, invalidSpace("New", fmt.Errorf("condition on unknown parent %q", c.Parent))
		}
		if parent >= child {
			return nil, invalidSpace("New", fmt.Errorf("parent %q must be declared before child %q", c.Parent, c.Child))
		}
		if len(c.Values) == 0 {
			return nil, invalidSpace("New", fmt.Errorf("condition %s <- %s has no values", c.Child, c.Parent))
		}
		cond := condition{parent: parent}
		for _, v := range c.Values {
			enc, err := s.hps[parent].encode(v)
			if err != nil {
				return nil, invalidSpace("New", fmt.Errorf("condition %s <- %s: %w", c.Child, c.Parent, err))
			}
			cond.values = append(cond.values, enc)
		}
		s.conds[child] = append(s.conds[child], cond)
	}

	for _, f := range def.Forbidden {
		if len(f) == 0 {
			continue
		}
		var clauses []clause
		for name, v := range f {
			idx, ok := s.index[name]
			if !ok {
				return nil, invalidSpace("New", fmt.Errorf("forbidden clause on unknown hyperparameter %q", name))
			}
			enc, err := s.hps[idx].encode(v)
			if err != nil {
				return nil, invalidSpace("New", fmt.Errorf("forbidden clause on %s: %w", name, err))
			}
			clauses = append(clauses, clause{param: idx, value: enc})
		}
		s.forbidden = append(s.forbidden, clauses)
	}

	return s, nil
}

// FromBounds builds a continuous space with one float hyperparameter per
// bound, named x0, x1, ...
func FromBounds(bounds [][2]float64) (*Space, error) {
	def := Definition{Name: "bounds"}
	for i, b := range bounds {
		def.Hyperparameters = append(def.Hyperparameters, Float(fmt.Sprintf("x%d", i), b[0], b[1]))
	}
	return New(def)
}

// Name returns the space name.
func (s *Space) Name() string { return s.def.Name }

// Dim returns the number of hyperparameters.
func (s *Space) Dim() int { return len(s.hps) }

// Definition returns the definition the space was compiled from.
func (s *Space) Definition() Definition { return s.def }

// Hyperparameters returns the hyperparameters in vector order.
func (s *Space) Hyperparameters() []Hyperparameter {
	return append([]Hyperparameter(nil), s.hps...)
}

// Index returns the vector position of a hyperparameter.
func (s *Space) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Conditional reports whether any hyperparameter depends on another.
func (s *Space) Conditional() bool {
	for _, c := range s.conds {
		if len(c) > 0 {
			return true
		}
	}
	return false
}

// Continuous reports whether every hyperparameter is an unconditional float.
func (s *Space) Continuous() bool {
	if s.Conditional() {
		return false
	}
	for _, hp := range s.hps {
		if hp.Type != TypeFloat {
			return false
		}
	}
	return true
}

// ImputeInactiveValues returns a copy of vector with inactive (NaN) entries
// replaced by ImputeSentinel.
func (s *Space) ImputeInactiveValues(vector []float64) []float64 {
	return Impute(vector)
}

// Impute replaces NaN entries of a copy of vector with ImputeSentinel.
func Impute(vector []float64) []float64 {
	out := make([]float64, len(vector))
	for i, v := range vector {
		if math.IsNaN(v) {
			v = ImputeSentinel
		}
		out[i] = v
	}
	return out
}

// Values decodes a configuration into user values keyed by name. Inactive
// hyperparameters are omitted.
func (s *Space) Values(c *Configuration) map[string]interface{} {
	out := make(map[string]interface{}, len(s.hps))
	for i, hp := range s.hps {
		if math.IsNaN(c.vector[i]) {
			continue
		}
		out[hp.Name] = hp.value(c.vector[i])
	}
	return out
}

// Params decodes a configuration into user units, in vector order.
// Categoricals decode to their choice index and inactive entries stay NaN.
func (s *Space) Params(c *Configuration) []float64 {
	out := make([]float64, len(s.hps))
	for i, hp := range s.hps {
		out[i] = hp.decode(c.vector[i])
	}
	return out
}

// FromValues encodes user values. Values for inactive hyperparameters are
// ignored; a missing value for an active one is an error.
func (s *Space) FromValues(values map[string]interface{}) (*Configuration, error) {
	for name := range values {
		if _, ok := s.index[name]; !ok {
			return nil, invalidInput("FromValues", fmt.Errorf("unknown hyperparameter %q", name))
		}
	}
	vec := make([]float64, len(s.hps))
	for i, hp := range s.hps {
		if !s.active(vec, i) {
			vec[i] = math.NaN()
			continue
		}
		v, ok := values[hp.Name]
		if !ok {
			return nil, invalidInput("FromValues", fmt.Errorf("missing value for active hyperparameter %q", hp.Name))
		}
		enc, err := hp.encode(v)
		if err != nil {
			return nil, invalidInput("FromValues", fmt.Errorf("%s: %w", hp.Name, err))
		}
		vec[i] = enc
	}
	if s.isForbidden(vec) {
		return nil, invalidInput("FromValues", fmt.Errorf("configuration matches a forbidden clause"))
	}
	return NewConfiguration(s, vec), nil
}

// Default returns the configuration made of every hyperparameter's default.
func (s *Space) Default() *Configuration {
	vec := make([]float64, len(s.hps))
	for i, hp := range s.hps {
		if s.active(vec, i) {
			vec[i] = hp.defaultValue()
		} else {
			vec[i] = math.NaN()
		}
	}
	return NewConfiguration(s, vec)
}

// active reports whether hyperparameter i is active given the entries
// before it.
func (s *Space) active(vec []float64, i int) bool {
	for _, c := range s.conds[i] {
		p := vec[c.parent]
		if math.IsNaN(p) || !containsValue(c.values, p) {
			return false
		}
	}
	return true
}

func (s *Space) isForbidden(vec []float64) bool {
	for _, clauses := range s.forbidden {
		match := true
		for _, c := range clauses {
			v := vec[c.param]
			if math.IsNaN(v) || math.Abs(v-c.value) > valueTolerance {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// repair recomputes activity from position `from` on: entries that became
// inactive are cleared and entries that became active get their default.
func (s *Space) repair(vec []float64, from int) {
	for j := from; j < len(s.hps); j++ {
		switch act := s.active(vec, j); {
		case !act:
			vec[j] = math.NaN()
		case math.IsNaN(vec[j]):
			vec[j] = s.hps[j].defaultValue()
		}
	}
}

func containsValue(values []float64, v float64) bool {
	for _, w := range values {
		if math.Abs(v-w) <= valueTolerance {
			return true
		}
	}
	return false
}

func invalidSpace(op string, err error) error {
	return optimization.WrapError(err, "invalid configuration space").
		WithKind(optimization.KindInvalidSpace).
		WithComponent("space").
		WithOperation(op)
}

func invalidInput(op string, err error) error {
	return optimization.WrapError(err, "invalid configuration").
		WithKind(optimization.KindInvalidInput).
		WithComponent("space").
		WithOperation(op)
}
