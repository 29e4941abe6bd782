package space

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	"golang.org/x/exp/constraints"
)

// Type is the kind of a hyperparameter.
type Type string

const (
	// TypeFloat is a continuous hyperparameter in [Lower, Upper].
	TypeFloat Type = "float"
	// TypeInteger is an integer hyperparameter in [Lower, Upper].
	TypeInteger Type = "integer"
	// TypeCategorical picks one of Choices.
	TypeCategorical Type = "categorical"
)

// Hyperparameter describes one dimension of the search space.
//
// Numeric values are encoded in the unit interval (optionally on a log
// scale); categorical values are encoded by choice index.
type Hyperparameter struct {
	Name    string      `yaml:"name" json:"name"`
	Type    Type        `yaml:"type" json:"type"`
	Lower   float64     `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper   float64     `yaml:"upper,omitempty" json:"upper,omitempty"`
	Log     bool        `yaml:"log,omitempty" json:"log,omitempty"`
	Choices []string    `yaml:"choices,omitempty" json:"choices,omitempty"`
	Default interface{} `yaml:"default,omitempty" json:"default,omitempty"`
}

// Float returns a continuous hyperparameter.
func Float(name string, lower, upper float64) Hyperparameter {
	return Hyperparameter{Name: name, Type: TypeFloat, Lower: lower, Upper: upper}
}

// Integer returns an integer hyperparameter.
func Integer(name string, lower, upper int) Hyperparameter {
	return Hyperparameter{Name: name, Type: TypeInteger, Lower: float64(lower), Upper: float64(upper)}
}

// Categorical returns a categorical hyperparameter.
func Categorical(name string, choices ...string) Hyperparameter {
	return Hyperparameter{Name: name, Type: TypeCategorical, Choices: choices}
}

func (h Hyperparameter) validate() error {
	if h.Name == "" {
		return fmt.Errorf("hyperparameter name must not be empty")
	}
	switch h.Type {
	case TypeFloat, TypeInteger:
		if math.IsNaN(h.Lower) || math.IsNaN(h.Upper) || h.Lower > h.Upper {
			return fmt.Errorf("%s: invalid bounds [%v, %v]", h.Name, h.Lower, h.Upper)
		}
		if h.Log && h.Lower <= 0 {
			return fmt.Errorf("%s: log scale needs a positive lower bound, got %v", h.Name, h.Lower)
		}
		if h.Type == TypeInteger && (h.Lower != math.Trunc(h.Lower) || h.Upper != math.Trunc(h.Upper)) {
			return fmt.Errorf("%s: integer bounds must be whole numbers", h.Name)
		}
	case TypeCategorical:
		if len(h.Choices) == 0 {
			return fmt.Errorf("%s: categorical needs at least one choice", h.Name)
		}
		seen := make(map[string]bool, len(h.Choices))
		for _, c := range h.Choices {
			if seen[c] {
				return fmt.Errorf("%s: duplicate choice %q", h.Name, c)
			}
			seen[c] = true
		}
	default:
		return fmt.Errorf("%s: unknown type %q", h.Name, h.Type)
	}
	if h.Default != nil {
		if _, err := h.encode(h.Default); err != nil {
			return fmt.Errorf("%s: invalid default: %w", h.Name, err)
		}
	}
	return nil
}

// encode converts a user value into its vector representation.
func (h Hyperparameter) encode(value interface{}) (float64, error) {
	if h.Type == TypeCategorical {
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprint(value)
		}
		idx := slices.Index(h.Choices, s)
		if idx < 0 {
			return 0, fmt.Errorf("%q is not one of %v", s, h.Choices)
		}
		return float64(idx), nil
	}
	v, ok := toFloat(value)
	if !ok {
		return 0, fmt.Errorf("%v (%T) is not a number", value, value)
	}
	if v < h.Lower || v > h.Upper {
		return 0, fmt.Errorf("%v outside [%v, %v]", v, h.Lower, h.Upper)
	}
	if h.Type == TypeInteger && v != math.Trunc(v) {
		return 0, fmt.Errorf("%v is not an integer", v)
	}
	return h.encodeNumber(v), nil
}

func (h Hyperparameter) encodeNumber(v float64) float64 {
	lo, hi := h.Lower, h.Upper
	if h.Log {
		lo, hi, v = math.Log(lo), math.Log(hi), math.Log(v)
	}
	if hi == lo {
		return 0
	}
	return clamp((v-lo)/(hi-lo), 0, 1)
}

// decode converts a vector entry into user units. Categoricals decode to
// their choice index.
func (h Hyperparameter) decode(u float64) float64 {
	if math.IsNaN(u) {
		return u
	}
	switch h.Type {
	case TypeCategorical:
		return float64(clamp(int(math.Round(u)), 0, len(h.Choices)-1))
	default:
		u = clamp(u, 0, 1)
		var v float64
		if h.Log {
			lo, hi := math.Log(h.Lower), math.Log(h.Upper)
			v = math.Exp(lo + u*(hi-lo))
		} else {
			v = h.Lower + u*(h.Upper-h.Lower)
		}
		if h.Type == TypeInteger {
			v = math.Round(v)
		}
		return clamp(v, h.Lower, h.Upper)
	}
}

// snap moves u onto the representable grid of the hyperparameter.
func (h Hyperparameter) snap(u float64) float64 {
	switch h.Type {
	case TypeFloat:
		return clamp(u, 0, 1)
	case TypeCategorical:
		return h.decode(u)
	default:
		return h.encodeNumber(h.decode(u))
	}
}

func (h Hyperparameter) sample(rng *rand.Rand) float64 {
	switch h.Type {
	case TypeCategorical:
		return float64(rng.Intn(len(h.Choices)))
	case TypeInteger:
		if h.Log {
			return h.snap(rng.Float64())
		}
		lo, hi := int(h.Lower), int(h.Upper)
		return h.encodeNumber(float64(lo + rng.Intn(hi-lo+1)))
	default:
		return rng.Float64()
	}
}

// stratum maps a stratified unit draw onto the hyperparameter's grid.
func (h Hyperparameter) stratum(u float64) float64 {
	if h.Type == TypeCategorical {
		return float64(clamp(int(u*float64(len(h.Choices))), 0, len(h.Choices)-1))
	}
	return h.snap(u)
}

func (h Hyperparameter) defaultValue() float64 {
	if h.Default != nil {
		v, err := h.encode(h.Default)
		if err == nil {
			return v
		}
	}
	if h.Type == TypeCategorical {
		return 0
	}
	return h.snap(0.5)
}

// value converts a vector entry into the value reported to users.
func (h Hyperparameter) value(u float64) interface{} {
	d := h.decode(u)
	switch h.Type {
	case TypeCategorical:
		return h.Choices[int(d)]
	case TypeInteger:
		return int(d)
	default:
		return d
	}
}

func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
