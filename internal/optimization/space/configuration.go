package space

import (
	"math"
	"strconv"
	"strings"
)

// Configuration is an immutable point of a search space. Its vector holds
// one entry per hyperparameter; inactive entries are NaN.
type Configuration struct {
	vector []float64
	space  *Space
}

// NewConfiguration returns a configuration backed by a copy of vector.
// space may be nil for configurations that are only scored, never decoded.
func NewConfiguration(s *Space, vector []float64) *Configuration {
	return &Configuration{
		vector: append([]float64(nil), vector...),
		space:  s,
	}
}

// Array returns a copy of the configuration's vector.
func (c *Configuration) Array() []float64 {
	return append([]float64(nil), c.vector...)
}

// Len returns the number of dimensions.
func (c *Configuration) Len() int {
	return len(c.vector)
}

// At returns the i-th vector entry.
func (c *Configuration) At(i int) float64 {
	return c.vector[i]
}

// Space returns the space the configuration belongs to, possibly nil.
func (c *Configuration) Space() *Space {
	return c.space
}

// Equal reports whether both configurations have the same vector. Inactive
// (NaN) entries compare equal to each other.
func (c *Configuration) Equal(o *Configuration) bool {
	if c == nil || o == nil {
		return c == o
	}
	if len(c.vector) != len(o.vector) {
		return false
	}
	for i, v := range c.vector {
		w := o.vector[i]
		if math.IsNaN(v) != math.IsNaN(w) {
			return false
		}
		if !math.IsNaN(v) && v != w {
			return false
		}
	}
	return true
}

// Key returns a string identifying the vector, usable as a map key.
func (c *Configuration) Key() string {
	return VectorKey(c.vector)
}

// VectorKey formats a vector as a map key.
func VectorKey(vector []float64) string {
	var b strings.Builder
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		if math.IsNaN(v) {
			b.WriteString("nan")
			continue
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}

// String returns the decoded values when the space is known.
func (c *Configuration) String() string {
	if c.space == nil {
		return "[" + c.Key() + "]"
	}
	var b strings.Builder
	b.WriteString("{")
	first := true
	for i, hp := range c.space.hps {
		if math.IsNaN(c.vector[i]) {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(hp.Name)
		b.WriteString(": ")
		switch v := hp.value(c.vector[i]).(type) {
		case string:
			b.WriteString(v)
		case int:
			b.WriteString(strconv.Itoa(v))
		case float64:
			b.WriteString(strconv.FormatFloat(v, 'g', 6, 64))
		}
	}
	b.WriteString("}")
	return b.String()
}
