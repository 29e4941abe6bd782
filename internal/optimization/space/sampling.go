package space

import (
	"fmt"
	"math"
	"math/rand"
)

// SampleConfiguration draws n configurations independently and uniformly.
// Draws may repeat. Forbidden combinations are rejected, with a bounded
// number of attempts per configuration.
func (s *Space) SampleConfiguration(rng *rand.Rand, n int) ([]*Configuration, error) {
	if n < 0 {
		return nil, invalidInput("SampleConfiguration", fmt.Errorf("negative sample count %d", n))
	}
	if len(s.hps) == 0 {
		return nil, invalidSpace("SampleConfiguration", fmt.Errorf("cannot sample %d configurations from an empty space", n))
	}

	out := make([]*Configuration, 0, n)
	for len(out) < n {
		vec, err := s.sampleVector(rng)
		if err != nil {
			return nil, err
		}
		out = append(out, NewConfiguration(s, vec))
	}
	return out, nil
}

func (s *Space) sampleVector(rng *rand.Rand) ([]float64, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		vec := make([]float64, len(s.hps))
		for i, hp := range s.hps {
			if s.active(vec, i) {
				vec[i] = hp.sample(rng)
			} else {
				vec[i] = math.NaN()
			}
		}
		if !s.isForbidden(vec) {
			return vec, nil
		}
	}
	return nil, invalidSpace("SampleConfiguration",
		fmt.Errorf("no admissible configuration after %d attempts", s.maxAttempts))
}

// LatinHypercube returns n configurations stratified along every dimension.
// Rows that land on a forbidden combination are replaced by uniform samples.
func (s *Space) LatinHypercube(rng *rand.Rand, n int) ([]*Configuration, error) {
	if n <= 0 {
		return nil, nil
	}
	if len(s.hps) == 0 {
		return nil, invalidSpace("LatinHypercube", fmt.Errorf("cannot build a design for an empty space"))
	}

	rows := make([][]float64, n)
	for j := range rows {
		rows[j] = make([]float64, len(s.hps))
	}

	for i, hp := range s.hps {
		strata := make([]float64, n)
		for j := 0; j < n; j++ {
			strata[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(a, b int) {
			strata[a], strata[b] = strata[b], strata[a]
		})
		for j := 0; j < n; j++ {
			rows[j][i] = hp.stratum(strata[j])
		}
	}

	out := make([]*Configuration, n)
	for j, vec := range rows {
		s.mask(vec)
		if s.isForbidden(vec) {
			var err error
			if vec, err = s.sampleVector(rng); err != nil {
				return nil, err
			}
		}
		out[j] = NewConfiguration(s, vec)
	}
	return out, nil
}

// Neighbors returns the one-exchange neighbourhood of c: every neighbour
// differs from c in a single active hyperparameter (plus whatever that change
// activates or deactivates). Continuous values are perturbed with Gaussian
// noise on the unit scale, integers step by one and categoricals take every
// other choice. Forbidden neighbours are dropped.
func (s *Space) Neighbors(c *Configuration, rng *rand.Rand) []*Configuration {
	base := c.vector
	var out []*Configuration

	emit := func(i int, v float64) {
		if v == base[i] {
			return
		}
		vec := append([]float64(nil), base...)
		vec[i] = v
		s.repair(vec, i+1)
		if s.isForbidden(vec) {
			return
		}
		out = append(out, NewConfiguration(s, vec))
	}

	for i, hp := range s.hps {
		if math.IsNaN(base[i]) {
			continue
		}
		switch hp.Type {
		case TypeCategorical:
			cur := int(hp.decode(base[i]))
			for k := range hp.Choices {
				if k != cur {
					emit(i, float64(k))
				}
			}
		case TypeInteger:
			cur := hp.decode(base[i])
			for _, step := range []float64{-1, 1} {
				v := cur + step
				if v >= hp.Lower && v <= hp.Upper {
					emit(i, hp.encodeNumber(v))
				}
			}
		default:
			for k := 0; k < s.floatNeighbors; k++ {
				emit(i, clamp(base[i]+rng.NormFloat64()*s.neighborStdDev, 0, 1))
			}
		}
	}
	return out
}

// mask clears entries whose conditions do not hold.
func (s *Space) mask(vec []float64) {
	for i := range s.hps {
		if !s.active(vec, i) {
			vec[i] = math.NaN()
		}
	}
}
