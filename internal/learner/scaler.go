package learner

import "math"

// Scaler keeps running mean/variance statistics per feature dimension
// (Welford's algorithm) and standardizes vectors against them.
type Scaler struct {
	Count float64   `json:"count"`
	Mean  []float64 `json:"mean"`
	M2    []float64 `json:"m2"`
}

// NewScaler creates a scaler for vectors of the given dimension
func NewScaler(dim int) *Scaler {
	return &Scaler{
		Mean: make([]float64, dim),
		M2:   make([]float64, dim),
	}
}

// PartialFit folds one observation into the running statistics
func (s *Scaler) PartialFit(x []float64) {
	s.Count++
	for i, v := range x {
		delta := v - s.Mean[i]
		s.Mean[i] += delta / s.Count
		s.M2[i] += delta * (v - s.Mean[i])
	}
}

// Transform standardizes x in place against the running statistics
// and returns it. Dimensions with near-zero variance pass through
// centered only.
func (s *Scaler) Transform(x []float64) []float64 {
	if s.Count < 2 {
		return x
	}
	for i, v := range x {
		variance := s.M2[i] / s.Count
		if variance > 1e-12 {
			x[i] = (v - s.Mean[i]) / math.Sqrt(variance)
		} else {
			x[i] = v - s.Mean[i]
		}
	}
	return x
}
