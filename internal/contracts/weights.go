package contracts

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// WeightTolerance is the allowed drift of Σw from 1
const WeightTolerance = 1e-6

// WeightVector is the final allocation; codes match the universe exactly, zero weights kept.
type WeightVector struct {
	vec AssetVector
}

// NewWeightVector wraps codes and weights. Invariants are checked by Check, not here,
// so intermediate vectors can be built before normalization.
func NewWeightVector(codes []string, weights []float64) (WeightVector, error) {
	v, err := NewAssetVector(codes, weights)
	if err != nil {
		return WeightVector{}, err
	}
	return WeightVector{vec: v}, nil
}

// Len returns the universe size
func (w WeightVector) Len() int {
	return w.vec.Len()
}

// Codes returns the universe in order
func (w WeightVector) Codes() []string {
	return w.vec.Codes()
}

// Weights returns the weights in universe order
func (w WeightVector) Weights() []float64 {
	return w.vec.Values()
}

// Get returns the weight for a code
func (w WeightVector) Get(code string) (float64, bool) {
	return w.vec.Get(code)
}

// At returns the code and weight at position i
func (w WeightVector) At(i int) (string, float64) {
	return w.vec.At(i)
}

// Vector exposes the underlying AssetVector
func (w WeightVector) Vector() AssetVector {
	return w.vec
}

// Map returns weights keyed by code
func (w WeightVector) Map() map[string]float64 {
	return w.vec.Map()
}

// Sum returns Σw
func (w WeightVector) Sum() float64 {
	total := 0.0
	for _, x := range w.vec.values {
		total += x
	}
	return total
}

// NonZero counts positions with |w| > tol
func (w WeightVector) NonZero(tol float64) int {
	n := 0
	for _, x := range w.vec.values {
		if math.Abs(x) > tol {
			n++
		}
	}
	return n
}

// Holding is one (code, weight) pair
type Holding struct {
	Code   string  `json:"code"`
	Weight float64 `json:"weight"`
}

// TopHoldings returns the n largest positions by weight (ties keep universe order).
// n <= 0 returns every holding.
func (w WeightVector) TopHoldings(n int) []Holding {
	out := make([]Holding, w.vec.Len())
	for i := range out {
		code, weight := w.vec.At(i)
		out[i] = Holding{Code: code, Weight: weight}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Weight > out[j].Weight
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Check verifies every allocation invariant for the given constraints.
func (w WeightVector) Check(spec ConstraintSpec) error {
	if w.vec.Len() == 0 {
		return fmt.Errorf("%w: empty weight vector", ErrInsufficientData)
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: weights sum to %.8f", ErrConstraintInfeasible, sum)
	}

	for i, x := range w.vec.values {
		code := w.vec.codes[i]
		if !spec.AllowShort && x < -WeightTolerance {
			return fmt.Errorf("%w: negative weight %.6f for %s", ErrConstraintInfeasible, x, code)
		}
		if spec.MaxWeight != nil && x > *spec.MaxWeight+WeightTolerance {
			return fmt.Errorf("%w: weight %.6f for %s exceeds max %.6f",
				ErrConstraintInfeasible, x, code, *spec.MaxWeight)
		}
		if spec.MinWeight != nil && x > WeightTolerance && x < *spec.MinWeight-WeightTolerance {
			return fmt.Errorf("%w: weight %.6f for %s below min %.6f",
				ErrConstraintInfeasible, x, code, *spec.MinWeight)
		}
	}
	return nil
}

// MarshalJSON writes weights as holdings in universe order
func (w WeightVector) MarshalJSON() ([]byte, error) {
	out := make([]Holding, w.vec.Len())
	for i := range out {
		code, weight := w.vec.At(i)
		out[i] = Holding{Code: code, Weight: weight}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the holdings form written by MarshalJSON
func (w *WeightVector) UnmarshalJSON(data []byte) error {
	var holdings []Holding
	if err := json.Unmarshal(data, &holdings); err != nil {
		return err
	}
	codes := make([]string, len(holdings))
	weights := make([]float64, len(holdings))
	for i, h := range holdings {
		codes[i] = h.Code
		weights[i] = h.Weight
	}
	parsed, err := NewWeightVector(codes, weights)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
