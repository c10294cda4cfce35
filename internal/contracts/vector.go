package contracts

import (
	"encoding/json"
	"fmt"
	"math"
)

// AssetVector is an ordered mapping from asset code to a real value
// ⭐ SSOT: 병렬 배열 대신 코드-값 순서쌍으로만 전달 (길이/순서 검증 포함)
type AssetVector struct {
	codes  []string
	values []float64
	index  map[string]int
}

// NewAssetVector validates and copies codes/values into a new vector.
// Codes must be non-empty and unique, values finite, and both slices equally long.
func NewAssetVector(codes []string, values []float64) (AssetVector, error) {
	if len(codes) != len(values) {
		return AssetVector{}, fmt.Errorf("%w: %d codes, %d values", ErrAlignment, len(codes), len(values))
	}

	v := AssetVector{
		codes:  make([]string, len(codes)),
		values: make([]float64, len(values)),
		index:  make(map[string]int, len(codes)),
	}
	copy(v.codes, codes)
	copy(v.values, values)

	for i, code := range v.codes {
		if code == "" {
			return AssetVector{}, fmt.Errorf("%w: empty asset code at position %d", ErrAlignment, i)
		}
		if _, dup := v.index[code]; dup {
			return AssetVector{}, fmt.Errorf("%w: duplicate asset code %s", ErrAlignment, code)
		}
		if math.IsNaN(v.values[i]) || math.IsInf(v.values[i], 0) {
			return AssetVector{}, fmt.Errorf("%w: non-finite value for %s", ErrDegenerateInput, code)
		}
		v.index[code] = i
	}

	return v, nil
}

// MustAssetVector is NewAssetVector for literals known to be valid (tests, examples).
func MustAssetVector(codes []string, values []float64) AssetVector {
	v, err := NewAssetVector(codes, values)
	if err != nil {
		panic(err)
	}
	return v
}

// AssetVectorFromMap builds a vector in the order given by codes.
func AssetVectorFromMap(codes []string, m map[string]float64) (AssetVector, error) {
	values := make([]float64, len(codes))
	for i, code := range codes {
		val, ok := m[code]
		if !ok {
			return AssetVector{}, fmt.Errorf("%w: missing value for %s", ErrAlignment, code)
		}
		values[i] = val
	}
	if len(m) != len(codes) {
		return AssetVector{}, fmt.Errorf("%w: %d values for %d codes", ErrAlignment, len(m), len(codes))
	}
	return NewAssetVector(codes, values)
}

// Len returns the number of assets
func (v AssetVector) Len() int {
	return len(v.codes)
}

// Codes returns a copy of the asset codes in order
func (v AssetVector) Codes() []string {
	out := make([]string, len(v.codes))
	copy(out, v.codes)
	return out
}

// Values returns a copy of the values in order
func (v AssetVector) Values() []float64 {
	out := make([]float64, len(v.values))
	copy(out, v.values)
	return out
}

// At returns the code and value at position i
func (v AssetVector) At(i int) (string, float64) {
	return v.codes[i], v.values[i]
}

// Get looks up the value for a code
func (v AssetVector) Get(code string) (float64, bool) {
	i, ok := v.index[code]
	if !ok {
		return 0, false
	}
	return v.values[i], true
}

// SameUniverse reports whether both vectors carry identical codes in identical order.
func (v AssetVector) SameUniverse(other AssetVector) bool {
	if len(v.codes) != len(other.codes) {
		return false
	}
	for i := range v.codes {
		if v.codes[i] != other.codes[i] {
			return false
		}
	}
	return true
}

// Map returns the vector as a plain map (order is lost)
func (v AssetVector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.codes))
	for i, code := range v.codes {
		m[code] = v.values[i]
	}
	return m
}

type assetVectorJSON struct {
	Codes  []string  `json:"codes"`
	Values []float64 `json:"values"`
}

// MarshalJSON keeps the order explicit on the wire
func (v AssetVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(assetVectorJSON{Codes: v.codes, Values: v.values})
}

// UnmarshalJSON re-runs construction-time validation
func (v *AssetVector) UnmarshalJSON(data []byte) error {
	var raw assetVectorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewAssetVector(raw.Codes, raw.Values)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
