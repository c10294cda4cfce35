package portfolio

import (
	"fmt"
	"math"

	"github.com/wonny/egp/internal/contracts"
)

// projectionTolerance absorbs floating error when comparing weights to bounds
const projectionTolerance = 1e-12

// DefaultMaxIterations is the projection bound for a universe of n assets.
// Each pass pins or drops at least one asset, so n+1 passes always suffice.
func DefaultMaxIterations(n int) int {
	return n + 5
}

// Projection is the projector output
type Projection struct {
	Weights    contracts.WeightVector `json:"weights"`
	Converged  bool                   `json:"converged"`
	Iterations int                    `json:"iterations"`
	Pinned     []string               `json:"pinned,omitempty"`  // held at max_weight
	Dropped    []string               `json:"dropped,omitempty"` // zeroed by min_weight
}

type slotState int

const (
	slotExcluded slotState = iota // Z clipped or exactly zero
	slotFree
	slotPinned
	slotDropped
)

// Project maps raw ranking scores to final weights under spec.
//
// Long-only clips negative scores, then a capped proportional fill runs: free assets share
// the mass left by pinned ones in proportion to Z; anything above max_weight is pinned at
// max_weight; otherwise the smallest long position below min_weight is dropped. Pinned and
// dropped sets only grow, so the loop ends within n+1 passes. maxIterations <= 0 uses
// DefaultMaxIterations.
func Project(scores contracts.AssetVector, spec contracts.ConstraintSpec, maxIterations int) (Projection, error) {
	n := scores.Len()
	if n == 0 {
		return Projection{}, fmt.Errorf("%w: no scores to project", contracts.ErrInsufficientData)
	}
	if err := spec.Validate(); err != nil {
		return Projection{}, err
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations(n)
	}
	codes := scores.Codes()

	// 단일 자산: Z 부호와 무관하게 100%
	if n == 1 {
		if spec.MaxWeight != nil && *spec.MaxWeight < 1 {
			return Projection{}, fmt.Errorf("%w: single asset cannot satisfy max_weight %.4f",
				contracts.ErrConstraintInfeasible, *spec.MaxWeight)
		}
		w, err := contracts.NewWeightVector(codes, []float64{1})
		if err != nil {
			return Projection{}, err
		}
		return Projection{Weights: w, Converged: true}, nil
	}

	z := scores.Values()
	state := make([]slotState, n)
	eligible := 0
	for i := range z {
		if !spec.AllowShort && z[i] < 0 {
			z[i] = 0
		}
		if z[i] != 0 {
			state[i] = slotFree
		}
		if z[i] > 0 {
			eligible++
		}
	}

	if err := checkMass(z, state, spec.AllowShort); err != nil {
		return Projection{}, err
	}
	if err := checkCapacity(spec, eligible); err != nil {
		return Projection{}, err
	}

	weights := make([]float64, n)
	pinned := 0
	iterations := 0

	for {
		if iterations >= maxIterations {
			return Projection{Iterations: iterations}, fmt.Errorf("%w: projection did not converge in %d iterations",
				contracts.ErrConstraintInfeasible, maxIterations)
		}
		iterations++

		remaining := 1.0
		if spec.MaxWeight != nil {
			remaining -= float64(pinned) * *spec.MaxWeight
		}

		freeScore, freeCount := 0.0, 0
		for i := range z {
			if state[i] == slotFree {
				freeScore += z[i]
				freeCount++
			}
		}

		if freeCount == 0 {
			if math.Abs(remaining) > contracts.WeightTolerance {
				return Projection{Iterations: iterations}, fmt.Errorf("%w: %.6f weight left with no free assets",
					contracts.ErrConstraintInfeasible, remaining)
			}
			break
		}

		if math.Abs(remaining) <= contracts.WeightTolerance {
			// 상한 고정 자산이 비중을 모두 소진 → 남은 자산은 0
			for i := range z {
				if state[i] == slotFree {
					weights[i] = 0
				}
			}
			break
		}

		ratio := remaining / freeScore
		if !(ratio > 0) || math.IsInf(ratio, 0) {
			// 잔여 비중과 잔여 점수 부호가 반대 → 부호 반전 없이 채울 수 없음
			return Projection{Iterations: iterations}, fmt.Errorf("%w: remaining weight %.6f cannot be spread over net score %.6f",
				contracts.ErrConstraintInfeasible, remaining, freeScore)
		}

		for i := range z {
			if state[i] == slotFree {
				weights[i] = ratio * z[i]
			}
		}

		if spec.MaxWeight != nil {
			violated := false
			for i := range z {
				if state[i] == slotFree && weights[i] > *spec.MaxWeight+projectionTolerance {
					state[i] = slotPinned
					weights[i] = *spec.MaxWeight
					pinned++
					violated = true
				}
			}
			if violated {
				continue
			}
		}

		if spec.MinWeight != nil && *spec.MinWeight > 0 {
			drop := -1
			for i := range z {
				if state[i] != slotFree || z[i] <= 0 || weights[i] >= *spec.MinWeight-projectionTolerance {
					continue
				}
				// 최소 Z 우선, 동률이면 뒤쪽 자산
				if drop < 0 || z[i] <= z[drop] {
					drop = i
				}
			}
			if drop >= 0 {
				state[drop] = slotDropped
				weights[drop] = 0
				eligible--
				if err := checkCapacity(spec, eligible); err != nil {
					return Projection{Iterations: iterations}, err
				}
				if eligible == 0 {
					return Projection{Iterations: iterations}, fmt.Errorf("%w: min_weight %.4f drops every long position",
						contracts.ErrConstraintInfeasible, *spec.MinWeight)
				}
				continue
			}
		}

		break
	}

	final := normalizeFree(weights, state, spec)

	w, err := contracts.NewWeightVector(codes, final)
	if err != nil {
		return Projection{}, err
	}
	if sum := w.Sum(); math.Abs(sum-1) > contracts.WeightTolerance {
		return Projection{Iterations: iterations}, fmt.Errorf("%w: weights sum to %.8f after projection",
			contracts.ErrConstraintInfeasible, sum)
	}

	p := Projection{Weights: w, Converged: true, Iterations: iterations}
	for i, s := range state {
		switch s {
		case slotPinned:
			p.Pinned = append(p.Pinned, codes[i])
		case slotDropped:
			p.Dropped = append(p.Dropped, codes[i])
		}
	}
	return p, nil
}

// checkMass rejects score vectors with no positive allocation mass.
func checkMass(z []float64, state []slotState, allowShort bool) error {
	total, abs := 0.0, 0.0
	for i := range z {
		if state[i] == slotFree {
			total += z[i]
			abs += math.Abs(z[i])
		}
	}
	if abs == 0 {
		return fmt.Errorf("%w: every ranking score is zero", contracts.ErrDegenerateOptimization)
	}
	if total <= projectionTolerance*abs {
		if allowShort {
			return fmt.Errorf("%w: net ranking score %.6g is not positive", contracts.ErrDegenerateOptimization, total)
		}
		return fmt.Errorf("%w: no asset has a positive ranking score", contracts.ErrDegenerateOptimization)
	}
	return nil
}

// checkCapacity fails when eligible long positions at max_weight cannot reach a full allocation.
func checkCapacity(spec contracts.ConstraintSpec, eligible int) error {
	if spec.MaxWeight == nil {
		return nil
	}
	if float64(eligible)*(*spec.MaxWeight) < 1-contracts.WeightTolerance {
		return fmt.Errorf("%w: %d eligible assets at max_weight %.4f cannot sum to 1",
			contracts.ErrConstraintInfeasible, eligible, *spec.MaxWeight)
	}
	return nil
}

// normalizeFree rescales free weights so the total is exactly 1, leaving pinned weights at max.
func normalizeFree(weights []float64, state []slotState, spec contracts.ConstraintSpec) []float64 {
	out := make([]float64, len(weights))
	target := 1.0
	freeSum := 0.0
	for i, s := range state {
		switch s {
		case slotPinned:
			out[i] = *spec.MaxWeight
			target -= *spec.MaxWeight
		case slotFree:
			out[i] = weights[i]
			freeSum += weights[i]
		}
	}
	if freeSum != 0 {
		scale := target / freeSum
		for i, s := range state {
			if s == slotFree {
				out[i] *= scale
			}
		}
	}
	return out
}
