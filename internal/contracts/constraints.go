package contracts

import (
	"fmt"
	"math"
)

// ConstraintSpec describes the admissible weight region
type ConstraintSpec struct {
	AllowShort bool     `json:"allow_short" yaml:"allow_short"`
	MaxWeight  *float64 `json:"max_weight,omitempty" yaml:"max_weight,omitempty"` // (0, 1]
	MinWeight  *float64 `json:"min_weight,omitempty" yaml:"min_weight,omitempty"` // >= 0, long positions only
}

// LongOnly is the default spec: no shorting, no bounds
func LongOnly() ConstraintSpec {
	return ConstraintSpec{}
}

// WithMaxWeight returns a copy with the per-asset cap set
func (c ConstraintSpec) WithMaxWeight(max float64) ConstraintSpec {
	c.MaxWeight = &max
	return c
}

// WithMinWeight returns a copy with the minimum long position set
func (c ConstraintSpec) WithMinWeight(min float64) ConstraintSpec {
	c.MinWeight = &min
	return c
}

// Validate checks the bounds themselves. Universe-dependent feasibility
// (max·N < 1 and so on) is decided by the projector.
func (c ConstraintSpec) Validate() error {
	if c.MaxWeight != nil {
		max := *c.MaxWeight
		if math.IsNaN(max) || max <= 0 || max > 1 {
			return fmt.Errorf("%w: max_weight %v must be in (0, 1]", ErrConstraintInfeasible, max)
		}
	}
	if c.MinWeight != nil {
		min := *c.MinWeight
		if math.IsNaN(min) || min < 0 || min >= 1 {
			return fmt.Errorf("%w: min_weight %v must be in [0, 1)", ErrConstraintInfeasible, min)
		}
	}
	if c.MaxWeight != nil && c.MinWeight != nil && *c.MinWeight > *c.MaxWeight {
		return fmt.Errorf("%w: min_weight %v exceeds max_weight %v",
			ErrConstraintInfeasible, *c.MinWeight, *c.MaxWeight)
	}
	return nil
}

// String renders the constraints for logs
func (c ConstraintSpec) String() string {
	s := "long-only"
	if c.AllowShort {
		s = "short-allowed"
	}
	if c.MaxWeight != nil {
		s += fmt.Sprintf(" max=%.4f", *c.MaxWeight)
	}
	if c.MinWeight != nil {
		s += fmt.Sprintf(" min=%.4f", *c.MinWeight)
	}
	return s
}
