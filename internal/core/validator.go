package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// SumTolerance is the slack allowed when checking that plan weights add up to one.
const SumTolerance = 0.001

var (
	decOne       = decimal.NewFromInt(1)
	decTolerance = decimal.NewFromFloat(SumTolerance)

	// groupingSeparators are stripped from raw amounts before parsing.
	groupingSeparators = strings.NewReplacer(",", "", "，", "")
)

// SumCheck is the advisory result of CheckPercentageSum. A plan that is not
// WithinTolerance can still be computed.
type SumCheck struct {
	Sum             float64 `json:"sum"`
	WithinTolerance bool    `json:"within_tolerance"`
}

// Deviation returns how far the sum is from one.
func (c SumCheck) Deviation() float64 {
	return c.Sum - 1
}

// ValidatePlan reports ErrEmptyPlan when there is nothing to allocate against.
// A percentage sum mismatch is not an error here; see CheckPercentageSum.
func ValidatePlan(plan Plan) error {
	if len(plan) == 0 {
		return ErrEmptyPlan
	}
	return nil
}

// CheckPercentageSum adds up every percentage and compares the result with one.
// The comparison is inclusive: a deviation of exactly SumTolerance passes.
//
// Weights are summed as decimals built from their shortest float
// representation, so 0.999 and 1.001 sit exactly on the boundary instead of
// on either side of it depending on binary rounding.
func CheckPercentageSum(plan Plan) SumCheck {
	sum := decimal.Zero
	for _, e := range plan {
		sum = sum.Add(decimal.NewFromFloat(e.Percentage))
	}
	return SumCheck{
		Sum:             sum.InexactFloat64(),
		WithinTolerance: sum.Sub(decOne).Abs().LessThanOrEqual(decTolerance),
	}
}

// ValidateAmount parses a user-entered total. Grouping separators are removed
// first, so "100,000.50" parses as 100000.5.
//
// Returns ErrNonPositive for blank input and for values <= 0, and
// ErrNotANumber when the cleaned string is not a finite number.
func ValidateAmount(raw string) (float64, error) {
	s := strings.TrimSpace(groupingSeparators.Replace(raw))
	if s == "" {
		return 0, ErrNonPositive
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrNotANumber
	}
	if !d.IsPositive() {
		return 0, ErrNonPositive
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, ErrNotANumber
	}
	if f <= 0 {
		// positive but below the smallest float64
		return 0, ErrNonPositive
	}
	return f, nil
}
