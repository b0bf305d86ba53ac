package core

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// Entry is one line of an allocation plan. Percentage is a fraction of
	// the total, not a percentage-scaled number.
	Entry struct {
		Name       string  `json:"name" toml:"name"`
		Percentage float64 `json:"percentage" toml:"percentage"`
		ID         string  `json:"id,omitempty" toml:"id,omitempty"`     // product code, e.g. a ticker
		Memo       string  `json:"memo,omitempty" toml:"memo,omitempty"` // free-text note
	}

	// Plan is an ordered list of entries. Display order matters and neither
	// names nor IDs need to be unique.
	Plan []Entry

	// AllocatedEntry pairs an entry with the amount computed for it.
	AllocatedEntry struct {
		Entry  Entry   `json:"entry"`
		Amount float64 `json:"amount"`
	}

	// Allocation is the result of one computation. It is never mutated once
	// returned by Compute.
	Allocation struct {
		TotalAmount float64          `json:"total_amount"`
		Entries     []AllocatedEntry `json:"entries"`
	}
)

var (
	ErrEmptyPlan         = errors.New("empty plan")
	ErrNotANumber        = errors.New("amount is not a number")
	ErrNonPositive       = errors.New("amount must be greater than zero")
	ErrEmptyName         = errors.New("empty entry name")
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 1")
)

// Validate checks a single entry as it arrives from a plan source.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return ErrEmptyName
	}
	if e.Percentage < 0 || e.Percentage > 1 {
		return ErrInvalidPercentage
	}
	return nil
}

// HasID reports whether the entry carries a product code.
func (e Entry) HasID() bool {
	return strings.TrimSpace(e.ID) != ""
}

// HasMemo reports whether the entry carries a note.
func (e Entry) HasMemo() bool {
	return strings.TrimSpace(e.Memo) != ""
}

// ValidateEntries runs Entry.Validate over every entry and reports the first
// failure together with its position.
func ValidateEntries(plan Plan) error {
	for i, e := range plan {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entry %d (%q): %w", i, e.Name, err)
		}
	}
	return nil
}

// Clone returns a copy that shares no backing array with p.
func (p Plan) Clone() Plan {
	if p == nil {
		return nil
	}
	out := make(Plan, len(p))
	copy(out, p)
	return out
}
