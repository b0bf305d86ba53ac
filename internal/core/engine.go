package core

type (
	// CategoryTotal aggregates the plan entries that share a category.
	CategoryTotal struct {
		Count         int     `json:"count"`
		PercentageSum float64 `json:"percentage_sum"`
	}

	// CategorySummary maps each category present in a plan to its totals.
	CategorySummary map[Category]CategoryTotal

	// CategoryAmount is a category row of a computed allocation.
	CategoryAmount struct {
		Category      Category `json:"category"`
		Count         int      `json:"count"`
		PercentageSum float64  `json:"percentage_sum"`
		Amount        float64  `json:"amount"`
	}
)

// Compute allocates total across the plan. Every amount is total*percentage,
// computed on its own: no normalization happens even when the weights do not
// add up to one, so inconsistent source data stays visible.
//
// Callers are expected to have run ValidatePlan and ValidateAmount; the
// corresponding sentinel errors are returned if they did not.
func Compute(plan Plan, total float64) (Allocation, error) {
	if err := ValidatePlan(plan); err != nil {
		return Allocation{}, err
	}
	if !(total > 0) {
		return Allocation{}, ErrNonPositive
	}

	entries := make([]AllocatedEntry, len(plan))
	for i, e := range plan {
		entries[i] = AllocatedEntry{
			Entry:  e,
			Amount: total * e.Percentage,
		}
	}
	return Allocation{TotalAmount: total, Entries: entries}, nil
}

// SummarizeByCategory groups plan entries by Categorize(name). The result is
// rebuilt on every call.
func SummarizeByCategory(plan Plan) CategorySummary {
	out := make(CategorySummary)
	for _, e := range plan {
		c := Categorize(e.Name)
		t := out[c]
		t.Count++
		t.PercentageSum += e.Percentage
		out[c] = t
	}
	return out
}

// Ordered returns the summary rows in category priority order.
func (s CategorySummary) Ordered() []CategoryAmount {
	out := make([]CategoryAmount, 0, len(s))
	for _, c := range Categories() {
		if t, ok := s[c]; ok {
			out = append(out, CategoryAmount{Category: c, Count: t.Count, PercentageSum: t.PercentageSum})
		}
	}
	return out
}

// Sum returns the total allocated amount. It equals TotalAmount only when the
// plan weights add up to one.
func (a Allocation) Sum() float64 {
	var sum float64
	for _, e := range a.Entries {
		sum += e.Amount
	}
	return sum
}

// ByCategory groups the allocated amounts by category, in priority order.
func (a Allocation) ByCategory() []CategoryAmount {
	byCat := make(map[Category]*CategoryAmount)
	for _, e := range a.Entries {
		c := Categorize(e.Entry.Name)
		row, ok := byCat[c]
		if !ok {
			row = &CategoryAmount{Category: c}
			byCat[c] = row
		}
		row.Count++
		row.PercentageSum += e.Entry.Percentage
		row.Amount += e.Amount
	}

	out := make([]CategoryAmount, 0, len(byCat))
	for _, c := range Categories() {
		if row, ok := byCat[c]; ok {
			out = append(out, *row)
		}
	}
	return out
}

// Plan returns the entries the allocation was computed from.
func (a Allocation) Plan() Plan {
	out := make(Plan, len(a.Entries))
	for i, e := range a.Entries {
		out[i] = e.Entry
	}
	return out
}
