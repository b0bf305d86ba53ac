package core

import "strings"

// Category is a classification label derived from an entry name.
type Category string

const (
	IndexFund     Category = "IndexFund"
	Fund          Category = "Fund"
	REIT          Category = "REIT"
	Bond          Category = "Bond"
	PreciousMetal Category = "PreciousMetal"
	Other         Category = "Other"
)

type categoryRule struct {
	category Category
	markers  []string
}

// categoryRules is evaluated top to bottom and the first match wins. Order is
// significant: "黄金ETF指数基金" matches IndexFund, Fund and PreciousMetal
// markers and must resolve to IndexFund.
var categoryRules = []categoryRule{
	{IndexFund, []string{"ETF", "指数"}},
	{Fund, []string{"基金"}},
	{REIT, []string{"REIT"}},
	{Bond, []string{"债"}},
	{PreciousMetal, []string{"黄金"}},
}

var displayNames = map[Category]string{
	IndexFund:     "指数基金",
	Fund:          "基金",
	REIT:          "REITs",
	Bond:          "债券",
	PreciousMetal: "贵金属",
	Other:         "其他",
}

// Categories returns every label in match-priority order, Other last.
func Categories() []Category {
	out := make([]Category, 0, len(categoryRules)+1)
	for _, r := range categoryRules {
		out = append(out, r.category)
	}
	return append(out, Other)
}

// Categorize classifies an entry name with the ordered marker rules.
func Categorize(name string) Category {
	for _, r := range categoryRules {
		for _, m := range r.markers {
			if strings.Contains(name, m) {
				return r.category
			}
		}
	}
	return Other
}

// DisplayName returns the label shown in reports.
func (c Category) DisplayName() string {
	if n, ok := displayNames[c]; ok {
		return n
	}
	return string(c)
}

// IsValid reports whether c belongs to the closed label set.
func (c Category) IsValid() bool {
	_, ok := displayNames[c]
	return ok
}
