// Package report renders computed allocations for people and for scripts.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"allocator/internal/core"
)

// Output formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const (
	title      = "理财资产配置报告"
	disclaimer = "投资有风险，入市需谨慎"
	lineWidth  = 60
)

var hundred = decimal.NewFromInt(100)

// Formats lists the values accepted by Write.
func Formats() []string {
	return []string{FormatText, FormatJSON}
}

// Write renders alloc in the given format. An empty format means text.
func Write(w io.Writer, format string, alloc core.Allocation, check core.SumCheck) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		_, err := io.WriteString(w, Text(alloc)+"\n")
		return err
	case FormatJSON:
		return WriteJSON(w, alloc, check)
	default:
		return fmt.Errorf("unknown report format %q: must be one of %v", format, Formats())
	}
}

// Text returns the plain-text report. The category section appears only when
// the allocation spans more than one category.
func Text(alloc core.Allocation) string {
	heavy := strings.Repeat("=", lineWidth)
	light := strings.Repeat("-", lineWidth)

	lines := []string{
		heavy,
		title,
		heavy,
		"总资产: ¥" + Money(alloc.TotalAmount),
		"",
		"资产配置详情:",
		light,
	}

	for _, e := range alloc.Entries {
		lines = append(lines,
			"• "+e.Entry.Name,
			"  配置比例: "+Percent(e.Entry.Percentage),
			"  配置金额: ¥"+Money(e.Amount),
		)
		if e.Entry.HasID() {
			lines = append(lines, "  产品代码: "+e.Entry.ID)
		}
		if e.Entry.HasMemo() {
			lines = append(lines, "  备注: "+e.Entry.Memo)
		}
		lines = append(lines, "")
	}

	if cats := alloc.ByCategory(); len(cats) > 1 {
		lines = append(lines, "分类汇总:", light)
		for _, c := range cats {
			lines = append(lines, fmt.Sprintf("• %s: %s (¥%s)",
				c.Category.DisplayName(), Percent(c.PercentageSum), Money(c.Amount)))
		}
		lines = append(lines, "")
	}

	lines = append(lines, heavy, disclaimer)
	return strings.Join(lines, "\n")
}

// DocumentEntry is one entry row of a Document.
type DocumentEntry struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
	Amount     float64 `json:"amount"`
	ID         string  `json:"id,omitempty"`
	Memo       string  `json:"memo,omitempty"`
	Category   string  `json:"category"`
}

// DocumentCategory is one category row of a Document.
type DocumentCategory struct {
	Category    core.Category `json:"category"`
	DisplayName string        `json:"display_name"`
	Count       int           `json:"count"`
	Percentage  float64       `json:"percentage"`
	Amount      float64       `json:"amount"`
}

// Document is the machine-readable form of a report.
type Document struct {
	TotalAmount     float64            `json:"total_amount"`
	PercentageSum   float64            `json:"percentage_sum"`
	WithinTolerance bool               `json:"within_tolerance"`
	Entries         []DocumentEntry    `json:"entries"`
	Categories      []DocumentCategory `json:"categories"`
}

// NewDocument builds the machine-readable report. Amounts are rounded to
// cents.
func NewDocument(alloc core.Allocation, check core.SumCheck) Document {
	out := Document{
		TotalAmount:     cents(alloc.TotalAmount),
		PercentageSum:   check.Sum,
		WithinTolerance: check.WithinTolerance,
		Entries:         make([]DocumentEntry, 0, len(alloc.Entries)),
		Categories:      []DocumentCategory{},
	}
	for _, e := range alloc.Entries {
		out.Entries = append(out.Entries, DocumentEntry{
			Name:       e.Entry.Name,
			Percentage: e.Entry.Percentage,
			Amount:     cents(e.Amount),
			ID:         e.Entry.ID,
			Memo:       e.Entry.Memo,
			Category:   string(core.Categorize(e.Entry.Name)),
		})
	}
	for _, c := range alloc.ByCategory() {
		out.Categories = append(out.Categories, DocumentCategory{
			Category:    c.Category,
			DisplayName: c.Category.DisplayName(),
			Count:       c.Count,
			Percentage:  c.PercentageSum,
			Amount:      cents(c.Amount),
		})
	}
	return out
}

// WriteJSON writes NewDocument(alloc, check) as indented JSON.
func WriteJSON(w io.Writer, alloc core.Allocation, check core.SumCheck) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(alloc, check))
}

func cents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Money formats v with two decimals and comma thousands separators,
// e.g. 1234567.891 -> "1,234,567.89".
func Money(v float64) string {
	return humanize.FormatFloat("#,###.##", cents(v))
}

// Percent formats a fraction as a percentage with one decimal, e.g. 0.4 -> "40.0%".
func Percent(p float64) string {
	return decimal.NewFromFloat(p).Mul(hundred).StringFixed(1) + "%"
}
