package google

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"allocator/internal/core"
)

var (
	ErrUnexpectedHeader = errors.New("unexpected plan header")
	ErrBadPercentage    = errors.New("percentage is not a number")
)

var (
	nameHeaders       = []string{"name", "名称"}
	percentageHeaders = []string{"percentage", "比例"}
	idHeaders         = []string{"id", "代码"}
	memoHeaders       = []string{"memo", "备注"}
)

var hundred = decimal.NewFromInt(100)

// parsePlan converts a values matrix (as returned by the Sheets API) into a
// plan. The first row is the header; name and percentage columns are
// required, id and memo are optional. Blank rows are skipped.
func parsePlan(values [][]interface{}) (core.Plan, error) {
	if len(values) == 0 {
		return core.Plan{}, nil
	}
	headers := toStrings(values[0])
	colName := indexOfAny(headers, nameHeaders)
	colPct := indexOfAny(headers, percentageHeaders)
	colID := indexOfAny(headers, idHeaders)
	colMemo := indexOfAny(headers, memoHeaders)
	if colName == -1 || colPct == -1 {
		missing := make([]string, 0, 2)
		if colName == -1 {
			missing = append(missing, "name")
		}
		if colPct == -1 {
			missing = append(missing, "percentage")
		}
		return nil, fmt.Errorf("%w: missing %s; got headers=%v", ErrUnexpectedHeader, strings.Join(missing, ","), headers)
	}

	plan := make(core.Plan, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		if isBlank(row) {
			continue
		}
		pct, err := parsePercentage(safeGet(row, colPct))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		e := core.Entry{
			Name:       safeGet(row, colName),
			Percentage: pct,
			ID:         safeGet(row, colID),
			Memo:       safeGet(row, colMemo),
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("row %d (%q): %w", i+1, e.Name, err)
		}
		plan = append(plan, e)
	}
	return plan, nil
}

// parsePercentage accepts a fraction ("0.4") or a percent string ("40%").
func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadPercentage)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadPercentage, s)
	}
	if percent {
		d = d.Div(hundred)
	}
	return d.InexactFloat64(), nil
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOfAny(headers []string, targets []string) int {
	for i, h := range headers {
		for _, t := range targets {
			if strings.EqualFold(strings.TrimSpace(h), t) {
				return i
			}
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

func isBlank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
