package google

import (
	"errors"
	"testing"

	"allocator/internal/core"
)

func TestParsePlan(t *testing.T) {
	values := [][]interface{}{
		{"Name", "Percentage", "ID", "Memo"},
		{"沪深300ETF", "40%", "510300", ""},
		{"", "", "", ""},
		{"国债基金", "0.3"},
		{"黄金基金", 0.3, "", "避险"},
	}
	plan, err := parsePlan(values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := core.Plan{
		{Name: "沪深300ETF", Percentage: 0.4, ID: "510300"},
		{Name: "国债基金", Percentage: 0.3},
		{Name: "黄金基金", Percentage: 0.3, Memo: "避险"},
	}
	if len(plan) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), plan)
	}
	for i := range want {
		if plan[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, plan[i], want[i])
		}
	}
}

func TestParsePlanChineseHeaders(t *testing.T) {
	values := [][]interface{}{
		{"备注", "名称", "比例"},
		{"定投", "中证500指数", "100%"},
	}
	plan, err := parsePlan(values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 1 || plan[0].Name != "中证500指数" || plan[0].Percentage != 1 || plan[0].Memo != "定投" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestParsePlanErrors(t *testing.T) {
	cases := []struct {
		name   string
		values [][]interface{}
		err    error
	}{
		{"missing percentage header", [][]interface{}{{"name", "amount"}, {"A", "1"}}, ErrUnexpectedHeader},
		{"missing name header", [][]interface{}{{"percentage"}, {"0.5"}}, ErrUnexpectedHeader},
		{"bad percentage", [][]interface{}{{"name", "percentage"}, {"A", "lots"}}, ErrBadPercentage},
		{"empty percentage", [][]interface{}{{"name", "percentage"}, {"A", ""}}, ErrBadPercentage},
		{"percentage above one", [][]interface{}{{"name", "percentage"}, {"A", "140%"}}, core.ErrInvalidPercentage},
		{"empty name", [][]interface{}{{"name", "percentage"}, {"", "0.2"}}, core.ErrEmptyName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parsePlan(tc.values); !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestParsePlanEmpty(t *testing.T) {
	plan, err := parsePlan(nil)
	if err != nil || len(plan) != 0 {
		t.Fatalf("expected empty plan, got %+v, %v", plan, err)
	}
}

func TestParsePercentage(t *testing.T) {
	cases := map[string]float64{
		"0.4":      0.4,
		"40%":      0.4,
		" 12.5 % ": 0.125,
		"0":        0,
		"1":        1,
	}
	for in, want := range cases {
		got, err := parsePercentage(in)
		if err != nil || got != want {
			t.Errorf("parsePercentage(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
