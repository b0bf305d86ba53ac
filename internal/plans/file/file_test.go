package file

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"allocator/internal/core"
	"allocator/internal/plans"
)

const samplePlanJSON = `[
  {"name": "沪深300ETF", "percentage": 0.4, "id": "510300"},
  {"name": "国债基金", "percentage": 0.3},
  {"name": "黄金基金", "percentage": 0.3, "memo": "避险"}
]`

const samplePlanTOML = `
[[entries]]
name = "中证500指数"
percentage = 0.6

[[entries]]
name = "十年期国债"
percentage = 0.4
id = "019547"
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestParseJSON(t *testing.T) {
	plan, err := ParseJSON(strings.NewReader(samplePlanJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(plan))
	}
	if plan[0].ID != "510300" || plan[2].Memo != "避险" || plan[1].Name != "国债基金" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestParseJSONErrors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		err  error
	}{
		{"object instead of array", `{"name": "A", "percentage": 1}`, ErrNotAnArray},
		{"empty document", ``, ErrNotAnArray},
		{"missing percentage", `[{"name": "A"}]`, ErrMissingField},
		{"missing name", `[{"percentage": 0.5}]`, ErrMissingField},
		{"percentage above one", `[{"name": "A", "percentage": 40}]`, core.ErrInvalidPercentage},
		{"negative percentage", `[{"name": "A", "percentage": -0.1}]`, core.ErrInvalidPercentage},
		{"blank name", `[{"name": " ", "percentage": 0.1}]`, core.ErrEmptyName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseJSON(strings.NewReader(tc.in))
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}

	if _, err := ParseJSON(strings.NewReader(`[{"name": "A", "percentage": "forty"}]`)); err == nil {
		t.Fatal("expected error for non-numeric percentage")
	}
}

func TestParseJSONEmptyArray(t *testing.T) {
	plan, err := ParseJSON(strings.NewReader(`[]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}

func TestParseTOML(t *testing.T) {
	plan, err := ParseTOML(strings.NewReader(samplePlanTOML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 2 || plan[1].ID != "019547" || plan[0].Percentage != 0.6 {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	if _, err := ParseTOML(strings.NewReader("[[entries]]\nname = \"A\"\n")); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	plan, _ := ParseJSON(strings.NewReader(samplePlanJSON))

	var js bytes.Buffer
	if err := EncodeJSON(&js, plan); err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if !strings.Contains(js.String(), "沪深300ETF") {
		t.Fatalf("names should not be escaped: %s", js.String())
	}
	back, err := ParseJSON(&js)
	if err != nil || len(back) != len(plan) || back[2] != plan[2] {
		t.Fatalf("JSON round trip: %+v, %v", back, err)
	}

	var tm bytes.Buffer
	if err := EncodeTOML(&tm, plan); err != nil {
		t.Fatalf("EncodeTOML: %v", err)
	}
	back, err = ParseTOML(&tm)
	if err != nil || len(back) != len(plan) || back[0] != plan[0] {
		t.Fatalf("TOML round trip: %+v, %v", back, err)
	}
}

func TestStoreLoadPlan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plan.json", samplePlanJSON)
	writeFile(t, dir, "growth.toml", samplePlanTOML)
	s := New(dir, nil)
	ctx := context.Background()

	for _, name := range []string{"plan", "plan.json", " plan "} {
		p, err := s.LoadPlan(ctx, name)
		if err != nil || len(p) != 3 {
			t.Fatalf("LoadPlan(%q) = %v, %v", name, p, err)
		}
	}
	for _, name := range []string{"growth", "growth.toml"} {
		p, err := s.LoadPlan(ctx, name)
		if err != nil || len(p) != 2 {
			t.Fatalf("LoadPlan(%q) = %v, %v", name, p, err)
		}
	}

	if _, err := s.LoadPlan(ctx, "growth.json"); !errors.Is(err, plans.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
	if _, err := s.LoadPlan(ctx, "missing"); !errors.Is(err, plans.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
	for _, bad := range []string{"", "../etc/passwd", "a/b", ".."} {
		if _, err := s.LoadPlan(ctx, bad); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("LoadPlan(%q): expected ErrInvalidName, got %v", bad, err)
		}
	}
}

func TestStoreLoadPlanMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.json", `[{"name": "A"`)
	s := New(dir, nil)

	_, err := s.LoadPlan(context.Background(), "broken")
	if err == nil || errors.Is(err, plans.ErrPlanNotFound) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestStoreListPlans(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plan.json", samplePlanJSON)
	writeFile(t, dir, "plan.toml", samplePlanTOML)
	writeFile(t, dir, "growth.toml", samplePlanTOML)
	writeFile(t, dir, "notes.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "sub.json"), 0755); err != nil {
		t.Fatal(err)
	}

	names, err := New(dir, nil).ListPlans(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "growth" || names[1] != "plan" {
		t.Fatalf("ListPlans() = %v", names)
	}

	if _, err := New(filepath.Join(dir, "nope"), nil).ListPlans(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestStoreSavePlan(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	ctx := context.Background()
	plan := core.Plan{{Name: "沪深300ETF", Percentage: 0.7, ID: "510300"}, {Name: "现金", Percentage: 0.3}}

	if err := s.SavePlan(ctx, "mine", plan); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "mine.json")); err != nil {
		t.Fatalf("expected mine.json: %v", err)
	}
	if err := s.SavePlan(ctx, "other.toml", plan); err != nil {
		t.Fatalf("SavePlan toml: %v", err)
	}

	for _, name := range []string{"mine", "other"} {
		got, err := s.LoadPlan(ctx, name)
		if err != nil || len(got) != 2 || got[0] != plan[0] {
			t.Fatalf("reload %s: %+v, %v", name, got, err)
		}
	}

	// overwrite replaces
	if err := s.SavePlan(ctx, "mine", plan[:1]); err != nil {
		t.Fatalf("SavePlan overwrite: %v", err)
	}
	got, _ := s.LoadPlan(ctx, "mine")
	if len(got) != 1 {
		t.Fatalf("expected overwritten plan, got %+v", got)
	}

	if err := s.SavePlan(ctx, "bad", core.Plan{{Name: "A", Percentage: 2}}); !errors.Is(err, core.ErrInvalidPercentage) {
		t.Fatalf("expected validation error, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoadFileFormats(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		body    string
		entries int
	}{
		{"plan.json", samplePlanJSON, 3},
		{"plan.toml", samplePlanTOML, 2},
		{"PLAN.TOML", samplePlanTOML, 2},
		{"myplan", samplePlanJSON, 3},
		{"plan.txt", samplePlanJSON, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			plan, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile(%s): %v", tt.name, err)
			}
			if len(plan) != tt.entries {
				t.Fatalf("entries = %d, want %d", len(plan), tt.entries)
			}
		})
	}

	if _, err := LoadFile(filepath.Join(dir, "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestStoreDeletePlan(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	ctx := context.Background()
	plan := core.Plan{{Name: "现金", Percentage: 1}}

	if err := s.SavePlan(ctx, "mine", plan); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	if err := s.SavePlan(ctx, "mine.toml", plan); err != nil {
		t.Fatalf("SavePlan toml: %v", err)
	}
	if err := s.DeletePlan(ctx, "mine"); err != nil {
		t.Fatalf("DeletePlan: %v", err)
	}
	names, err := s.ListPlans(ctx)
	if err != nil || len(names) != 0 {
		t.Fatalf("expected no plans left, got %v, %v", names, err)
	}
	if err := s.DeletePlan(ctx, "mine"); !errors.Is(err, plans.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
	if err := s.DeletePlan(ctx, "../mine"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}
