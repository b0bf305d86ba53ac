package memory

import (
	"context"
	"errors"
	"testing"

	"allocator/internal/core"
	"allocator/internal/plans"
)

func TestMemoryStoreSaveAndLoad(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	plan := core.Plan{{Name: "A", Percentage: 0.5}, {Name: "B", Percentage: 0.5}}
	if err := s.SavePlan(ctx, "mine.json", plan); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	got, err := s.LoadPlan(ctx, "mine")
	if err != nil || len(got) != 2 {
		t.Fatalf("unexpected load: %v err=%v", got, err)
	}

	// caller mutations do not leak into the store
	plan[0].Name = "changed"
	got[1].Name = "changed"
	again, _ := s.LoadPlan(ctx, "mine")
	if again[0].Name != "A" || again[1].Name != "B" {
		t.Fatalf("store shares storage with callers: %+v", again)
	}

	if _, err := s.LoadPlan(ctx, "missing"); !errors.Is(err, plans.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
	if err := s.SavePlan(ctx, "bad", core.Plan{{Name: "", Percentage: 0.1}}); !errors.Is(err, core.ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestNewWithDefaults(t *testing.T) {
	s := NewWithDefaults()
	names, err := s.ListPlans(context.Background())
	if err != nil || len(names) != 1 || names[0] != DefaultPlanName {
		t.Fatalf("unexpected names: %v err=%v", names, err)
	}
	p, err := s.LoadPlan(context.Background(), DefaultPlanName)
	if err != nil || len(p) != 3 {
		t.Fatalf("unexpected default plan: %v err=%v", p, err)
	}
	if !core.CheckPercentageSum(p).WithinTolerance {
		t.Fatalf("default plan should sum to 1")
	}
}

func TestMemoryStoreDeletePlan(t *testing.T) {
	s := NewWithDefaults()
	ctx := context.Background()

	if err := s.DeletePlan(ctx, "default.json"); err != nil {
		t.Fatalf("DeletePlan: %v", err)
	}
	if _, err := s.LoadPlan(ctx, DefaultPlanName); !errors.Is(err, plans.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound after delete, got %v", err)
	}
	if err := s.DeletePlan(ctx, DefaultPlanName); !errors.Is(err, plans.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound on second delete, got %v", err)
	}
}
