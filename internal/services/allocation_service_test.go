package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"allocator/internal/cache"
	"allocator/internal/core"
	"allocator/internal/log"
	"allocator/internal/metrics"
	"allocator/internal/plans"
	"allocator/internal/plans/memory"
)

func quietLogger() *log.Logger {
	return log.New(log.Config{Component: log.ComponentEngine, Output: io.Discard})
}

// countingSource wraps a store and counts LoadPlan calls.
type countingSource struct {
	plans.Source
	loads atomic.Int32
	delay time.Duration
}

func (c *countingSource) LoadPlan(ctx context.Context, name string) (core.Plan, error) {
	c.loads.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.Source.LoadPlan(ctx, name)
}

func newService(t *testing.T, opts Options) (*AllocationService, *memory.Store) {
	t.Helper()
	store := memory.NewWithDefaults()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.DefaultPlan == "" {
		opts.DefaultPlan = memory.DefaultPlanName
	}
	return NewAllocationService(store, opts), store
}

func TestCalculate(t *testing.T) {
	m := metrics.New()
	svc, _ := newService(t, Options{SourceName: "memory", Metrics: m})

	res, err := svc.Calculate(context.Background(), "", "100,000")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if res.Plan != memory.DefaultPlanName {
		t.Fatalf("plan = %q", res.Plan)
	}
	want := []float64{40000, 30000, 30000}
	for i, e := range res.Allocation.Entries {
		if math.Abs(e.Amount-want[i]) > 1e-6 {
			t.Errorf("entry %d amount = %v, want %v", i, e.Amount, want[i])
		}
	}
	if !res.SumCheck.WithinTolerance || res.Warning() != "" {
		t.Fatalf("expected balanced plan, got %+v", res.SumCheck)
	}
	if len(res.Categories) == 0 {
		t.Fatal("expected category rows")
	}
	if got := testutil.ToFloat64(m.Calculations.WithLabelValues(metrics.OutcomeOK)); got != 1 {
		t.Errorf("ok calculations = %v, want 1", got)
	}
}

func TestCalculateErrors(t *testing.T) {
	tests := []struct {
		name    string
		plan    string
		amount  string
		wantErr error
		outcome string
	}{
		{"blank amount", "", "", core.ErrNonPositive, metrics.OutcomeInvalidAmount},
		{"negative amount", "", "-5", core.ErrNonPositive, metrics.OutcomeInvalidAmount},
		{"text amount", "", "abc", core.ErrNotANumber, metrics.OutcomeInvalidAmount},
		{"missing plan", "nope", "100", plans.ErrPlanNotFound, metrics.OutcomeNotFound},
		{"empty plan", "empty", "100", core.ErrEmptyPlan, metrics.OutcomeEmptyPlan},
		// amount is checked before the plan is looked up
		{"bad amount and missing plan", "nope", "0", core.ErrNonPositive, metrics.OutcomeInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			svc, store := newService(t, Options{Metrics: m})
			if err := store.SavePlan(context.Background(), "empty", core.Plan{}); err != nil {
				t.Fatalf("seed: %v", err)
			}

			_, err := svc.Calculate(context.Background(), tt.plan, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if got := testutil.ToFloat64(m.Calculations.WithLabelValues(tt.outcome)); got != 1 {
				t.Errorf("%s calculations = %v, want 1", tt.outcome, got)
			}
		})
	}
}

func TestCalculateMismatchIsAdvisory(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.New()
	logger := log.New(log.Config{Component: log.ComponentEngine, Output: &buf})
	svc, store := newService(t, Options{Metrics: m, Logger: logger})
	plan := core.Plan{{Name: "A", Percentage: 0.5}, {Name: "B", Percentage: 0.3}}
	if err := store.SavePlan(context.Background(), "short", plan); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := svc.Calculate(context.Background(), "short", "1000")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if res.SumCheck.WithinTolerance {
		t.Fatal("expected mismatch")
	}
	if math.Abs(res.Allocation.Sum()-800) > 1e-9 {
		t.Fatalf("amounts must not be normalized, sum = %v", res.Allocation.Sum())
	}
	if !strings.Contains(res.Warning(), "0.800") {
		t.Fatalf("warning = %q", res.Warning())
	}
	if got := testutil.ToFloat64(m.PercentageMismatch); got != 1 {
		t.Errorf("mismatch counter = %v, want 1", got)
	}
	if !strings.Contains(buf.String(), "do not sum to 100%") {
		t.Errorf("expected mismatch warning in log, got %q", buf.String())
	}
}

func TestPlanCaching(t *testing.T) {
	m := metrics.New()
	src := &countingSource{Source: memory.NewWithDefaults()}
	svc := NewAllocationService(src, Options{
		SourceName:  "memory",
		DefaultPlan: memory.DefaultPlanName,
		Cache:       cache.NewLRUCache[core.Plan](8, time.Minute),
		Metrics:     m,
		Logger:      quietLogger(),
	})
	ctx := context.Background()

	p1, err := svc.Plan(ctx, "default")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	p1[0].Name = "mutated"

	p2, err := svc.Plan(ctx, "default.json")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if p2[0].Name == "mutated" {
		t.Fatal("cached plan shares memory with caller")
	}
	if got := src.loads.Load(); got != 1 {
		t.Fatalf("source loads = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.PlanLoads.WithLabelValues("memory", metrics.OutcomeCached)); got != 1 {
		t.Errorf("cached loads = %v, want 1", got)
	}

	svc.Invalidate("default")
	if _, err := svc.Plan(ctx, ""); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := src.loads.Load(); got != 2 {
		t.Fatalf("source loads after invalidate = %d, want 2", got)
	}
}

func TestPlanConcurrentLoadsShareOneCall(t *testing.T) {
	src := &countingSource{Source: memory.NewWithDefaults(), delay: 50 * time.Millisecond}
	svc := NewAllocationService(src, Options{DefaultPlan: "default", Logger: quietLogger()})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Plan(context.Background(), "default"); err != nil {
				t.Errorf("Plan: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := src.loads.Load(); got >= 8 {
		t.Fatalf("expected loads to be shared, got %d", got)
	}
}

func TestInspect(t *testing.T) {
	svc, _ := newService(t, Options{})

	in, err := svc.Inspect(context.Background(), "")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(in.Entries) != 3 || !in.SumCheck.WithinTolerance {
		t.Fatalf("unexpected inspection: %+v", in)
	}
	var sum float64
	for _, c := range in.Categories {
		sum += c.PercentageSum
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("category percentages sum = %v", sum)
	}
}

func TestSavePlan(t *testing.T) {
	ctx := context.Background()

	t.Run("read-only", func(t *testing.T) {
		svc, _ := newService(t, Options{})
		if err := svc.SavePlan(ctx, "x", core.Plan{{Name: "A", Percentage: 1}}); !errors.Is(err, ErrReadOnly) {
			t.Fatalf("expected ErrReadOnly, got %v", err)
		}
	})

	t.Run("writes and invalidates", func(t *testing.T) {
		store := memory.NewWithDefaults()
		svc := NewAllocationService(store, Options{
			Writer:      store,
			DefaultPlan: "default",
			Cache:       cache.NewLRUCache[core.Plan](8, time.Minute),
			Logger:      quietLogger(),
		})
		if _, err := svc.Plan(ctx, "default"); err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if err := svc.SavePlan(ctx, "default", core.Plan{{Name: "现金", Percentage: 1}}); err != nil {
			t.Fatalf("SavePlan: %v", err)
		}
		p, err := svc.Plan(ctx, "default")
		if err != nil || len(p) != 1 || p[0].Name != "现金" {
			t.Fatalf("expected saved plan, got %+v, %v", p, err)
		}
	})
}

func TestListPlans(t *testing.T) {
	svc, store := newService(t, Options{})
	if err := store.SavePlan(context.Background(), "growth", core.Plan{{Name: "A", Percentage: 1}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	names, err := svc.ListPlans(context.Background())
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(names) != 2 || names[0] != "default" || names[1] != "growth" {
		t.Fatalf("ListPlans() = %v", names)
	}
}

func TestDeletePlan(t *testing.T) {
	ctx := context.Background()

	t.Run("read-only", func(t *testing.T) {
		svc, _ := newService(t, Options{})
		if err := svc.DeletePlan(ctx, "default"); !errors.Is(err, ErrReadOnly) {
			t.Fatalf("expected ErrReadOnly, got %v", err)
		}
	})

	t.Run("deletes and invalidates", func(t *testing.T) {
		store := memory.NewWithDefaults()
		svc := NewAllocationService(store, Options{
			Writer:      store,
			DefaultPlan: "default",
			Cache:       cache.NewLRUCache[core.Plan](8, time.Minute),
			Logger:      quietLogger(),
		})
		if _, err := svc.Plan(ctx, "default"); err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if err := svc.DeletePlan(ctx, ""); err != nil {
			t.Fatalf("DeletePlan: %v", err)
		}
		if _, err := svc.Plan(ctx, "default"); !errors.Is(err, plans.ErrPlanNotFound) {
			t.Fatalf("cached plan survived delete: %v", err)
		}
		if err := svc.DeletePlan(ctx, "default"); !errors.Is(err, plans.ErrPlanNotFound) {
			t.Fatalf("expected ErrPlanNotFound, got %v", err)
		}
	})
}
