package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"allocator/internal/core"
	"allocator/internal/plans"
)

// Ensure interface conformance
var (
	_ plans.PlanReader = (*Store)(nil)
	_ plans.PlanLister = (*Store)(nil)
	_ plans.PlanWriter = (*Store)(nil)
)

// DefaultPlanName is the name the seeded demo plan is stored under.
const DefaultPlanName = "default"

// Store keeps plans in process memory. Plans are copied on the way in and
// on the way out so callers cannot share backing arrays with the store.
type Store struct {
	mu    sync.RWMutex
	plans map[string]core.Plan
}

func New(seed map[string]core.Plan) *Store {
	s := &Store{plans: make(map[string]core.Plan, len(seed))}
	for name, p := range seed {
		s.plans[plans.NormalizeName(name)] = p.Clone()
	}
	return s
}

// NewWithDefaults seeds the store with a small demo plan.
func NewWithDefaults() *Store {
	return New(map[string]core.Plan{
		DefaultPlanName: {
			{Name: "沪深300ETF", Percentage: 0.4, ID: "510300"},
			{Name: "国债基金", Percentage: 0.3},
			{Name: "黄金基金", Percentage: 0.3, Memo: "避险"},
		},
	})
}

func (s *Store) LoadPlan(ctx context.Context, name string) (core.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[plans.NormalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", plans.ErrPlanNotFound, name)
	}
	return p.Clone(), nil
}

func (s *Store) ListPlans(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.plans))
	for name := range s.plans {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) SavePlan(_ context.Context, name string, plan core.Plan) error {
	if err := core.ValidateEntries(plan); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	key := plans.NormalizeName(name)
	if key == "" {
		return fmt.Errorf("empty plan name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[key] = plan.Clone()
	return nil
}

func (s *Store) DeletePlan(_ context.Context, name string) error {
	key := plans.NormalizeName(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[key]; !ok {
		return fmt.Errorf("%w: %s", plans.ErrPlanNotFound, name)
	}
	delete(s.plans, key)
	return nil
}
