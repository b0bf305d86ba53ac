package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"allocator/internal/cache"
	"allocator/internal/core"
	"allocator/internal/log"
	"allocator/internal/metrics"
	"allocator/internal/plans"
)

// ErrReadOnly is returned by SavePlan and DeletePlan when the source cannot store plans.
var ErrReadOnly = errors.New("plan source is read-only")

// Result is one computed allocation together with the advisory checks run
// against its plan.
type Result struct {
	Plan       string                `json:"plan"`
	Allocation core.Allocation       `json:"allocation"`
	SumCheck   core.SumCheck         `json:"sum_check"`
	Categories []core.CategoryAmount `json:"categories"`
}

// Warning describes a percentage sum mismatch, or returns "" when the plan
// is balanced.
func (r Result) Warning() string {
	return sumWarning(r.SumCheck)
}

// Inspection describes a plan without computing amounts.
type Inspection struct {
	Plan       string                `json:"plan"`
	Entries    core.Plan             `json:"entries"`
	SumCheck   core.SumCheck         `json:"sum_check"`
	Categories []core.CategoryAmount `json:"categories"`
}

// Warning mirrors Result.Warning.
func (i Inspection) Warning() string {
	return sumWarning(i.SumCheck)
}

func sumWarning(c core.SumCheck) string {
	if c.WithinTolerance {
		return ""
	}
	return fmt.Sprintf("percentages add up to %.3f instead of 1.000", c.Sum)
}

// Options configures an AllocationService. Every field is optional.
type Options struct {
	// Writer enables SavePlan.
	Writer plans.PlanWriter
	// SourceName labels plan load metrics, e.g. "file" or "sqlite".
	SourceName  string
	DefaultPlan string
	// Cache memoizes loaded plans by name. Nil disables caching.
	Cache   cache.Cache[core.Plan]
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// AllocationService loads plans and runs the allocation engine on them. It is
// safe for concurrent use.
type AllocationService struct {
	source      plans.Source
	writer      plans.PlanWriter
	sourceName  string
	defaultPlan string
	cache       cache.Cache[core.Plan]
	group       singleflight.Group
	metrics     *metrics.Metrics
	logger      *log.Logger
	events      *log.StructuredLogger
}

func NewAllocationService(source plans.Source, opts Options) *AllocationService {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithComponent(log.ComponentEngine)
	sourceName := opts.SourceName
	if sourceName == "" {
		sourceName = "unknown"
	}
	return &AllocationService{
		source:      source,
		writer:      opts.Writer,
		sourceName:  sourceName,
		defaultPlan: plans.NormalizeName(opts.DefaultPlan),
		cache:       opts.Cache,
		metrics:     opts.Metrics,
		logger:      logger,
		events:      log.NewStructuredLogger(logger),
	}
}

// DefaultPlan returns the plan name used when callers pass "".
func (s *AllocationService) DefaultPlan() string {
	return s.defaultPlan
}

func (s *AllocationService) resolve(name string) string {
	if key := plans.NormalizeName(name); key != "" {
		return key
	}
	return s.defaultPlan
}

// ListPlans returns the names the source knows about.
func (s *AllocationService) ListPlans(ctx context.Context) ([]string, error) {
	names, err := s.source.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return names, nil
}

// Plan returns the named plan, from the cache when possible. Concurrent
// loads of the same name share a single call to the source.
func (s *AllocationService) Plan(ctx context.Context, name string) (core.Plan, error) {
	key := s.resolve(name)

	if s.cache != nil {
		if p, ok := s.cache.Get(key); ok {
			s.metrics.ObservePlanLoad(s.sourceName, metrics.OutcomeCached)
			return p.Clone(), nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		p, err := s.source.LoadPlan(ctx, key)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(key, p.Clone())
		}
		return p, nil
	})
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, plans.ErrPlanNotFound) {
			outcome = metrics.OutcomeNotFound
		}
		s.metrics.ObservePlanLoad(s.sourceName, outcome)
		return nil, fmt.Errorf("load plan %s: %w", key, err)
	}
	s.metrics.ObservePlanLoad(s.sourceName, metrics.OutcomeOK)
	return v.(core.Plan).Clone(), nil
}

// Inspect loads a plan and reports its percentage sum and category summary.
func (s *AllocationService) Inspect(ctx context.Context, name string) (Inspection, error) {
	key := s.resolve(name)
	plan, err := s.Plan(ctx, key)
	if err != nil {
		return Inspection{}, err
	}
	return Inspection{
		Plan:       key,
		Entries:    plan,
		SumCheck:   core.CheckPercentageSum(plan),
		Categories: core.SummarizeByCategory(plan).Ordered(),
	}, nil
}

// Calculate parses rawAmount and allocates it across the named plan.
func (s *AllocationService) Calculate(ctx context.Context, name, rawAmount string) (Result, error) {
	start := time.Now()
	amount, err := core.ValidateAmount(rawAmount)
	if err != nil {
		s.metrics.ObserveCalculation(metrics.OutcomeInvalidAmount, time.Since(start))
		return Result{}, fmt.Errorf("invalid amount %q: %w", rawAmount, err)
	}
	return s.calculate(ctx, name, amount, start)
}

// CalculateAmount allocates an already parsed amount.
func (s *AllocationService) CalculateAmount(ctx context.Context, name string, amount float64) (Result, error) {
	return s.calculate(ctx, name, amount, time.Now())
}

func (s *AllocationService) calculate(ctx context.Context, name string, amount float64, start time.Time) (Result, error) {
	key := s.resolve(name)

	plan, err := s.Plan(ctx, key)
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, plans.ErrPlanNotFound) {
			outcome = metrics.OutcomeNotFound
		}
		s.metrics.ObserveCalculation(outcome, time.Since(start))
		return Result{}, err
	}

	if err := core.ValidatePlan(plan); err != nil {
		s.metrics.ObserveCalculation(metrics.OutcomeEmptyPlan, time.Since(start))
		return Result{}, fmt.Errorf("plan %s: %w", key, err)
	}

	check := core.CheckPercentageSum(plan)
	if !check.WithinTolerance {
		s.metrics.IncPercentageMismatch()
		s.events.LogPercentageMismatch(ctx, key, check.Sum, check.Deviation())
	}

	alloc, err := core.Compute(plan, amount)
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, core.ErrNonPositive) || errors.Is(err, core.ErrNotANumber) {
			outcome = metrics.OutcomeInvalidAmount
		}
		s.metrics.ObserveCalculation(outcome, time.Since(start))
		return Result{}, fmt.Errorf("compute plan %s: %w", key, err)
	}

	categories := alloc.ByCategory()
	s.metrics.ObserveCalculation(metrics.OutcomeOK, time.Since(start))
	s.events.LogAllocationComputed(ctx, key, len(plan), amount, check.Sum, len(categories))

	return Result{
		Plan:       key,
		Allocation: alloc,
		SumCheck:   check,
		Categories: categories,
	}, nil
}

// SavePlan stores a plan through the configured writer and drops any cached
// copy of it.
func (s *AllocationService) SavePlan(ctx context.Context, name string, plan core.Plan) error {
	if s.writer == nil {
		return ErrReadOnly
	}
	key := s.resolve(name)
	if err := s.writer.SavePlan(ctx, key, plan); err != nil {
		return fmt.Errorf("save plan %s: %w", key, err)
	}
	s.Invalidate(key)
	return nil
}

// DeletePlan removes a plan through the configured writer and drops any
// cached copy of it.
func (s *AllocationService) DeletePlan(ctx context.Context, name string) error {
	if s.writer == nil {
		return ErrReadOnly
	}
	key := s.resolve(name)
	if err := s.writer.DeletePlan(ctx, key); err != nil {
		return fmt.Errorf("delete plan %s: %w", key, err)
	}
	s.Invalidate(key)
	return nil
}

// Invalidate drops a cached plan; an empty name clears the whole cache.
func (s *AllocationService) Invalidate(name string) {
	if s.cache == nil {
		return
	}
	if key := plans.NormalizeName(name); key != "" {
		s.cache.Delete(key)
		return
	}
	s.cache.Clear()
}
