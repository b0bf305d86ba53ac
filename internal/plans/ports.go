package plans

import (
	"context"
	"errors"
	"strings"

	"allocator/internal/core"
)

// ErrPlanNotFound is returned by readers when no plan is stored under a name.
var ErrPlanNotFound = errors.New("plan not found")

// Ports for plan sources.
type (
	PlanReader interface {
		// LoadPlan returns the ordered entries stored under name. Entries are
		// checked with core.ValidateEntries; the percentage sum is not.
		LoadPlan(ctx context.Context, name string) (core.Plan, error)
	}

	PlanLister interface {
		// ListPlans returns the names LoadPlan accepts, sorted.
		ListPlans(ctx context.Context) ([]string, error)
	}

	PlanWriter interface {
		// SavePlan replaces whatever is stored under name.
		SavePlan(ctx context.Context, name string, plan core.Plan) error
		// DeletePlan removes the plan stored under name or returns
		// ErrPlanNotFound.
		DeletePlan(ctx context.Context, name string) error
	}

	// Source is what the hosts need from a plan backend.
	Source interface {
		PlanReader
		PlanLister
	}
)

// NormalizeName trims a plan name and drops a known file extension so that
// "default", "default.json" and "default.toml" address the same plan.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	for _, ext := range []string{".json", ".toml"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
