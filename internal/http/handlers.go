package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"allocator/internal/core"
	"allocator/internal/log"
	"allocator/internal/report"
)

// sourceTimeout bounds a single plan source call made on behalf of a request.
const sourceTimeout = 10 * time.Second

type planResponse struct {
	Plan            string                `json:"plan"`
	Entries         core.Plan             `json:"entries"`
	PercentageSum   float64               `json:"percentage_sum"`
	WithinTolerance bool                  `json:"within_tolerance"`
	Warning         string                `json:"warning,omitempty"`
	Categories      []core.CategoryAmount `json:"categories"`
}

type allocationResponse struct {
	Plan    string `json:"plan"`
	Warning string `json:"warning,omitempty"`
	report.Document
}

// handleHealth performs a basic liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady performs a readiness check against the plan source.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), sourceTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{
		"default_plan": s.svc.DefaultPlan(),
	}

	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err.Error())
			checks["plan_source"] = "failed: " + err.Error()
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["plan_source"] = "ok"
		}
	} else {
		checks["plan_source"] = "ok"
	}

	rateLimitHits, suspicious := s.security.snapshot()
	checks["rate_limiter"] = map[string]any{
		"active_clients":      s.rateLimiter.activeClients(),
		"rate_limit_hits":     rateLimitHits,
		"suspicious_requests": suspicious,
	}

	NewJSONResponse().Status(httpStatus).Body(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), sourceTimeout)
	defer cancel()

	names, err := s.svc.ListPlans(ctx)
	if err != nil {
		s.writeError(w, r, err, log.OpList)
		return
	}
	if names == nil {
		names = []string{}
	}
	NewJSONResponse().Body(map[string]any{
		"plans":   names,
		"default": s.svc.DefaultPlan(),
	}).Write(w)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), sourceTimeout)
	defer cancel()

	in, err := s.svc.Inspect(ctx, chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err, log.OpLoad)
		return
	}
	entries := in.Entries
	if entries == nil {
		entries = core.Plan{}
	}
	NewJSONResponse().Body(planResponse{
		Plan:            in.Plan,
		Entries:         entries,
		PercentageSum:   in.SumCheck.Sum,
		WithinTolerance: in.SumCheck.WithinTolerance,
		Warning:         in.Warning(),
		Categories:      in.Categories,
	}).Write(w)
}

func (s *Server) handleSavePlan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), sourceTimeout)
	defer cancel()

	name := chi.URLParam(r, "name")
	plan, err := ParsePlanBody(r)
	if err != nil {
		s.writeError(w, r, err, log.OpParse)
		return
	}
	if err := s.svc.SavePlan(ctx, name, plan); err != nil {
		s.writeError(w, r, err, log.OpSave)
		return
	}
	log.FromContext(ctx).InfoContext(ctx, "Plan saved", log.FieldPlan, name, log.FieldEntries, len(plan))

	check := core.CheckPercentageSum(plan)
	NewJSONResponse().Status(http.StatusCreated).Body(map[string]any{
		"plan":             name,
		"entries":          len(plan),
		"percentage_sum":   check.Sum,
		"within_tolerance": check.WithinTolerance,
	}).Write(w)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), sourceTimeout)
	defer cancel()

	name := chi.URLParam(r, "name")
	if err := s.svc.DeletePlan(ctx, name); err != nil {
		s.writeError(w, r, err, log.OpDelete)
		return
	}
	log.FromContext(ctx).InfoContext(ctx, "Plan deleted", log.FieldPlan, name)
	w.WriteHeader(http.StatusNoContent)
}

// handleAllocate computes an allocation. The plan comes from the path, the
// body's "plan" field, or the default plan, in that order.
func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), sourceTimeout)
	defer cancel()

	req, err := ParseAllocationRequest(r)
	if err != nil {
		s.writeError(w, r, err, log.OpParse)
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" {
		name = req.Plan
	}

	res, err := s.svc.Calculate(ctx, name, req.Amount)
	if err != nil {
		s.writeError(w, r, err, log.OpCompute)
		return
	}

	if strings.EqualFold(req.Format, report.FormatText) {
		NewJSONResponse().Text(report.Text(res.Allocation) + "\n").Write(w)
		return
	}
	NewJSONResponse().Body(allocationResponse{
		Plan:     res.Plan,
		Warning:  res.Warning(),
		Document: report.NewDocument(res.Allocation, res.SumCheck),
	}).Write(w)
}

// writeError logs server-side failures and writes the mapped error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	resp := ErrorFor(err)
	if resp.statusCode >= http.StatusInternalServerError {
		ctx := r.Context()
		log.NewStructuredLogger(log.FromContext(ctx)).
			LogError(ctx, "Request failed", err, log.ComponentHTTP, op, nil)
	}
	resp.Write(w)
}
