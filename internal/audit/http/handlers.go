package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/tenantguard/internal/audit"
	"github.com/odyssey-erp/tenantguard/internal/authz"
	"github.com/odyssey-erp/tenantguard/internal/platform/httpx"
)

const (
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
	maxPage           = 10000
	dateLayout        = "2006-01-02"
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Record, error)
}

// Handler serves the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	checker *authz.Checker
	guard   authz.Middleware
	now     func() time.Time
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService, checker *authz.Checker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		service: service,
		checker: checker,
		guard:   authz.Middleware{Checker: checker},
		now:     time.Now,
	}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if h.service == nil || h.checker == nil {
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusNotImplemented, ""))
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	filters, ok := h.authorize(w, r, filters)
	if !ok {
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServiceError(w, "load audit timeline", err)
		return
	}
	if result.Rows == nil {
		result.Rows = []audit.Record{}
	}
	httpx.JSON(w, http.StatusOK, result)
}

// handleCompanyTimeline serves a tenant's timeline addressed by path. The
// route is gated by the authz middleware before this runs.
func (h *Handler) handleCompanyTimeline(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusNotImplemented, ""))
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	filters.TenantID = chi.URLParam(r, "tenant")
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServiceError(w, "load company audit timeline", err)
		return
	}
	if result.Rows == nil {
		result.Rows = []audit.Record{}
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.service == nil || h.checker == nil {
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusNotImplemented, ""))
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	filters, ok := h.authorize(w, r, filters)
	if !ok {
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServiceError(w, "export audit timeline", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-timeline.csv\"")
	if err := audit.WriteCSV(w, rows); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// authorize runs the timeline query through the decision engine. A principal
// reading only its own history is checked as self access on USER; every other
// query is a READ on the tenant's COMPANY record, which confines non super
// admins to their own tenant.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, filters audit.TimelineFilters) (audit.TimelineFilters, bool) {
	p := authz.PrincipalFromContext(r.Context())
	var (
		opts   authz.Options
		params map[string]string
	)
	switch {
	case p != nil && !p.Role.IsSuperAdmin() && filters.TenantID == "" && filters.PrincipalID == p.ID:
		opts = authz.Options{Action: authz.ActionRead, ResourceType: authz.ResourceUser, AllowSelf: true, ResourceIDParam: "principal", Verb: authz.VerbList}
		params = map[string]string{"principal": filters.PrincipalID}
	default:
		if p != nil && !p.Role.IsSuperAdmin() && filters.TenantID == "" {
			filters.TenantID = p.Tenant()
		}
		opts = authz.Options{Action: authz.ActionRead, ResourceType: authz.ResourceCompany, ResourceIDParam: "tenant", Verb: authz.VerbList}
		params = map[string]string{"tenant": filters.TenantID}
		if p != nil && p.Role.IsSuperAdmin() && filters.TenantID == "" {
			opts.ResourceIDParam = ""
			filters.AllTenants = true
		}
	}
	result := h.checker.CheckPermission(r.Context(), p, opts, params)
	if !result.Allowed {
		httpx.WriteProblem(w, result.Response)
		return filters, false
	}
	return filters, true
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	filters := audit.TimelineFilters{
		TenantID:     strings.TrimSpace(q.Get("tenant")),
		PrincipalID:  strings.TrimSpace(q.Get("principal")),
		Action:       strings.TrimSpace(q.Get("action")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		Outcome:      audit.Outcome(strings.ToUpper(strings.TrimSpace(q.Get("outcome")))),
		Page:         1,
	}
	if filters.Outcome != "" && !filters.Outcome.Valid() {
		return filters, validationError{field: "outcome"}
	}

	now := h.now().UTC()
	toStr := strings.TrimSpace(q.Get("to"))
	if toStr == "" {
		toStr = now.Format(dateLayout)
	}
	toDay, err := time.Parse(dateLayout, toStr)
	if err != nil {
		return filters, validationError{field: "to"}
	}
	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		fromStr = toDay.Add(-defaultDateRange).Format(dateLayout)
	}
	fromDay, err := time.Parse(dateLayout, fromStr)
	if err != nil {
		return filters, validationError{field: "from"}
	}
	if fromDay.After(toDay) || toDay.Sub(fromDay) > maxDateRangeHours*time.Hour {
		return filters, validationError{field: "range"}
	}
	filters.From = fromDay
	// The to date is inclusive.
	filters.To = toDay.Add(24 * time.Hour)

	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > maxPage {
			return filters, validationError{field: "page"}
		}
		filters.Page = parsed
	}
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return filters, validationError{field: "page_size"}
		}
		filters.PageSize = parsed
	}
	return filters, nil
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var v validationError
	if errors.As(err, &v) {
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusBadRequest, "invalid "+v.field))
		return
	}
	h.handleServiceError(w, "validate filters", err)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, audit.ErrScopeRequired), errors.Is(err, audit.ErrInvalidEntry):
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusBadRequest, err.Error()))
		return
	}
	h.logger.Error(message, slog.Any("error", err))
	httpx.RespondError(w, err)
}

type validationError struct {
	field string
}

func (validationError) Error() string {
	return "validation failed"
}
