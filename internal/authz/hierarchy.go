package authz

import (
	"context"
	"log/slog"
)

// Hierarchy applies the fixed super-admin / company-admin precedence.
type Hierarchy struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewHierarchy constructs the evaluator.
func NewHierarchy(logger *slog.Logger, metrics *Metrics) *Hierarchy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hierarchy{logger: logger, metrics: metrics}
}

// Evaluate returns a decision when a hierarchy shortcut applies. The second
// return value is false when the request must go through the general
// mechanism.
func (h *Hierarchy) Evaluate(ctx context.Context, p *Principal, req Request, scope *scopeLookup) (Decision, bool) {
	if p == nil {
		return Decision{}, false
	}
	if p.Role.IsSuperAdmin() {
		return Decision{Outcome: OutcomeAllow, Path: PathSuperAdmin}, true
	}
	if !p.Role.IsCompanyAdmin() {
		return Decision{}, false
	}
	if !p.HasTenant() {
		h.logger.WarnContext(ctx, "company admin without tenant",
			slog.String("principal_id", p.ID),
			slog.String("action", string(req.Action)),
			slog.String("resource_type", string(req.ResourceType)))
		h.metrics.observeTenantlessAdmin()
		return Decision{}, false
	}
	if req.ResourceType != ResourceUser {
		return Decision{}, false
	}
	if req.Action == ActionCreate {
		return Decision{Outcome: OutcomeAllow, Path: PathHierarchy, TenantID: p.TenantID}, true
	}
	tenant, err := scope.resolve(ctx)
	if err != nil {
		// Not found and storage failures are answered by the general path.
		return Decision{}, false
	}
	if sameTenant(tenant, p.TenantID) {
		return Decision{Outcome: OutcomeAllow, Path: PathHierarchy, TenantID: tenant}, true
	}
	return Decision{}, false
}
