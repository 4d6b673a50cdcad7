package authz

import (
	"context"
	"errors"
	"log/slog"
)

// DenialRecorder persists the audit record for a denied attempt. It must
// swallow its own failures; the engine never waits on a retry.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, denial Denial)
}

// EngineConfig collects the engine's collaborators.
type EngineConfig struct {
	Scopes   *ScopeChecker
	Grants   GrantSource
	Policies PolicySet
	Denials  DenialRecorder
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Engine is the permission decision engine. It holds no per-request state,
// so one instance serves concurrent checks.
type Engine struct {
	scopes    *ScopeChecker
	grants    GrantSource
	policies  PolicySet
	denials   DenialRecorder
	hierarchy *Hierarchy
	logger    *slog.Logger
	metrics   *Metrics
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policies := cfg.Policies
	if policies == nil {
		policies = PolicySet{}
	}
	return &Engine{
		scopes:    cfg.Scopes,
		grants:    cfg.Grants,
		policies:  policies,
		denials:   cfg.Denials,
		hierarchy: NewHierarchy(logger, cfg.Metrics),
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// Decide evaluates the request for the principal. Checks run cheapest and
// most privileged first; tenant resolution is deferred until needed and any
// lookup failure denies.
func (e *Engine) Decide(ctx context.Context, p *Principal, req Request) Decision {
	d := e.decide(ctx, p, req)
	e.metrics.observeDecision(d, req.ResourceType)
	if d.Outcome == OutcomeDeny {
		e.recordDenial(ctx, p, req, d)
	}
	return d
}

func (e *Engine) decide(ctx context.Context, p *Principal, req Request) Decision {
	if p == nil {
		return Decision{Outcome: OutcomeDeny, Reason: ReasonUnauthenticated, Path: PathUnauthenticated}
	}
	if p.Role.IsSuperAdmin() {
		return Decision{Outcome: OutcomeAllow, Path: PathSuperAdmin}
	}
	if !req.Action.Valid() || !req.ResourceType.Valid() {
		return Decision{Outcome: OutcomeDeny, Reason: ReasonInvalidRequest, Path: PathInvalid}
	}
	if req.ResourceIDRequired && req.ResourceID == "" {
		return Decision{Outcome: OutcomeDeny, Reason: ReasonMissingResourceID, Path: PathInvalid}
	}

	scope := e.scopes.lookup(p, req)
	if d, ok := e.hierarchy.Evaluate(ctx, p, req, scope); ok {
		return d
	}
	if e.scopes.IsSelf(p, req) {
		return Decision{Outcome: OutcomeAllow, Path: PathSelf, TenantID: p.TenantID}
	}

	tenant, err := scope.resolve(ctx)
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return Decision{Outcome: OutcomeNotFound, Reason: ReasonNotFound, Path: PathNotFound}
		}
		e.logger.ErrorContext(ctx, "resolve resource scope",
			slog.String("resource_type", string(req.ResourceType)),
			slog.String("resource_id", req.ResourceID),
			slog.Any("error", err))
		return Decision{Outcome: OutcomeDeny, Reason: ReasonScopeUnavailable, Path: PathScopeError}
	}

	if p.Role.IsCompanyAdmin() && sameTenant(tenant, p.TenantID) && e.policies.AdminTenantRights(req.ResourceType) {
		return Decision{Outcome: OutcomeAllow, Path: PathTenantAdmin, TenantID: tenant}
	}

	// Grants never reach across tenants; only tenant-less resources are
	// shared between tenants.
	if tenant != nil && !sameTenant(tenant, p.TenantID) {
		return Decision{Outcome: OutcomeDeny, Reason: ReasonInsufficient, Path: PathDenied, TenantID: tenant}
	}

	if e.grants == nil {
		return Decision{Outcome: OutcomeDeny, Reason: ReasonGrantsUnavailable, Path: PathGrantError, TenantID: tenant}
	}
	roles, err := e.grants.GrantsFor(ctx, req.Action, req.ResourceType)
	if err != nil {
		e.logger.ErrorContext(ctx, "load grants",
			slog.String("action", string(req.Action)),
			slog.String("resource_type", string(req.ResourceType)),
			slog.Any("error", err))
		return Decision{Outcome: OutcomeDeny, Reason: ReasonGrantsUnavailable, Path: PathGrantError, TenantID: tenant}
	}
	if roles.Has(p.Role) {
		return Decision{Outcome: OutcomeAllow, Path: PathGrant, TenantID: tenant}
	}
	return Decision{Outcome: OutcomeDeny, Reason: ReasonInsufficient, Path: PathDenied, TenantID: tenant}
}

func (e *Engine) recordDenial(ctx context.Context, p *Principal, req Request, d Decision) {
	denial := Denial{
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Verb:         req.Verb,
		Reason:       d.Reason,
		Path:         d.Path,
	}
	if p != nil {
		denial.PrincipalID = p.ID
		denial.TenantID = p.TenantID
	}
	e.logger.InfoContext(ctx, "authorization denied",
		slog.String("principal_id", denial.PrincipalID),
		slog.String("action", string(req.Action)),
		slog.String("resource_type", string(req.ResourceType)),
		slog.String("resource_id", req.ResourceID),
		slog.String("reason", d.Reason))
	if e.denials == nil {
		e.logger.WarnContext(ctx, "denial recorder not configured")
		return
	}
	e.denials.RecordDenial(ctx, denial)
}
