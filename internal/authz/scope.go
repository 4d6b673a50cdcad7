package authz

import (
	"context"
	"errors"
)

// ScopeRepository reads the single tenant-owning column of a resource.
// Implementations return ErrResourceNotFound when the id does not resolve.
type ScopeRepository interface {
	TenantOf(ctx context.Context, resourceType ResourceType, resourceID string) (*string, error)
}

// ScopeChecker resolves ownership and tenant scope for a request.
type ScopeChecker struct {
	repo ScopeRepository
}

// NewScopeChecker constructs a ScopeChecker.
func NewScopeChecker(repo ScopeRepository) *ScopeChecker {
	return &ScopeChecker{repo: repo}
}

// IsSelf reports whether the request targets the principal's own user record
// and the call site opted into self access.
func (c *ScopeChecker) IsSelf(p *Principal, req Request) bool {
	if p == nil || !req.AllowSelf || req.ResourceType != ResourceUser {
		return false
	}
	return req.ResourceID != "" && req.ResourceID == p.ID
}

// ResolveTenant returns the tenant that owns the resource.
func (c *ScopeChecker) ResolveTenant(ctx context.Context, resourceType ResourceType, resourceID string) (*string, error) {
	if resourceType.IsLegacy() {
		return nil, ErrNoScope
	}
	if c == nil || c.repo == nil {
		return nil, errors.New("authz: scope repository not configured")
	}
	if resourceType == ResourceCompany {
		// A company is its own tenant; the read still proves existence.
		if _, err := c.repo.TenantOf(ctx, resourceType, resourceID); err != nil {
			return nil, err
		}
		return TenantRef(resourceID), nil
	}
	return c.repo.TenantOf(ctx, resourceType, resourceID)
}

// scopeLookup memoises tenant resolution for one decision so the hierarchy
// fast-path and the general mechanism share a single read.
type scopeLookup struct {
	checker   *ScopeChecker
	principal *Principal
	req       Request
	done      bool
	tenant    *string
	err       error
}

func (c *ScopeChecker) lookup(p *Principal, req Request) *scopeLookup {
	return &scopeLookup{checker: c, principal: p, req: req}
}

// resolve returns the owning tenant. Collection-level requests resolve to
// the principal's own tenant without touching storage.
func (l *scopeLookup) resolve(ctx context.Context) (*string, error) {
	if l.done {
		return l.tenant, l.err
	}
	l.done = true
	if l.req.ResourceID == "" {
		l.tenant = l.principal.TenantID
		return l.tenant, nil
	}
	l.tenant, l.err = l.checker.ResolveTenant(ctx, l.req.ResourceType, l.req.ResourceID)
	return l.tenant, l.err
}
