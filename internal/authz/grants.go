package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// GrantRepository persists the permission table.
type GrantRepository interface {
	RolesFor(ctx context.Context, action Action, resourceType ResourceType) ([]Role, error)
	ListGrants(ctx context.Context) ([]Grant, error)
	InsertGrant(ctx context.Context, grant Grant) (bool, error)
	DeleteGrant(ctx context.Context, grant Grant) (bool, error)
	ReplaceRoles(ctx context.Context, action Action, resourceType ResourceType, roles []Role) error
}

// GrantCache fronts the repository for the read-mostly lookup path.
type GrantCache interface {
	Fetch(ctx context.Context, action Action, resourceType ResourceType, load func(context.Context) ([]Role, error)) ([]Role, error)
	Invalidate(ctx context.Context) error
}

// GrantSource is what the decision engine needs from the permission table.
type GrantSource interface {
	GrantsFor(ctx context.Context, action Action, resourceType ResourceType) (RoleSet, error)
}

// Grants is the permission table access layer. Mutations are reserved for
// super admins and are reached through a management surface that is not
// itself gated by the engine.
type Grants struct {
	repo   GrantRepository
	cache  GrantCache
	logger *slog.Logger
}

// NewGrants constructs the access layer. cache may be nil.
func NewGrants(repo GrantRepository, cache GrantCache, logger *slog.Logger) *Grants {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grants{repo: repo, cache: cache, logger: logger}
}

// GrantsFor returns the roles granted the action on the resource type.
func (g *Grants) GrantsFor(ctx context.Context, action Action, resourceType ResourceType) (RoleSet, error) {
	if g == nil || g.repo == nil {
		return nil, errors.New("authz: grant repository not configured")
	}
	load := func(ctx context.Context) ([]Role, error) {
		return g.repo.RolesFor(ctx, action, resourceType)
	}
	var (
		roles []Role
		err   error
	)
	if g.cache != nil {
		roles, err = g.cache.Fetch(ctx, action, resourceType, load)
	} else {
		roles, err = load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("authz: grants for %s/%s: %w", action, resourceType, err)
	}
	set := NewRoleSet(roles...)
	// The table never holds super admin rows; drop any that slipped in.
	delete(set, RoleSuperAdmin)
	return set, nil
}

// ListGrants returns every grant row.
func (g *Grants) ListGrants(ctx context.Context, actor *Principal) ([]Grant, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	return g.repo.ListGrants(ctx)
}

// AddGrant inserts a grant. Adding an existing grant is a no-op; the boolean
// reports whether a row was created.
func (g *Grants) AddGrant(ctx context.Context, actor *Principal, grant Grant) (bool, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return false, err
	}
	if err := grant.Validate(); err != nil {
		return false, err
	}
	created, err := g.repo.InsertGrant(ctx, grant)
	if err != nil {
		return false, fmt.Errorf("authz: add grant: %w", err)
	}
	if created {
		if err := g.invalidate(ctx); err != nil {
			return true, err
		}
	}
	return created, nil
}

// RemoveGrant deletes a grant. ErrGrantNotFound is returned when no row
// matched.
func (g *Grants) RemoveGrant(ctx context.Context, actor *Principal, grant Grant) error {
	if err := requireSuperAdmin(actor); err != nil {
		return err
	}
	if err := grant.Validate(); err != nil {
		return err
	}
	removed, err := g.repo.DeleteGrant(ctx, grant)
	if err != nil {
		return fmt.Errorf("authz: remove grant: %w", err)
	}
	if !removed {
		return ErrGrantNotFound
	}
	return g.invalidate(ctx)
}

// ReplaceRoles sets the complete role set for an (action, resource type).
func (g *Grants) ReplaceRoles(ctx context.Context, actor *Principal, action Action, resourceType ResourceType, roles []Role) (RoleSet, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	set := NewRoleSet(roles...)
	for role := range set {
		if err := (Grant{Action: action, ResourceType: resourceType, Role: role}).Validate(); err != nil {
			return nil, err
		}
	}
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if !resourceType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, resourceType)
	}
	if err := g.repo.ReplaceRoles(ctx, action, resourceType, set.Roles()); err != nil {
		return nil, fmt.Errorf("authz: replace roles: %w", err)
	}
	if err := g.invalidate(ctx); err != nil {
		return set, err
	}
	return set, nil
}

// invalidate drops cached grant views. The table change is already durable,
// so a failure here is surfaced for the operator to retry.
func (g *Grants) invalidate(ctx context.Context) error {
	if g.cache == nil {
		return nil
	}
	if err := g.cache.Invalidate(ctx); err != nil {
		g.logger.ErrorContext(ctx, "invalidate grant cache", slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrCacheInvalidation, err)
	}
	return nil
}

func requireSuperAdmin(actor *Principal) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if !actor.Role.IsSuperAdmin() {
		return ErrNotSuperAdmin
	}
	return nil
}
