package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var root = &Principal{ID: "root", Role: RoleSuperAdmin}

type failingCache struct {
	invalidations int
}

func (c *failingCache) Fetch(ctx context.Context, action Action, rt ResourceType, load func(context.Context) ([]Role, error)) ([]Role, error) {
	return load(ctx)
}

func (c *failingCache) Invalidate(ctx context.Context) error {
	c.invalidations++
	return errors.New("redis unavailable")
}

func TestAddGrantIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	grants := NewGrants(store, nil, nil)
	g := Grant{Action: ActionRead, ResourceType: ResourceProject, Role: RoleEmployee}

	created, err := grants.AddGrant(context.Background(), root, g)
	require.NoError(t, err)
	require.True(t, created)

	created, err = grants.AddGrant(context.Background(), root, g)
	require.NoError(t, err)
	require.False(t, created)

	roles, err := grants.GrantsFor(context.Background(), ActionRead, ResourceProject)
	require.NoError(t, err)
	require.Equal(t, []Role{RoleEmployee}, roles.Roles())
}

func TestGrantMutationsRequireSuperAdmin(t *testing.T) {
	grants := NewGrants(newMemoryStore(), nil, nil)
	g := Grant{Action: ActionRead, ResourceType: ResourceTask, Role: RoleMember}
	admin := principal("a1", RoleCompanyAdmin, "T1")

	_, err := grants.AddGrant(context.Background(), admin, g)
	require.ErrorIs(t, err, ErrNotSuperAdmin)

	err = grants.RemoveGrant(context.Background(), nil, g)
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = grants.ReplaceRoles(context.Background(), admin, ActionRead, ResourceTask, []Role{RoleMember})
	require.ErrorIs(t, err, ErrNotSuperAdmin)

	_, err = grants.ListGrants(context.Background(), admin)
	require.ErrorIs(t, err, ErrNotSuperAdmin)
}

func TestSuperAdminCannotBeGranted(t *testing.T) {
	grants := NewGrants(newMemoryStore(), nil, nil)

	_, err := grants.AddGrant(context.Background(), root, Grant{Action: ActionRead, ResourceType: ResourceTask, Role: RoleSuperAdmin})
	require.ErrorIs(t, err, ErrSuperAdminGrant)

	_, err = grants.ReplaceRoles(context.Background(), root, ActionRead, ResourceTask, []Role{RoleMember, RoleSuperAdmin})
	require.ErrorIs(t, err, ErrSuperAdminGrant)
}

func TestGrantsForDropsStraySuperAdminRows(t *testing.T) {
	store := newMemoryStore()
	store.grants[Grant{Action: ActionDelete, ResourceType: ResourceLead, Role: RoleSuperAdmin}] = struct{}{}
	store.grants[Grant{Action: ActionDelete, ResourceType: ResourceLead, Role: RoleMember}] = struct{}{}
	grants := NewGrants(store, nil, nil)

	roles, err := grants.GrantsFor(context.Background(), ActionDelete, ResourceLead)

	require.NoError(t, err)
	require.False(t, roles.Has(RoleSuperAdmin))
	require.True(t, roles.Has(RoleMember))
}

func TestRemoveGrant(t *testing.T) {
	store := newMemoryStore()
	grants := NewGrants(store, nil, nil)
	g := Grant{Action: ActionUpdate, ResourceType: ResourceInvoice, Role: RoleMember}

	require.ErrorIs(t, grants.RemoveGrant(context.Background(), root, g), ErrGrantNotFound)

	_, err := grants.AddGrant(context.Background(), root, g)
	require.NoError(t, err)
	require.NoError(t, grants.RemoveGrant(context.Background(), root, g))

	roles, err := grants.GrantsFor(context.Background(), ActionUpdate, ResourceInvoice)
	require.NoError(t, err)
	require.Empty(t, roles)
}

func TestReplaceRolesDeduplicates(t *testing.T) {
	store := newMemoryStore()
	grants := NewGrants(store, nil, nil)
	_, err := grants.AddGrant(context.Background(), root, Grant{Action: ActionRead, ResourceType: ResourceClient, Role: "AUDITOR"})
	require.NoError(t, err)

	set, err := grants.ReplaceRoles(context.Background(), root, ActionRead, ResourceClient, []Role{RoleMember, RoleEmployee, RoleMember})
	require.NoError(t, err)
	require.Equal(t, []Role{RoleEmployee, RoleMember}, set.Roles())

	roles, err := grants.GrantsFor(context.Background(), ActionRead, ResourceClient)
	require.NoError(t, err)
	require.False(t, roles.Has("AUDITOR"))
	require.Len(t, roles, 2)
}

func TestGrantValidation(t *testing.T) {
	grants := NewGrants(newMemoryStore(), nil, nil)

	_, err := grants.AddGrant(context.Background(), root, Grant{Action: "LIST", ResourceType: ResourceTask, Role: RoleMember})
	require.ErrorIs(t, err, ErrUnknownAction)

	_, err = grants.AddGrant(context.Background(), root, Grant{Action: ActionRead, ResourceType: "WIDGET", Role: RoleMember})
	require.ErrorIs(t, err, ErrUnknownResourceType)

	_, err = grants.AddGrant(context.Background(), root, Grant{Action: ActionRead, ResourceType: ResourceTask, Role: " "})
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestInvalidationFailureSurfacesAfterDurableWrite(t *testing.T) {
	store := newMemoryStore()
	cache := &failingCache{}
	grants := NewGrants(store, cache, nil)
	g := Grant{Action: ActionCreate, ResourceType: ResourceTask, Role: RoleMember}

	created, err := grants.AddGrant(context.Background(), root, g)

	require.True(t, created)
	require.ErrorIs(t, err, ErrCacheInvalidation)
	require.Equal(t, 1, cache.invalidations)
	_, stored := store.grants[g]
	require.True(t, stored)

	// A repeated add changes nothing and so invalidates nothing.
	created, err = grants.AddGrant(context.Background(), root, g)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, 1, cache.invalidations)
}

func TestGrantsForWrapsRepositoryError(t *testing.T) {
	store := newMemoryStore()
	store.grantErr = errors.New("pool exhausted")
	grants := NewGrants(store, nil, nil)

	_, err := grants.GrantsFor(context.Background(), ActionRead, ResourceTask)

	require.ErrorContains(t, err, "pool exhausted")
	require.ErrorContains(t, err, "READ/TASK")
}
