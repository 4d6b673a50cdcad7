package authz

import "errors"

var (
	// ErrResourceNotFound indicates the target resource does not exist.
	ErrResourceNotFound = errors.New("authz: resource not found")
	// ErrUnknownResourceType indicates a resource type outside the closed set.
	ErrUnknownResourceType = errors.New("authz: unknown resource type")
	// ErrUnknownAction indicates an unsupported verb.
	ErrUnknownAction = errors.New("authz: unknown action")
	// ErrInvalidRole indicates an empty or malformed role name.
	ErrInvalidRole = errors.New("authz: invalid role")
	// ErrSuperAdminGrant rejects grants naming SUPER_ADMIN.
	ErrSuperAdminGrant = errors.New("authz: super admin cannot be granted")
	// ErrNotSuperAdmin rejects permission table mutations by other roles.
	ErrNotSuperAdmin = errors.New("authz: permission table requires super admin")
	// ErrUnauthenticated indicates no principal was supplied.
	ErrUnauthenticated = errors.New("authz: unauthenticated")
	// ErrNoScope indicates the resource type has no tenant scope resolver.
	ErrNoScope = errors.New("authz: resource type has no tenant scope")
	// ErrGrantNotFound indicates a removal targeted a missing grant.
	ErrGrantNotFound = errors.New("authz: grant not found")
	// ErrCacheInvalidation indicates a durable grant change whose cached
	// views could not be dropped.
	ErrCacheInvalidation = errors.New("authz: grant cache invalidation failed")
)
