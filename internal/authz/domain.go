package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Role names the role held by a principal.
type Role string

// Well-known roles. Any other non-empty name is a valid bespoke role that can
// only be granted through the permission table.
const (
	RoleSuperAdmin   Role = "SUPER_ADMIN"
	RoleCompanyAdmin Role = "COMPANY_ADMIN"
	RoleMember       Role = "MEMBER"
	RoleEmployee     Role = "EMPLOYEE"
)

// ParseRole normalises a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if role == "" {
		return "", ErrInvalidRole
	}
	return role, nil
}

// IsSuperAdmin reports whether the role bypasses every check.
func (r Role) IsSuperAdmin() bool { return r == RoleSuperAdmin }

// IsCompanyAdmin reports whether the role holds tenant-wide authority.
func (r Role) IsCompanyAdmin() bool { return r == RoleCompanyAdmin }

// ResourceType is the closed set of resource kinds the engine understands.
type ResourceType string

const (
	ResourceUser        ResourceType = "USER"
	ResourceCompany     ResourceType = "COMPANY"
	ResourceClient      ResourceType = "CLIENT"
	ResourceProject     ResourceType = "PROJECT"
	ResourceTask        ResourceType = "TASK"
	ResourcePayment     ResourceType = "PAYMENT"
	ResourceInvoice     ResourceType = "INVOICE"
	ResourceProduct     ResourceType = "PRODUCT"
	ResourceLead        ResourceType = "LEAD"
	ResourceOpportunity ResourceType = "OPPORTUNITY"
	// ResourceOther is kept for legacy call sites only. It has no tenant
	// scope and never benefits from company-admin tenant rights.
	ResourceOther ResourceType = "OTHER"
)

var resourceTypes = map[ResourceType]struct{}{
	ResourceUser:        {},
	ResourceCompany:     {},
	ResourceClient:      {},
	ResourceProject:     {},
	ResourceTask:        {},
	ResourcePayment:     {},
	ResourceInvoice:     {},
	ResourceProduct:     {},
	ResourceLead:        {},
	ResourceOpportunity: {},
	ResourceOther:       {},
}

// ResourceTypes returns every known resource type in a stable order.
func ResourceTypes() []ResourceType {
	out := make([]ResourceType, 0, len(resourceTypes))
	for rt := range resourceTypes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseResourceType validates and normalises a resource type name.
func ParseResourceType(raw string) (ResourceType, error) {
	rt := ResourceType(strings.ToUpper(strings.TrimSpace(raw)))
	if !rt.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownResourceType, raw)
	}
	return rt, nil
}

// Valid reports whether the resource type belongs to the closed set.
func (rt ResourceType) Valid() bool {
	_, ok := resourceTypes[rt]
	return ok
}

// IsLegacy reports whether the type is the quarantined OTHER bucket.
func (rt ResourceType) IsLegacy() bool { return rt == ResourceOther }

// Action is one of the four verbs the permission table is keyed by.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Verb aliases observed at call sites. They are folded onto a canonical
// action; the original verb travels with the request for auditing.
const (
	VerbList = "LIST"
	VerbSend = "SEND"
)

var actionAliases = map[string]Action{
	string(ActionCreate): ActionCreate,
	string(ActionRead):   ActionRead,
	string(ActionUpdate): ActionUpdate,
	string(ActionDelete): ActionDelete,
	VerbList:             ActionRead,
	VerbSend:             ActionUpdate,
}

// ParseAction maps a verb (including aliases) onto its canonical action.
func ParseAction(raw string) (Action, error) {
	action, ok := actionAliases[strings.ToUpper(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
	return action, nil
}

// Valid reports whether the action is canonical.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Principal is the already-authenticated actor of a request.
type Principal struct {
	ID       string
	Role     Role
	TenantID *string
}

// HasTenant reports whether the principal belongs to a tenant.
func (p *Principal) HasTenant() bool {
	return p != nil && p.TenantID != nil && *p.TenantID != ""
}

// Tenant returns the tenant id or an empty string.
func (p *Principal) Tenant() string {
	if !p.HasTenant() {
		return ""
	}
	return *p.TenantID
}

// TenantRef is a convenience for building optional tenant ids.
func TenantRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func sameTenant(a, b *string) bool {
	if a == nil || b == nil {
		return false
	}
	return *a != "" && *a == *b
}

// Grant binds an (action, resource type) pair to one role.
type Grant struct {
	Action       Action       `json:"action"`
	ResourceType ResourceType `json:"resource_type"`
	Role         Role         `json:"role"`
}

// Validate checks the grant is storable.
func (g Grant) Validate() error {
	if !g.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, g.Action)
	}
	if !g.ResourceType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownResourceType, g.ResourceType)
	}
	if strings.TrimSpace(string(g.Role)) == "" {
		return ErrInvalidRole
	}
	if g.Role.IsSuperAdmin() {
		return ErrSuperAdminGrant
	}
	return nil
}

// RoleSet is the set of roles granted for one (action, resource type) pair.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from a slice, dropping duplicates.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r == "" {
			continue
		}
		set[r] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Roles returns the members sorted by name.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Request describes a single operation to authorise.
type Request struct {
	Action       Action
	ResourceType ResourceType
	// ResourceID is empty for collection-level operations, which always run
	// inside the caller's own tenant.
	ResourceID string
	// ResourceIDRequired marks call sites that target one instance; an empty
	// ResourceID is then rejected instead of treated as a collection.
	ResourceIDRequired bool
	// AllowSelf opts the call site into the self-access exception.
	AllowSelf bool
	// Verb is the verb used at the call site when it was an alias.
	Verb string
}

// Outcome is the terminal state of a decision.
type Outcome int

const (
	OutcomeDeny Outcome = iota
	OutcomeAllow
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "deny"
	}
}

// Decision paths, recorded in metrics and logs.
const (
	PathUnauthenticated = "unauthenticated"
	PathInvalid         = "invalid_request"
	PathSuperAdmin      = "super_admin"
	PathHierarchy       = "hierarchy"
	PathSelf            = "self"
	PathTenantAdmin     = "tenant_admin"
	PathGrant           = "grant"
	PathScopeError      = "scope_error"
	PathGrantError      = "grant_error"
	PathDenied          = "denied"
	PathNotFound        = "not_found"
)

// Deny reasons surfaced to callers.
const (
	ReasonUnauthenticated   = "unauthenticated"
	ReasonInsufficient      = "insufficient permissions"
	ReasonNotFound          = "resource not found"
	ReasonInvalidRequest    = "invalid authorization request"
	ReasonMissingResourceID = "missing resource identifier"
	ReasonScopeUnavailable  = "resource scope unavailable"
	ReasonGrantsUnavailable = "permission table unavailable"
)

// Decision is the engine's verdict for one request.
type Decision struct {
	Outcome Outcome
	Reason  string
	Path    string
	// TenantID is the resolved owning tenant, when resolution happened.
	TenantID *string
}

// Allowed reports whether the outcome is Allow.
func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

// Denial carries what the audit trail needs about a denied attempt.
type Denial struct {
	PrincipalID  string
	TenantID     *string
	Action       Action
	ResourceType ResourceType
	ResourceID   string
	Verb         string
	Reason       string
	Path         string
}
