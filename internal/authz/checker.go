package authz

import (
	"context"
	"net/http"
	"strings"

	"github.com/odyssey-erp/tenantguard/internal/platform/httpx"
)

// Options describes a call site's permission requirement.
type Options struct {
	Action       Action
	ResourceType ResourceType
	// AllowSelf lets a principal act on its own USER record without a grant.
	AllowSelf bool
	// ResourceIDParam names the route parameter carrying the target id. When
	// empty the check is collection-level.
	ResourceIDParam string
	// Verb keeps an aliased call-site verb (LIST, SEND) for the audit trail.
	Verb string
}

// CheckResult is the transport-facing verdict of CheckPermission.
type CheckResult struct {
	Allowed   bool
	Response  *httpx.ProblemDetail
	Principal *Principal
	Role      Role
	Decision  Decision
}

// Decider is satisfied by Engine.
type Decider interface {
	Decide(ctx context.Context, p *Principal, req Request) Decision
}

// Checker is the boundary where internal outcomes become transport codes.
type Checker struct {
	engine Decider
}

// NewChecker constructs a Checker.
func NewChecker(engine Decider) *Checker {
	return &Checker{engine: engine}
}

// CheckPermission evaluates opts for the principal. routeParams supplies the
// resource id when opts.ResourceIDParam is set.
func (c *Checker) CheckPermission(ctx context.Context, p *Principal, opts Options, routeParams map[string]string) CheckResult {
	req := Request{
		Action:       opts.Action,
		ResourceType: opts.ResourceType,
		AllowSelf:    opts.AllowSelf,
		Verb:         opts.Verb,
	}
	if opts.ResourceIDParam != "" {
		req.ResourceIDRequired = true
		req.ResourceID = strings.TrimSpace(routeParams[opts.ResourceIDParam])
	}
	d := c.engine.Decide(ctx, p, req)
	result := CheckResult{Allowed: d.Allowed(), Decision: d}
	if p != nil {
		result.Principal = p
		result.Role = p.Role
	}
	if !result.Allowed {
		result.Response = problemFor(d)
	}
	return result
}

func problemFor(d Decision) *httpx.ProblemDetail {
	switch {
	case d.Outcome == OutcomeNotFound:
		return httpx.NewProblem(http.StatusNotFound, d.Reason)
	case d.Reason == ReasonUnauthenticated:
		return httpx.NewProblem(http.StatusUnauthorized, d.Reason)
	default:
		return httpx.NewProblem(http.StatusForbidden, d.Reason)
	}
}

// NormalizeOptions resolves aliased verbs into Options.
func NormalizeOptions(verb string, resourceType ResourceType) (Options, error) {
	action, err := ParseAction(verb)
	if err != nil {
		return Options{}, err
	}
	opts := Options{Action: action, ResourceType: resourceType}
	if upper := strings.ToUpper(strings.TrimSpace(verb)); upper != string(action) {
		opts.Verb = upper
	}
	return opts, nil
}
