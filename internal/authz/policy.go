package authz

import (
	"strings"
)

// Policy narrows the default rules for one resource type.
type Policy struct {
	ResourceType ResourceType
	// AdminRequiresGrant removes company-admin blanket tenant rights for the
	// type; admins then need an explicit grant like any other role.
	AdminRequiresGrant bool
}

// PolicySet indexes policies by resource type.
type PolicySet map[ResourceType]Policy

// NewPolicySet builds a set; later policies for the same type win.
func NewPolicySet(policies ...Policy) PolicySet {
	set := make(PolicySet, len(policies))
	for _, p := range policies {
		set[p.ResourceType] = p
	}
	return set
}

// ParseNarrowedTypes builds a set from a comma separated list of resource
// types whose company-admin rights require explicit grants.
func ParseNarrowedTypes(raw string) (PolicySet, error) {
	set := PolicySet{}
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		rt, err := ParseResourceType(part)
		if err != nil {
			return nil, err
		}
		set[rt] = Policy{ResourceType: rt, AdminRequiresGrant: true}
	}
	return set, nil
}

// AdminTenantRights reports whether company admins get blanket rights on
// same-tenant resources of the type.
func (s PolicySet) AdminTenantRights(rt ResourceType) bool {
	if rt.IsLegacy() {
		return false
	}
	if p, ok := s[rt]; ok && p.AdminRequiresGrant {
		return false
	}
	return true
}

// Narrowed lists the resource types with narrowed admin rights.
func (s PolicySet) Narrowed() []ResourceType {
	var out []ResourceType
	for _, rt := range ResourceTypes() {
		if !s.AdminTenantRights(rt) {
			out = append(out, rt)
		}
	}
	return out
}
