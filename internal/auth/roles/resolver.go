// Package roles merges route- and action-level role requirements and checks
// them against a caller's roles with at-least-one semantics.
package roles

import "meshgate/pkg/domain"

// Merge returns the union of the route and action requirements.
// An empty result means any authenticated caller is accepted.
func Merge(routeRoles, actionRoles domain.RoleSet) domain.RoleSet {
	return routeRoles.Union(actionRoles)
}

// IsSatisfied reports whether caller holds at least one required role.
// An empty requirement is always satisfied.
func IsSatisfied(required, caller domain.RoleSet) bool {
	if required.IsEmpty() {
		return true
	}
	return required.Intersects(caller)
}
