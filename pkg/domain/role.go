package domain

import (
	"encoding/json"
	"fmt"
	"slices"

	platformstrings "meshgate/pkg/platform/strings"
)

// Role is a tag from the closed role enumeration.
type Role string

const (
	RoleSuperAdmin Role = "ROLE_SUPERADMIN"
	RoleAdmin      Role = "ROLE_ADMIN"
	RoleApprover   Role = "ROLE_APPROVER"
	RoleModifier   Role = "ROLE_MODIFIER"
	RoleUser       Role = "ROLE_USER"
)

var knownRoles = map[Role]struct{}{
	RoleSuperAdmin: {},
	RoleAdmin:      {},
	RoleApprover:   {},
	RoleModifier:   {},
	RoleUser:       {},
}

// ParseRole rejects tags outside the enumeration.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

func (r Role) IsValid() bool {
	_, ok := knownRoles[r]
	return ok
}

func (r Role) String() string { return string(r) }

// RoleSet is an unordered, de-duplicated set of roles. The zero value is an
// empty set and safe to read.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from roles, dropping duplicates.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// ParseRoles trims, de-duplicates and validates raw role tags.
func ParseRoles(raw []string) (RoleSet, error) {
	cleaned := platformstrings.DedupeAndTrim(raw)
	s := make(RoleSet, len(cleaned))
	for _, v := range cleaned {
		r, err := ParseRole(v)
		if err != nil {
			return nil, err
		}
		s[r] = struct{}{}
	}
	return s, nil
}

func (s RoleSet) Len() int { return len(s) }

func (s RoleSet) IsEmpty() bool { return len(s) == 0 }

func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// Union returns a new set holding the roles of both sets.
func (s RoleSet) Union(other RoleSet) RoleSet {
	out := make(RoleSet, len(s)+len(other))
	for r := range s {
		out[r] = struct{}{}
	}
	for r := range other {
		out[r] = struct{}{}
	}
	return out
}

// Intersects reports whether the sets share at least one role.
func (s RoleSet) Intersects(other RoleSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for r := range small {
		if _, ok := large[r]; ok {
			return true
		}
	}
	return false
}

// Slice returns the roles in sorted order.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Strings returns the role tags in sorted order.
func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(s))
	for _, r := range s.Slice() {
		out = append(out, string(r))
	}
	return out
}

func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *RoleSet) UnmarshalJSON(b []byte) error {
	var raw []string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseRoles(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
