package domain

import "time"

// Identity is the authenticated principal minted from a verified session
// token. A new snapshot is produced on every login; holders never mutate it.
type Identity struct {
	UserID    UserID    `json:"user_id"`
	Login     string    `json:"login"`
	Roles     RoleSet   `json:"roles"`
	Active    bool      `json:"active"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasAnyRole reports whether the identity holds at least one of roles.
func (i *Identity) HasAnyRole(roles RoleSet) bool {
	if i == nil {
		return false
	}
	return i.Roles.Intersects(roles)
}
