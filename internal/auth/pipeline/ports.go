package pipeline

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Verifier,SessionCache,ActivityChecker,RejectionAuditor

import (
	"context"

	"meshgate/pkg/domain"
)

// Verifier checks a raw session token and returns the embedded identity.
type Verifier interface {
	Verify(token string) (*domain.Identity, error)
}

// SessionCache holds recently verified identities by token.
type SessionCache interface {
	Lookup(ctx context.Context, token string) (*domain.Identity, bool, error)
	Store(ctx context.Context, token string, identity *domain.Identity) error
}

// ActivityChecker is the source of truth for whether an account is active.
type ActivityChecker interface {
	IsActive(ctx context.Context, userID domain.UserID) (bool, error)
}

// RejectionAuditor receives every rejection before it is returned. identity
// is nil when no identity was resolved.
type RejectionAuditor interface {
	OnRejected(ctx context.Context, identity *domain.Identity, rejection *Rejection, call CallContext)
}
