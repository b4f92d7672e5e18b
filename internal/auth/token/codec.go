// Package token issues and verifies the signed session tokens that carry an
// Identity snapshot.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"meshgate/pkg/domain"
	"meshgate/pkg/platform/sentinel"
)

var (
	// ErrMalformed covers undecodable tokens, bad signatures and foreign
	// algorithms. Callers must not tell these apart.
	ErrMalformed = fmt.Errorf("session token: %w", sentinel.ErrMalformed)
	// ErrExpired is returned only for correctly signed tokens past exp.
	ErrExpired = fmt.Errorf("session token: %w", sentinel.ErrExpired)
)

// Claims is the JWT payload of a session token.
type Claims struct {
	UserID string   `json:"uid"`
	Login  string   `json:"login"`
	Roles  []string `json:"roles"`
	Active bool     `json:"active"`
	jwt.RegisteredClaims
}

// Codec signs session tokens with HS256.
type Codec struct {
	signingKey []byte
	issuer     string
	clock      func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides time.Now for issuance and expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(c *Codec) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func New(signingKey, issuer string, opts ...Option) *Codec {
	c := &Codec{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue signs identity with exp = now + ttl. The same identity issued at the
// same instant yields the same token.
func (c *Codec) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	if identity.UserID.IsNil() {
		return "", errors.New("issue session token: identity has no user id")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("issue session token: ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	now := c.clock()
	claims := Claims{
		UserID: identity.UserID.String(),
		Login:  identity.Login,
		Roles:  identity.Roles.Strings(),
		Active: identity.Active,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks signature integrity and exp > now and returns the embedded
// identity. Signature comparison is constant-time (crypto/hmac).
func (c *Codec) Verify(tokenString string) (*domain.Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	return claims.identity()
}

func (cl *Claims) identity() (*domain.Identity, error) {
	userID, err := domain.ParseUserID(cl.UserID)
	if err != nil {
		return nil, ErrMalformed
	}
	roles, err := domain.ParseRoles(cl.Roles)
	if err != nil {
		return nil, ErrMalformed
	}
	ident := &domain.Identity{
		UserID: userID,
		Login:  cl.Login,
		Roles:  roles,
		Active: cl.Active,
	}
	if cl.IssuedAt != nil {
		ident.IssuedAt = cl.IssuedAt.Time
	}
	if cl.ExpiresAt != nil {
		ident.ExpiresAt = cl.ExpiresAt.Time
	}
	return ident, nil
}
