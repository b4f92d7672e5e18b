package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "meshgate/pkg/domain-errors"
)

// UserID identifies a user. Distinct from ProductID so the compiler rejects
// cross-entity mix-ups.
type UserID uuid.UUID

// ProductID identifies a product.
type ProductID uuid.UUID

// NewUserID returns a random user id.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewProductID returns a random product id.
func NewProductID() ProductID { return ProductID(uuid.New()) }

func parseUUID(kind, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return parsed, nil
}

// ParseUserID validates s at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user id", s)
	return UserID(u), err
}

// ParseProductID validates s at a trust boundary.
func ParseProductID(s string) (ProductID, error) {
	u, err := parseUUID("product id", s)
	return ProductID(u), err
}

// CanonicalUserID parses s and returns the id in the lowercase hyphenated
// form String produces.
func CanonicalUserID(s string) (string, error) {
	id, err := ParseUserID(s)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// CanonicalProductID is CanonicalUserID for product ids.
func CanonicalProductID(s string) (string, error) {
	id, err := ParseProductID(s)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (id UserID) String() string { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ProductID) String() string { return uuid.UUID(id).String() }
func (id ProductID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id ProductID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ProductID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
