package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"meshgate/pkg/domain"
	dErrors "meshgate/pkg/domain-errors"
)

// MinNameLength is the shortest accepted product name.
const MinNameLength = 3

// Product is a stocked item.
type Product struct {
	ID        domain.ProductID `json:"_id"`
	Name      string           `json:"name"`
	Quantity  int64            `json:"quantity"`
	Price     float64          `json:"price"`
	CreatedAt time.Time        `json:"-"`
	UpdatedAt time.Time        `json:"-"`
}

// Validate checks the entity rules: a name of at least three characters and
// a positive price.
func (p *Product) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(p.Name)) < MinNameLength {
		return dErrors.New(dErrors.CodeValidation, "name must be at least 3 characters")
	}
	if !(p.Price > 0) {
		return dErrors.New(dErrors.CodeValidation, "price must be a positive number")
	}
	return nil
}

// CreateParams are the fields accepted when creating a product. Quantity
// always starts at zero.
type CreateParams struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// UpdateParams carries a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Name     *string  `json:"name"`
	Price    *float64 `json:"price"`
	Quantity *int64   `json:"quantity"`
}
