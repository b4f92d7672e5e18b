package models

import (
	"net/mail"
	"strings"
	"time"

	"meshgate/pkg/domain"
	dErrors "meshgate/pkg/domain-errors"
)

// Lang is a user's preferred language.
type Lang string

const (
	LangES Lang = "es"
	LangCA Lang = "ca"
	LangEN Lang = "en"
	LangIT Lang = "it"
	LangFR Lang = "fr"
)

// DefaultLang is assigned when a user has no language preference.
const DefaultLang = LangES

func (l Lang) IsValid() bool {
	switch l {
	case LangES, LangCA, LangEN, LangIT, LangFR:
		return true
	}
	return false
}

// User is a stored account.
type User struct {
	ID             domain.UserID
	Login          string
	FirstName      string
	LastName       string
	Email          string
	LangKey        Lang
	Roles          domain.RoleSet
	Active         bool
	PasswordHash   string
	CreatedBy      *domain.UserID
	CreatedAt      time.Time
	LastModifiedBy *domain.UserID
	LastModifiedAt *time.Time
}

// Identity returns the authenticated form of u.
func (u *User) Identity() domain.Identity {
	return domain.Identity{
		UserID: u.ID,
		Login:  u.Login,
		Roles:  u.Roles,
		Active: u.Active,
	}
}

// Validate checks the invariants every stored user satisfies.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Login) == "" {
		return dErrors.New(dErrors.CodeValidation, "login is required")
	}
	if strings.TrimSpace(u.FirstName) == "" {
		return dErrors.New(dErrors.CodeValidation, "firstName is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	if !u.LangKey.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "langKey is invalid")
	}
	if u.Roles.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "at least one role is required")
	}
	return nil
}

// View is the public representation of a user. It never carries the
// password hash.
type View struct {
	ID             string     `json:"_id"`
	Login          string     `json:"login"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName,omitempty"`
	Email          string     `json:"email"`
	LangKey        Lang       `json:"langKey"`
	Roles          []string   `json:"roles"`
	Active         bool       `json:"active"`
	CreatedBy      string     `json:"createdBy,omitempty"`
	CreatedAt      time.Time  `json:"createdDate"`
	LastModifiedBy string     `json:"lastModifiedBy,omitempty"`
	LastModifiedAt *time.Time `json:"lastModifiedDate,omitempty"`
}

func (u *User) View() View {
	v := View{
		ID:             u.ID.String(),
		Login:          u.Login,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Email:          u.Email,
		LangKey:        u.LangKey,
		Roles:          u.Roles.Strings(),
		Active:         u.Active,
		CreatedAt:      u.CreatedAt,
		LastModifiedAt: u.LastModifiedAt,
	}
	if u.CreatedBy != nil {
		v.CreatedBy = u.CreatedBy.String()
	}
	if u.LastModifiedBy != nil {
		v.LastModifiedBy = u.LastModifiedBy.String()
	}
	return v
}

// CreateParams are the fields accepted when creating a user.
type CreateParams struct {
	Login     string   `json:"login"`
	Password  string   `json:"password"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	LangKey   string   `json:"langKey"`
	Roles     []string `json:"roles"`
	Active    *bool    `json:"active"`
}

// UpdateParams carries a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Login     *string   `json:"login"`
	Password  *string   `json:"password"`
	FirstName *string   `json:"firstName"`
	LastName  *string   `json:"lastName"`
	Email     *string   `json:"email"`
	LangKey   *string   `json:"langKey"`
	Roles     *[]string `json:"roles"`
	Active    *bool     `json:"active"`
}
