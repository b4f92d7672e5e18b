// Package service implements the user account operations: login, account
// administration and the activity check the auth pipeline relies on.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"meshgate/internal/user/models"
	"meshgate/pkg/domain"
	dErrors "meshgate/pkg/domain-errors"
	"meshgate/pkg/email"
	"meshgate/pkg/platform/audit"
	"meshgate/pkg/platform/paging"
	"meshgate/pkg/platform/sentinel"
	"meshgate/pkg/requestcontext"
)

// DefaultTokenTTL is the lifetime of tokens issued at login.
const DefaultTokenTTL = 60 * 24 * time.Hour

const msgBadLogin = "User not valid or wrong password!"

// Store persists users.
type Store interface {
	Create(ctx context.Context, u *models.User) error
	Update(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, id domain.UserID) error
	FindByID(ctx context.Context, id domain.UserID) (*models.User, error)
	FindByLogin(ctx context.Context, login string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, q paging.Query) ([]*models.User, int, error)
	Count(ctx context.Context) (int, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(identity domain.Identity, ttl time.Duration) (string, error)
}

// Mutator serializes writes per entity and announces them once committed.
type Mutator interface {
	Mutate(ctx context.Context, kind domain.EntityKind, id string, change domain.ChangeKind, commit func(context.Context) error) error
}

// SecurityEmitter receives failed login attempts.
type SecurityEmitter interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token string      `json:"token"`
	User  models.View `json:"user"`
}

// Service implements the user operations.
type Service struct {
	users      Store
	issuer     TokenIssuer
	mutator    Mutator
	security   SecurityEmitter
	compliance audit.Store
	logger     *slog.Logger
	tokenTTL   time.Duration
	hashCost   int
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTokenTTL overrides the login token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithHashCost sets the bcrypt cost for new password hashes.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.hashCost = cost
		}
	}
}

// WithSecurityEmitter records failed logins.
func WithSecurityEmitter(e SecurityEmitter) Option {
	return func(s *Service) { s.security = e }
}

// WithComplianceStore records account lifecycle changes.
func WithComplianceStore(store audit.Store) Option {
	return func(s *Service) { s.compliance = store }
}

func New(users Store, issuer TokenIssuer, mutator Mutator, opts ...Option) *Service {
	s := &Service{
		users:    users,
		issuer:   issuer,
		mutator:  mutator,
		logger:   slog.Default(),
		tokenTTL: DefaultTokenTTL,
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login checks the credentials and issues a session token.
func (s *Service) Login(ctx context.Context, login, password string) (*LoginResult, error) {
	if strings.TrimSpace(login) == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, msgBadLogin)
	}
	u, err := s.users.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.loginFailed(ctx, login, "unknown login")
			return nil, dErrors.New(dErrors.CodeValidation, msgBadLogin)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if !u.Active {
		s.loginFailed(ctx, login, "inactive user")
		return nil, dErrors.New(dErrors.CodeForbidden, "User not active!")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.loginFailed(ctx, login, "wrong password")
		return nil, dErrors.New(dErrors.CodeValidation, msgBadLogin)
	}

	token, err := s.issuer.Issue(u.Identity(), s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	s.logger.InfoContext(ctx, "user logged in",
		"user_id", u.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return &LoginResult{Token: token, User: u.View()}, nil
}

// Create stores a new user created by actor.
func (s *Service) Create(ctx context.Context, actor *domain.Identity, params models.CreateParams) (*models.View, error) {
	if params.Password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "password is required")
	}
	roles, err := parseRoles(params.Roles)
	if err != nil {
		return nil, err
	}
	lang, err := parseLang(params.LangKey)
	if err != nil {
		return nil, err
	}
	hash, err := s.hash(params.Password)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		ID:           domain.NewUserID(),
		Login:        strings.TrimSpace(params.Login),
		FirstName:    strings.TrimSpace(params.FirstName),
		LastName:     strings.TrimSpace(params.LastName),
		Email:        strings.TrimSpace(params.Email),
		LangKey:      lang,
		Roles:        roles,
		Active:       params.Active != nil && *params.Active,
		PasswordHash: hash,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if u.FirstName == "" && u.LastName == "" {
		u.FirstName, u.LastName = email.NamesFromAddress(u.Email)
	}
	if actor != nil {
		creator := actor.UserID
		u.CreatedBy = &creator
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, u); err != nil {
		return nil, err
	}

	err = s.mutator.Mutate(ctx, domain.EntityUser, u.ID.String(), domain.ChangeCreated, func(ctx context.Context) error {
		return s.users.Create(ctx, u)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.recordCompliance(ctx, actor, u.ID, audit.ActionUserCreated)
	v := u.View()
	return &v, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, rawID string) (*models.View, error) {
	id, err := domain.ParseUserID(rawID)
	if err != nil {
		return nil, err
	}
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	v := u.View()
	return &v, nil
}

// GetMe returns the caller's own account.
func (s *Service) GetMe(ctx context.Context, identity *domain.Identity) (*models.View, error) {
	if identity == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return s.Get(ctx, identity.UserID.String())
}

// List returns a page of users.
func (s *Service) List(ctx context.Context, q paging.Query) (paging.Page[models.View], error) {
	q = q.Normalize()
	users, total, err := s.users.List(ctx, q)
	if err != nil {
		return paging.Page[models.View]{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list users")
	}
	views := make([]models.View, 0, len(users))
	for _, u := range users {
		views = append(views, u.View())
	}
	return paging.NewPage(views, total, q), nil
}

// Update applies a partial update made by actor.
func (s *Service) Update(ctx context.Context, actor *domain.Identity, rawID string, params models.UpdateParams) (*models.View, error) {
	id, err := domain.ParseUserID(rawID)
	if err != nil {
		return nil, err
	}

	var updated *models.User
	err = s.mutator.Mutate(ctx, domain.EntityUser, id.String(), domain.ChangeUpdated, func(ctx context.Context) error {
		u, err := s.users.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.apply(ctx, u, params); err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		u.LastModifiedAt = &now
		if actor != nil {
			modifier := actor.UserID
			u.LastModifiedBy = &modifier
		}
		if err := u.Validate(); err != nil {
			return err
		}
		if err := s.checkUnique(ctx, u); err != nil {
			return err
		}
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.recordCompliance(ctx, actor, id, audit.ActionUserUpdated)
	v := updated.View()
	return &v, nil
}

// Remove deletes a user. Users cannot remove themselves.
func (s *Service) Remove(ctx context.Context, actor *domain.Identity, rawID string) error {
	id, err := domain.ParseUserID(rawID)
	if err != nil {
		return err
	}
	if actor != nil && actor.UserID == id {
		return dErrors.New(dErrors.CodeBadRequest, "User can not delete itself!")
	}
	err = s.mutator.Mutate(ctx, domain.EntityUser, id.String(), domain.ChangeRemoved, func(ctx context.Context) error {
		return s.users.Delete(ctx, id)
	})
	if err != nil {
		return wrapStoreErr(err)
	}
	s.recordCompliance(ctx, actor, id, audit.ActionUserRemoved)
	return nil
}

// IsActive reports whether the user exists and is active. A missing user is
// inactive.
func (s *Service) IsActive(ctx context.Context, id domain.UserID) (bool, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.Active, nil
}

func (s *Service) apply(ctx context.Context, u *models.User, p models.UpdateParams) error {
	if p.Login != nil {
		u.Login = strings.TrimSpace(*p.Login)
	}
	if p.FirstName != nil {
		u.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		u.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.Email != nil {
		u.Email = strings.TrimSpace(*p.Email)
	}
	if p.LangKey != nil {
		lang, err := parseLang(*p.LangKey)
		if err != nil {
			return err
		}
		u.LangKey = lang
	}
	if p.Roles != nil {
		roles, err := parseRoles(*p.Roles)
		if err != nil {
			return err
		}
		u.Roles = roles
	}
	if p.Active != nil {
		u.Active = *p.Active
	}
	if p.Password != nil {
		if *p.Password == "" {
			return dErrors.New(dErrors.CodeValidation, "password must not be empty")
		}
		hash, err := s.hash(*p.Password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
	}
	return nil
}

// checkUnique reports a taken login or email with the field named. The store
// enforces uniqueness as well; this check only picks the message.
func (s *Service) checkUnique(ctx context.Context, u *models.User) error {
	if other, err := s.users.FindByLogin(ctx, u.Login); err == nil && other.ID != u.ID {
		return dErrors.New(dErrors.CodeConflict, "Username exist!")
	} else if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check login")
	}
	if other, err := s.users.FindByEmail(ctx, u.Email); err == nil && other.ID != u.ID {
		return dErrors.New(dErrors.CodeConflict, "Email exist!")
	} else if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check email")
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeValidation, "password is too long")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	return string(b), nil
}

func (s *Service) loginFailed(ctx context.Context, login, reason string) {
	s.logger.InfoContext(ctx, "login failed",
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.security == nil {
		return
	}
	s.security.Emit(ctx, audit.SecurityEvent{
		Subject:   login,
		Action:    audit.ActionLoginFailed,
		Reason:    reason,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Severity:  audit.SeverityWarning,
	})
}

func (s *Service) recordCompliance(ctx context.Context, actor *domain.Identity, subject domain.UserID, action audit.Action) {
	if s.compliance == nil {
		return
	}
	ev := audit.Event{
		Category:  action.Category(),
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject.String(),
		Action:    action,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Severity:  audit.SeverityInfo,
	}
	if actor != nil {
		ev.UserID = actor.UserID
	}
	if err := s.compliance.Append(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "failed to record compliance event",
			"error", err,
			"action", string(action),
			"request_id", ev.RequestID,
		)
	}
}

func parseRoles(raw []string) (domain.RoleSet, error) {
	if len(raw) == 0 {
		return domain.NewRoleSet(domain.RoleUser), nil
	}
	roles, err := domain.ParseRoles(raw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "roles contain an unknown role")
	}
	return roles, nil
}

func parseLang(raw string) (models.Lang, error) {
	if strings.TrimSpace(raw) == "" {
		return models.DefaultLang, nil
	}
	lang := models.Lang(strings.ToLower(strings.TrimSpace(raw)))
	if !lang.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "langKey is invalid")
	}
	return lang, nil
}

// wrapStoreErr maps store sentinels to coded errors and passes coded errors
// through.
func wrapStoreErr(err error) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "User not found!")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "Username or email exist!")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "user store failure")
	}
}
