package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"meshgate/internal/platform/postgres"
	"meshgate/internal/user/models"
	"meshgate/pkg/domain"
	"meshgate/pkg/platform/paging"
	"meshgate/pkg/platform/sentinel"
)

// PostgresStore persists users in the users table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, login, first_name, last_name, email, lang_key, roles, active,
	password_hash, created_by, created_at, last_modified_by, last_modified_at`

// sortColumns whitelists the columns a listing may be ordered by.
var sortColumns = map[string]string{
	"login":       "login",
	"email":       "email",
	"firstName":   "first_name",
	"lastName":    "last_name",
	"createdDate": "created_at",
}

func (s *PostgresStore) Create(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		uuid.UUID(u.ID), u.Login, u.FirstName, u.LastName, u.Email, string(u.LangKey),
		pq.Array(u.Roles.Strings()), u.Active, u.PasswordHash,
		nullableID(u.CreatedBy), u.CreatedAt, nullableID(u.LastModifiedBy), u.LastModifiedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("create user: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, u *models.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			login = $2, first_name = $3, last_name = $4, email = $5, lang_key = $6,
			roles = $7, active = $8, password_hash = $9,
			last_modified_by = $10, last_modified_at = $11
		WHERE id = $1
	`,
		uuid.UUID(u.ID), u.Login, u.FirstName, u.LastName, u.Email, string(u.LangKey),
		pq.Array(u.Roles.Strings()), u.Active, u.PasswordHash,
		nullableID(u.LastModifiedBy), u.LastModifiedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("update user: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("update user: %w", err)
	}
	return expectOne(res)
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.UserID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return expectOne(res)
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.UserID) (*models.User, error) {
	return s.findOne(ctx, `WHERE id = $1`, uuid.UUID(id))
}

func (s *PostgresStore) FindByLogin(ctx context.Context, login string) (*models.User, error) {
	return s.findOne(ctx, `WHERE lower(login) = lower($1)`, login)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, `WHERE lower(email) = lower($1)`, email)
}

func (s *PostgresStore) List(ctx context.Context, q paging.Query) ([]*models.User, int, error) {
	where := ""
	args := []any{}
	if q.Search != "" {
		where = `WHERE login ILIKE $1 OR email ILIKE $1 OR first_name ILIKE $1 OR last_name ILIKE $1`
		args = append(args, "%"+escapeLike(q.Search)+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	field, desc := q.SortField()
	column, ok := sortColumns[field]
	if !ok {
		column = "login"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM users %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		userColumns, where, column, dir, n+1, n+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, q.PageSize, q.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) findOne(ctx context.Context, where string, arg any) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return u, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var (
		id, createdBy, modifiedBy uuid.NullUUID
		lang                      string
		roles                     []string
		modifiedAt                sql.NullTime
		createdAt                 time.Time
		u                         models.User
	)
	err := row.Scan(&id, &u.Login, &u.FirstName, &u.LastName, &u.Email, &lang, pq.Array(&roles),
		&u.Active, &u.PasswordHash, &createdBy, &createdAt, &modifiedBy, &modifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	parsed, err := domain.ParseRoles(roles)
	if err != nil {
		return nil, fmt.Errorf("scan user roles: %w", err)
	}
	u.ID = domain.UserID(id.UUID)
	u.LangKey = models.Lang(lang)
	u.Roles = parsed
	u.CreatedAt = createdAt
	if createdBy.Valid {
		v := domain.UserID(createdBy.UUID)
		u.CreatedBy = &v
	}
	if modifiedBy.Valid {
		v := domain.UserID(modifiedBy.UUID)
		u.LastModifiedBy = &v
	}
	if modifiedAt.Valid {
		t := modifiedAt.Time
		u.LastModifiedAt = &t
	}
	return &u, nil
}

func nullableID(id *domain.UserID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
