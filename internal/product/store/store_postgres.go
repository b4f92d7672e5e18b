package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"meshgate/internal/product/models"
	"meshgate/pkg/domain"
	"meshgate/pkg/platform/paging"
	"meshgate/pkg/platform/sentinel"
)

// PostgresStore persists products in the products table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const productColumns = `id, name, quantity, price, created_at, updated_at`

var sortColumns = map[string]string{
	"name":     "name",
	"price":    "price",
	"quantity": "quantity",
}

func (s *PostgresStore) Create(ctx context.Context, p *models.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(p.ID), p.Name, p.Quantity, p.Price, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, p *models.Product) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET name = $2, quantity = $3, price = $4, updated_at = $5 WHERE id = $1`,
		uuid.UUID(p.ID), p.Name, p.Quantity, p.Price, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return expectOne(res)
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.ProductID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return expectOne(res)
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.ProductID) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, uuid.UUID(id))
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return p, err
}

// AdjustQuantity adds delta to the stored quantity in a single statement.
func (s *PostgresStore) AdjustQuantity(ctx context.Context, id domain.ProductID, delta int64, at time.Time) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE products SET quantity = quantity + $2, updated_at = $3 WHERE id = $1 RETURNING `+productColumns,
		uuid.UUID(id), delta, at,
	)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) List(ctx context.Context, q paging.Query) ([]*models.Product, int, error) {
	where := ""
	args := []any{}
	if q.Search != "" {
		where = `WHERE name ILIKE $1`
		args = append(args, "%"+escapeLike(q.Search)+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM products `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	field, desc := q.SortField()
	column, ok := sortColumns[field]
	if !ok {
		column = "name"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM products %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		productColumns, where, column, dir, n+1, n+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, q.PageSize, q.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	return out, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*models.Product, error) {
	var (
		id uuid.UUID
		p  models.Product
	)
	if err := row.Scan(&id, &p.Name, &p.Quantity, &p.Price, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.ID = domain.ProductID(id)
	return &p, nil
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
