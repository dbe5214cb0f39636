package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const productColumns = `id, name, description, price, image, category, stock, rating, num_reviews, created_at, updated_at`

// ProductFilter narrows a catalog listing. Empty fields match everything.
type ProductFilter struct {
	Category string
	Search   string
	Limit    int
	Offset   int
}

func (f ProductFilter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ListProducts returns one page of matching products, newest first, and
// the total number of matches.
func (s *Store) ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, int, error) {
	where, args := filter.where()

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM products"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM products%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		productColumns, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	products := []models.Product{}
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	return products, total, nil
}

// CountProducts returns the catalog size
func (s *Store) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM products")
	return n, err
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs. Missing ids are skipped.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// CreateProduct inserts a product and fills its timestamps
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (id, name, description, price, image, category, stock, rating, num_reviews)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		p.ID, p.Name, p.Description, p.Price, p.Image, p.Category, p.Stock, p.Rating, p.NumReviews,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

// UpdateProduct overwrites every mutable field of a product
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products
		SET name = $2, description = $3, price = $4, image = $5, category = $6,
		    stock = $7, rating = $8, num_reviews = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		p.ID, p.Name, p.Description, p.Price, p.Image, p.Category, p.Stock, p.Rating, p.NumReviews,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

// DeleteProduct removes a product. Cart lines referencing it cascade away;
// order snapshots are untouched.
func (s *Store) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return expectAffected(res)
}

// DuplicateGroup is a set of products whose names match ignoring case.
// IDs are ordered oldest first.
type DuplicateGroup struct {
	Name string
	IDs  []uuid.UUID
}

type duplicateRow struct {
	Name string         `db:"name"`
	IDs  pq.StringArray `db:"ids"`
}

const duplicateQuery = `
	SELECT (array_agg(name ORDER BY created_at, id))[1] AS name,
	       array_agg(id::text ORDER BY created_at, id) AS ids
	FROM products
	GROUP BY lower(name)
	HAVING count(*) > 1
	ORDER BY lower(name)`

func findDuplicates(ctx context.Context, q sqlx.QueryerContext) ([]DuplicateGroup, error) {
	var rows []duplicateRow
	if err := sqlx.SelectContext(ctx, q, &rows, duplicateQuery); err != nil {
		return nil, fmt.Errorf("failed to find duplicate products: %w", err)
	}

	groups := make([]DuplicateGroup, 0, len(rows))
	for _, r := range rows {
		g := DuplicateGroup{Name: r.Name, IDs: make([]uuid.UUID, 0, len(r.IDs))}
		for _, raw := range r.IDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to parse product id %q: %w", raw, err)
			}
			g.IDs = append(g.IDs, id)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// FindDuplicateProducts lists every group of products sharing a name.
func (s *Store) FindDuplicateProducts(ctx context.Context) ([]DuplicateGroup, error) {
	return findDuplicates(ctx, s.db)
}

// RemoveDuplicateProducts keeps the oldest product of each duplicate group
// and deletes the rest. It returns the number of products deleted.
func (s *Store) RemoveDuplicateProducts(ctx context.Context) (int, error) {
	var removed int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "LOCK TABLE products IN SHARE ROW EXCLUSIVE MODE"); err != nil {
			return fmt.Errorf("failed to lock products: %w", err)
		}

		groups, err := findDuplicates(ctx, tx)
		if err != nil {
			return err
		}

		var extra []string
		for _, g := range groups {
			for _, id := range g.IDs[1:] {
				extra = append(extra, id.String())
			}
		}
		if len(extra) == 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM products WHERE id = ANY($1::uuid[])", pq.StringArray(extra))
		if err != nil {
			return fmt.Errorf("failed to delete duplicate products: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count deleted products: %w", err)
		}
		removed = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
