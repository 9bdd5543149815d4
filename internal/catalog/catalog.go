package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const productColumns = `
	id, name, price,
	COALESCE(stripe_price_id, '') AS stripe_price_id,
	COALESCE(full_image_path, '') AS full_image_path,
	COALESCE(category_id::text, '') AS category_id,
	is_active, created_at, updated_at`

type Conf struct {
	db *sqlx.DB
}

func NewConf(db *sqlx.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

// ActiveProductsByIDs returns the active products among ids. Ids that are
// not valid product ids can never match and are skipped.
func (c *Conf) ActiveProductsByIDs(ctx context.Context, ids []string) ([]Product, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	query := `SELECT ` + productColumns + `
		FROM products
		WHERE id = ANY($1::uuid[]) AND is_active = TRUE`
	var products []Product
	if err := c.db.SelectContext(ctx, &products, query, pq.Array(valid)); err != nil {
		return nil, fmt.Errorf("failed to query active products: %w", err)
	}
	return products, nil
}

// GetProductByID returns the product regardless of its active flag.
func (c *Conf) GetProductByID(ctx context.Context, id string) (Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Product{}, ErrProductNotFound
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	var p Product
	err := c.db.GetContext(ctx, &p, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

// ListActiveProducts pages through the active catalog by name. A non-empty
// category slug restricts the page to that category.
func (c *Conf) ListActiveProducts(ctx context.Context, category string, limit, offset int) ([]Product, error) {
	query := `SELECT ` + productColumns + `
		FROM products
		WHERE is_active = TRUE
			AND ($3 = '' OR category_id = (SELECT id FROM categories WHERE slug = $3))
		ORDER BY name ASC
		LIMIT $1 OFFSET $2`
	products := []Product{}
	if err := c.db.SelectContext(ctx, &products, query, limit, offset, category); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (c *Conf) InsertProduct(ctx context.Context, np NewProduct) (Product, error) {
	active := true
	if np.IsActive != nil {
		active = *np.IsActive
	}
	if np.CategoryID != "" {
		if _, err := uuid.Parse(np.CategoryID); err != nil {
			return Product{}, ErrCategoryNotFound
		}
	}
	query := `
		INSERT INTO products (id, name, price, stripe_price_id, full_image_path, category_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, '')::uuid, $7, NOW(), NOW())
		RETURNING ` + productColumns
	var p Product
	err := c.db.GetContext(ctx, &p, query,
		uuid.NewString(), np.Name, np.Price.String(), np.StripePriceID, np.FullImagePath, np.CategoryID, active)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Product{}, ErrCategoryNotFound
		}
		return Product{}, fmt.Errorf("failed to insert product: %w", err)
	}
	return p, nil
}

// UpdateProduct applies the non-nil fields of u. An empty string clears
// the optional references. A price change without a new stripe_price_id
// drops the old one, which was created for the previous amount.
func (c *Conf) UpdateProduct(ctx context.Context, id string, u ProductUpdate) (Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Product{}, ErrProductNotFound
	}
	if u.CategoryID != nil && *u.CategoryID != "" {
		if _, err := uuid.Parse(*u.CategoryID); err != nil {
			return Product{}, ErrCategoryNotFound
		}
	}
	query := `
		UPDATE products SET
			name = COALESCE($2::text, name),
			price = COALESCE($3::numeric, price),
			stripe_price_id = CASE
				WHEN $4::text IS NOT NULL THEN NULLIF($4::text, '')
				WHEN $3::numeric IS NOT NULL AND $3::numeric <> price THEN NULL
				ELSE stripe_price_id
			END,
			full_image_path = CASE WHEN $5::text IS NULL THEN full_image_path ELSE NULLIF($5::text, '') END,
			is_active = COALESCE($6::boolean, is_active),
			category_id = CASE WHEN $7::text IS NULL THEN category_id ELSE NULLIF($7::text, '')::uuid END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + productColumns
	var p Product
	err := c.db.GetContext(ctx, &p, query,
		id, nullString(u.Name), nullDecimal(u.Price), nullString(u.StripePriceID), nullString(u.FullImagePath), nullBool(u.IsActive),
		nullString(u.CategoryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		if isForeignKeyViolation(err) {
			return Product{}, ErrCategoryNotFound
		}
		return Product{}, fmt.Errorf("failed to update product: %w", err)
	}
	return p, nil
}

func (c *Conf) SetStripePriceID(ctx context.Context, id, priceID string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE products SET stripe_price_id = NULLIF($2, ''), updated_at = NOW() WHERE id = $1`, id, priceID)
	if err != nil {
		return fmt.Errorf("failed to set stripe price id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrProductNotFound
	}
	return nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
