package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const categoryColumns = `
	id, name, slug,
	COALESCE(description, '') AS description,
	COALESCE(image_path, '') AS image_path,
	display_order, created_at, updated_at`

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and joins its letter and digit runs with dashes.
func Slugify(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

func (c *Conf) ListCategories(ctx context.Context) ([]Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories ORDER BY display_order ASC, name ASC`
	list := []Category{}
	if err := c.db.SelectContext(ctx, &list, query); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return list, nil
}

func (c *Conf) InsertCategory(ctx context.Context, nc NewCategory) (Category, error) {
	slug := Slugify(nc.Slug)
	if slug == "" {
		slug = Slugify(nc.Name)
	}
	if slug == "" {
		return Category{}, fmt.Errorf("%w: name has no letters or digits", ErrInvalidSlug)
	}
	query := `
		INSERT INTO categories (id, name, slug, description, image_path, display_order, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NOW(), NOW())
		RETURNING ` + categoryColumns
	var cat Category
	err := c.db.GetContext(ctx, &cat, query,
		uuid.NewString(), nc.Name, slug, nc.Description, nc.ImagePath, nc.DisplayOrder)
	if err != nil {
		if isUniqueViolation(err) {
			return Category{}, ErrSlugTaken
		}
		return Category{}, fmt.Errorf("failed to insert category: %w", err)
	}
	return cat, nil
}

// UpdateCategory applies the non-nil fields of u. A new slug is normalized
// the same way as on insert.
func (c *Conf) UpdateCategory(ctx context.Context, id string, u CategoryUpdate) (Category, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Category{}, ErrCategoryNotFound
	}
	var slug any
	if u.Slug != nil {
		s := Slugify(*u.Slug)
		if s == "" {
			return Category{}, ErrInvalidSlug
		}
		slug = s
	}
	var order any
	if u.DisplayOrder != nil {
		order = *u.DisplayOrder
	}
	query := `
		UPDATE categories SET
			name = COALESCE($2::text, name),
			slug = COALESCE($3::text, slug),
			description = CASE WHEN $4::text IS NULL THEN description ELSE NULLIF($4::text, '') END,
			image_path = CASE WHEN $5::text IS NULL THEN image_path ELSE NULLIF($5::text, '') END,
			display_order = COALESCE($6::integer, display_order),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + categoryColumns
	var cat Category
	err := c.db.GetContext(ctx, &cat, query,
		id, nullString(u.Name), slug, nullString(u.Description), nullString(u.ImagePath), order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Category{}, ErrCategoryNotFound
		}
		if isUniqueViolation(err) {
			return Category{}, ErrSlugTaken
		}
		return Category{}, fmt.Errorf("failed to update category: %w", err)
	}
	return cat, nil
}

// DeleteCategory removes the category. Its products stay in the catalog
// without a category.
func (c *Conf) DeleteCategory(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrCategoryNotFound
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
