// Package addresses keeps each buyer's saved shipping addresses. A user has
// at most one default address; the first address saved becomes it.
package addresses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const addressColumns = `
	id, user_id, full_name, phone, address_line1,
	COALESCE(address_line2, '') AS address_line2,
	city, state, postal_code, country, is_default, created_at, updated_at`

type Conf struct {
	db *sqlx.DB
}

func NewConf(db *sqlx.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

// List returns the user's addresses, default first, then oldest first.
func (c *Conf) List(ctx context.Context, userID string) ([]Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at ASC`
	list := []Address{}
	if err := c.db.SelectContext(ctx, &list, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return list, nil
}

// Get returns the address only when userID owns it.
func (c *Conf) Get(ctx context.Context, id, userID string) (Address, error) {
	return getAddress(ctx, c.db, id, userID)
}

func (c *Conf) Create(ctx context.Context, userID string, f Fields) (Address, error) {
	var a Address
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM addresses WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to count addresses: %w", err)
		}
		if n == 0 {
			f.IsDefault = true
		}
		if f.IsDefault {
			if err := clearDefault(ctx, tx, userID); err != nil {
				return err
			}
		}
		return tx.GetContext(ctx, &a, `
			INSERT INTO addresses (id, user_id, full_name, phone, address_line1, address_line2,
				city, state, postal_code, country, is_default, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, NOW(), NOW())
			RETURNING `+addressColumns,
			uuid.NewString(), userID, f.FullName, f.Phone, f.Line1, f.Line2,
			f.City, f.State, f.PostalCode, f.Country, f.IsDefault)
	})
	if err != nil {
		return Address{}, err
	}
	return a, nil
}

// Update replaces the fields of the address. Clearing IsDefault on the
// default address keeps it the default.
func (c *Conf) Update(ctx context.Context, id, userID string, f Fields) (Address, error) {
	var a Address
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := getAddress(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if f.IsDefault && !current.IsDefault {
			if err := clearDefault(ctx, tx, userID); err != nil {
				return err
			}
		}
		return tx.GetContext(ctx, &a, `
			UPDATE addresses SET
				full_name = $2, phone = $3, address_line1 = $4, address_line2 = NULLIF($5, ''),
				city = $6, state = $7, postal_code = $8, country = $9,
				is_default = $10, updated_at = NOW()
			WHERE id = $1
			RETURNING `+addressColumns,
			id, f.FullName, f.Phone, f.Line1, f.Line2, f.City, f.State, f.PostalCode, f.Country,
			f.IsDefault || current.IsDefault)
	})
	if err != nil {
		return Address{}, err
	}
	return a, nil
}

// SetDefault makes the address the user's default.
func (c *Conf) SetDefault(ctx context.Context, id, userID string) (Address, error) {
	var a Address
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := getAddress(ctx, tx, id, userID); err != nil {
			return err
		}
		if err := clearDefault(ctx, tx, userID); err != nil {
			return err
		}
		return tx.GetContext(ctx, &a, `
			UPDATE addresses SET is_default = TRUE, updated_at = NOW()
			WHERE id = $1
			RETURNING `+addressColumns, id)
	})
	if err != nil {
		return Address{}, err
	}
	return a, nil
}

// Delete removes the address. When it was the default, the oldest
// remaining address takes over.
func (c *Conf) Delete(ctx context.Context, id, userID string) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := getAddress(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM addresses WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete address: %w", err)
		}
		if !current.IsDefault {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE addresses SET is_default = TRUE, updated_at = NOW()
			WHERE id = (
				SELECT id FROM addresses WHERE user_id = $1
				ORDER BY created_at ASC, id ASC
				LIMIT 1
			)`, userID)
		if err != nil {
			return fmt.Errorf("failed to promote default address: %w", err)
		}
		return nil
	})
}

func clearDefault(ctx context.Context, tx *sqlx.Tx, userID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE addresses SET is_default = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_default`, userID)
	if err != nil {
		return fmt.Errorf("failed to reset default address: %w", err)
	}
	return nil
}

func getAddress(ctx context.Context, q sqlx.QueryerContext, id, userID string) (Address, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Address{}, ErrAddressNotFound
	}
	var a Address
	err := sqlx.GetContext(ctx, q, &a,
		`SELECT `+addressColumns+` FROM addresses WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Address{}, ErrAddressNotFound
		}
		return Address{}, fmt.Errorf("failed to query address: %w", err)
	}
	return a, nil
}

func (c *Conf) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		er := tx.Rollback()
		if er != nil && !errors.Is(er, sql.ErrTxDone) {
			return fmt.Errorf("failed to rollback withTx: %w", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit withTx: %w", err)
	}
	return nil
}
