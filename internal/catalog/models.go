package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrSlugTaken        = errors.New("category slug already in use")
	ErrInvalidSlug      = errors.New("category slug is empty")
)

// Product represents a product row in the catalog
type Product struct {
	ID            string          `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StripePriceID string          `db:"stripe_price_id" json:"stripe_price_id,omitempty"` // Payment processor price reference
	FullImagePath string          `db:"full_image_path" json:"full_image_path,omitempty"` // Storage reference of the full asset
	CategoryID    string          `db:"category_id" json:"category_id,omitempty"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Public strips fields buyers must not see.
func (p Product) Public() Product {
	p.FullImagePath = ""
	p.StripePriceID = ""
	return p
}

// NewProduct is the admin payload for creating a product.
type NewProduct struct {
	Name          string          `json:"name" validate:"required,min=1,max=200"`
	Price         decimal.Decimal `json:"price"`
	StripePriceID string          `json:"stripe_price_id" validate:"omitempty,startswith=price_"`
	FullImagePath string          `json:"full_image_path" validate:"omitempty,max=1024"`
	CategoryID    string          `json:"category_id"`
	IsActive      *bool           `json:"is_active"`
}

// ProductUpdate is the admin payload for updating a product. Nil fields are left unchanged.
type ProductUpdate struct {
	Name          *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Price         *decimal.Decimal `json:"price"`
	StripePriceID *string          `json:"stripe_price_id" validate:"omitempty,startswith=price_"`
	FullImagePath *string          `json:"full_image_path" validate:"omitempty,max=1024"`
	CategoryID    *string          `json:"category_id"` // Empty string removes the product from its category
	IsActive      *bool            `json:"is_active"`
}

// Category groups products on the storefront. Lower DisplayOrder sorts first.
type Category struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Slug         string    `db:"slug" json:"slug"`
	Description  string    `db:"description" json:"description,omitempty"`
	ImagePath    string    `db:"image_path" json:"image_path,omitempty"`
	DisplayOrder int       `db:"display_order" json:"display_order"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// NewCategory is the admin payload for creating a category. The slug is
// derived from the name when empty.
type NewCategory struct {
	Name         string `json:"name" validate:"required,min=1,max=100"`
	Slug         string `json:"slug" validate:"omitempty,max=100"`
	Description  string `json:"description" validate:"max=1000"`
	ImagePath    string `json:"image_path" validate:"max=1024"`
	DisplayOrder int    `json:"display_order"`
}

type CategoryUpdate struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=100"`
	Slug         *string `json:"slug" validate:"omitempty,max=100"`
	Description  *string `json:"description" validate:"omitempty,max=1000"`
	ImagePath    *string `json:"image_path" validate:"omitempty,max=1024"`
	DisplayOrder *int    `json:"display_order"`
}
