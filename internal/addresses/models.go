package addresses

import (
	"errors"
	"time"

	"storefront-service/internal/orders"
)

var ErrAddressNotFound = errors.New("address not found")

// Address is one entry of a buyer's address book.
type Address struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	FullName   string    `db:"full_name" json:"full_name"`
	Phone      string    `db:"phone" json:"phone"`
	Line1      string    `db:"address_line1" json:"line1"`
	Line2      string    `db:"address_line2" json:"line2,omitempty"`
	City       string    `db:"city" json:"city"`
	State      string    `db:"state" json:"state"`
	PostalCode string    `db:"postal_code" json:"postal_code"`
	Country    string    `db:"country" json:"country"`
	IsDefault  bool      `db:"is_default" json:"is_default"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Snapshot copies the address into the form stored on an order. Later
// edits of the address book do not reach orders placed before them.
func (a Address) Snapshot(email string) orders.ShippingAddress {
	return orders.ShippingAddress{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Email:      email,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// Fields are the editable parts of an address.
type Fields struct {
	FullName   string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	IsDefault  bool
}
