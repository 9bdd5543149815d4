package orders

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	ErrPaymentMismatch     = errors.New("paid items do not match the order")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentUnpaid, PaymentPaid, PaymentRefunded:
		return true
	}
	return false
}

// ShippingAddress is copied into the order when it is placed and never
// follows later edits of the buyer's address book.
type ShippingAddress struct {
	FullName   string `json:"full_name" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

func (a ShippingAddress) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *ShippingAddress) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = ShippingAddress{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("cannot scan %T into ShippingAddress", src)
	}
}

// Order represents an order entity in the ledger
type Order struct {
	ID                  string          `db:"id" json:"id"`
	UserID              string          `db:"user_id" json:"user_id"`
	Status              Status          `db:"status" json:"status"`
	PaymentStatus       PaymentStatus   `db:"payment_status" json:"payment_status"`
	TotalAmount         decimal.Decimal `db:"total_amount" json:"total_amount"`
	ShippingAddress     ShippingAddress `db:"shipping_address" json:"shipping_address"`
	StripeSessionID     string          `db:"stripe_session_id" json:"-"`
	StripePaymentIntent string          `db:"stripe_payment_intent" json:"-"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
	Items               []Item          `db:"-" json:"items"`
}

type Item struct {
	ID              string          `db:"id" json:"id"`
	OrderID         string          `db:"order_id" json:"order_id"`
	ProductID       string          `db:"product_id" json:"product_id"`
	ProductName     string          `db:"product_name" json:"product_name,omitempty"`
	Quantity        int             `db:"quantity" json:"quantity"`
	PriceAtPurchase decimal.Decimal `db:"price_at_purchase" json:"price_at_purchase"`
}

type NewItem struct {
	ProductID       string
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// MatchesItems reports whether paid holds the same products in the same
// quantities as items, ignoring line order and split lines.
func MatchesItems(items []Item, paid []NewItem) bool {
	want := make(map[string]int, len(items))
	for _, it := range items {
		want[it.ProductID] += it.Quantity
	}
	got := make(map[string]int, len(paid))
	for _, it := range paid {
		got[it.ProductID] += it.Quantity
	}
	if len(want) != len(got) {
		return false
	}
	for id, n := range want {
		if got[id] != n {
			return false
		}
	}
	return true
}

type NewOrder struct {
	UserID              string
	Status              Status
	PaymentStatus       PaymentStatus
	TotalAmount         decimal.Decimal
	ShippingAddress     ShippingAddress
	StripeSessionID     string
	StripePaymentIntent string
	Items               []NewItem
}

// IdempotencyKey binds one client checkout attempt to at most one order.
type IdempotencyKey struct {
	UserID      string
	Key         string
	Fingerprint []byte
}

// SessionPayment is a completed card payment reported by the payment processor.
type SessionPayment struct {
	SessionID     string
	PaymentIntent string
	OrderID       string
	UserID        string
	Total         decimal.Decimal
	Address       ShippingAddress
	Items         []NewItem
}

type EntitlementScope string

const (
	// EntitlementLatest only consults the caller's most recent paid order.
	EntitlementLatest EntitlementScope = "latest"
	// EntitlementAny accepts any paid order of the caller.
	EntitlementAny EntitlementScope = "any"
)

// Entitlement is the result of one ledger read; it is never cached.
type Entitlement struct {
	HasPaidOrder bool
	Entitled     bool
	OrderID      string
}
