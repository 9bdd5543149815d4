package cart

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrPlacementInFlight = errors.New("an order placement is already in progress")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrUnknownProduct    = errors.New("product is not in the cart")
)

// Line is one product in the cart with the display fields needed to show
// it. Price is informational; the server prices every order itself.
type Line struct {
	ProductID string          `cbor:"1,keyasint" json:"product_id"`
	Name      string          `cbor:"2,keyasint" json:"name"`
	Price     decimal.Decimal `cbor:"3,keyasint" json:"price"`
	Quantity  int             `cbor:"4,keyasint" json:"quantity"`
}

func (l Line) UnitPrice() decimal.Decimal { return l.Price }
func (l Line) Units() int                 { return l.Quantity }

// State is what a Store persists between runs.
type State struct {
	Lines          []Line `cbor:"1,keyasint"`
	IdempotencyKey string `cbor:"2,keyasint"`
}

// Snapshot is an immutable view of the cart handed to readers and subscribers.
type Snapshot struct {
	Lines          []Line          `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	IdempotencyKey string          `json:"idempotency_key"`
	Placing        bool            `json:"placing"`
}

func (s Snapshot) Empty() bool { return len(s.Lines) == 0 }
