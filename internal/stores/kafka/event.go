package kafka

import "time"

const (
	TopicOrderPlaced = `storefront.order-placed`
	TopicOrderPaid   = `storefront.order-paid`
)

// OrderItem is one line of an order as it travels on the wire.
type OrderItem struct {
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	PriceAtPurchase string `json:"price_at_purchase"`
}

// OrderPlacedEvent is emitted once a manual order is written to the ledger.
type OrderPlacedEvent struct {
	OrderID     string      `json:"order_id"`
	UserID      string      `json:"user_id"`
	TotalAmount string      `json:"total_amount"`
	Items       []OrderItem `json:"items"`
	CreatedAt   time.Time   `json:"created_at"`
}

// OrderPaidEvent is emitted when a payment marks an order paid.
type OrderPaidEvent struct {
	OrderID       string      `json:"order_id"`
	UserID        string      `json:"user_id"`
	SessionID     string      `json:"session_id,omitempty"`
	PaymentIntent string      `json:"payment_intent,omitempty"`
	Items         []OrderItem `json:"items"`
	PaidAt        time.Time   `json:"paid_at"`
}
