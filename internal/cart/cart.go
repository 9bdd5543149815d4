// Package cart is the buyer-side cart: an observable, persisted list of
// lines that places orders through the storefront API.
package cart

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront-service/internal/checkout"
	"storefront-service/internal/orders"
	"storefront-service/internal/pricing"
)

// Placer submits a manual order. The same key must be sent on every
// retry of one placement.
type Placer interface {
	PlaceOrder(ctx context.Context, idempotencyKey string, items []checkout.Item, address orders.ShippingAddress) (orders.Order, error)
}

// Initiator opens a card payment session and returns its URL.
type Initiator interface {
	CreateCheckoutSession(ctx context.Context, items []checkout.Item) (string, error)
}

type Cart struct {
	mu      sync.Mutex
	lines   []Line
	key     string
	placing bool
	taxRate decimal.Decimal
	store   Store

	subs    map[int]func(Snapshot)
	nextSub int
}

// New hydrates a cart from store.
func New(store Store, taxRate decimal.Decimal) (*Cart, error) {
	s, err := store.Load()
	if err != nil {
		return nil, err
	}
	c := &Cart{
		lines:   s.Lines,
		key:     s.IdempotencyKey,
		taxRate: taxRate,
		store:   store,
		subs:    map[int]func(Snapshot){},
	}
	if c.key == "" {
		c.key = uuid.NewString()
	}
	return c, nil
}

// Subscribe registers fn to receive a Snapshot after every change.
func (c *Cart) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Cart) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Add puts qty units of a product in the cart, adding to an existing line.
func (c *Cart) Add(productID, name string, price decimal.Decimal, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	return c.mutate(func(lines []Line) ([]Line, error) {
		if i := indexOf(lines, productID); i >= 0 {
			lines[i].Quantity += qty
			return lines, nil
		}
		return append(lines, Line{ProductID: productID, Name: name, Price: price, Quantity: qty}), nil
	})
}

// SetQuantity replaces a line's quantity; below 1 the line is removed.
func (c *Cart) SetQuantity(productID string, qty int) error {
	return c.mutate(func(lines []Line) ([]Line, error) {
		i := indexOf(lines, productID)
		if i < 0 {
			return nil, ErrUnknownProduct
		}
		if qty < 1 {
			return slices.Delete(lines, i, i+1), nil
		}
		lines[i].Quantity = qty
		return lines, nil
	})
}

func (c *Cart) Remove(productID string) error {
	return c.mutate(func(lines []Line) ([]Line, error) {
		i := indexOf(lines, productID)
		if i < 0 {
			return nil, ErrUnknownProduct
		}
		return slices.Delete(lines, i, i+1), nil
	})
}

func (c *Cart) Clear() error {
	return c.mutate(func([]Line) ([]Line, error) { return nil, nil })
}

// PlaceOrder submits the cart as a manual order. On success the cart is
// emptied and a new idempotency key is drawn; on failure the cart and key
// are kept so the same placement can be retried safely.
func (c *Cart) PlaceOrder(ctx context.Context, placer Placer, address orders.ShippingAddress) (orders.Order, error) {
	c.mu.Lock()
	if c.placing {
		c.mu.Unlock()
		return orders.Order{}, ErrPlacementInFlight
	}
	if len(c.lines) == 0 {
		c.mu.Unlock()
		return orders.Order{}, ErrEmptyCart
	}
	c.placing = true
	key := c.key
	items := toItems(c.lines)
	c.mu.Unlock()

	order, err := placer.PlaceOrder(ctx, key, items, address)

	c.mu.Lock()
	c.placing = false
	if err != nil {
		c.mu.Unlock()
		return orders.Order{}, err
	}
	next := State{IdempotencyKey: uuid.NewString()}
	if serr := c.store.Save(next); serr != nil {
		// Lines and key stay; placing again replays this order.
		c.mu.Unlock()
		return order, fmt.Errorf("order %s placed but cart not cleared: %w", order.ID, serr)
	}
	c.lines = nil
	c.key = next.IdempotencyKey
	snap, subs := c.snapshotLocked(), c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, snap)
	return order, nil
}

// Checkout hands the cart to the card payment flow and returns the payment
// page URL. The cart is left untouched until the buyer returns.
func (c *Cart) Checkout(ctx context.Context, initiator Initiator) (string, error) {
	c.mu.Lock()
	if len(c.lines) == 0 {
		c.mu.Unlock()
		return "", ErrEmptyCart
	}
	items := toItems(c.lines)
	c.mu.Unlock()

	return initiator.CreateCheckoutSession(ctx, items)
}

// mutate applies fn to a copy of the lines, persists the result and only
// then makes it visible.
func (c *Cart) mutate(fn func([]Line) ([]Line, error)) error {
	c.mu.Lock()
	if c.placing {
		c.mu.Unlock()
		return ErrPlacementInFlight
	}
	lines, err := fn(slices.Clone(c.lines))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.store.Save(State{Lines: lines, IdempotencyKey: c.key}); err != nil {
		c.mu.Unlock()
		return err
	}
	c.lines = lines
	snap, subs := c.snapshotLocked(), c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, snap)
	return nil
}

func (c *Cart) snapshotLocked() Snapshot {
	lines := slices.Clone(c.lines)
	if lines == nil {
		lines = []Line{}
	}
	subtotal := pricing.Subtotal(lines)
	return Snapshot{
		Lines:          lines,
		Subtotal:       subtotal.Round(2),
		Tax:            pricing.Tax(subtotal, c.taxRate),
		Total:          pricing.ApplyTax(subtotal, c.taxRate),
		IdempotencyKey: c.key,
		Placing:        c.placing,
	}
}

func (c *Cart) subscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

func indexOf(lines []Line, productID string) int {
	return slices.IndexFunc(lines, func(l Line) bool { return l.ProductID == productID })
}

func toItems(lines []Line) []checkout.Item {
	items := make([]checkout.Item, len(lines))
	for i, l := range lines {
		items[i] = checkout.Item{ID: l.ProductID, Quantity: l.Quantity}
	}
	return items
}
