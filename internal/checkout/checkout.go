// Package checkout prices carts against the catalog and turns them into
// either a Stripe checkout session or a manually paid order.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront-service/internal/apperr"
	"storefront-service/internal/catalog"
	"storefront-service/internal/orders"
	"storefront-service/internal/payments"
	"storefront-service/internal/pricing"
	"storefront-service/internal/stores/kafka"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

type Catalog interface {
	ActiveProductsByIDs(ctx context.Context, ids []string) ([]catalog.Product, error)
}

type Ledger interface {
	GetOrderForUser(ctx context.Context, id, userID string) (orders.Order, error)
	PlaceOrder(ctx context.Context, key orders.IdempotencyKey, no orders.NewOrder) (orders.Order, bool, error)
}

type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req payments.SessionRequest) (payments.Session, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, v any) error
}

type Options struct {
	TaxRate           decimal.Decimal
	RejectUnavailable bool
	Timeout           time.Duration
}

type Service struct {
	catalog  Catalog
	ledger   Ledger
	sessions SessionCreator
	events   EventPublisher
	opts     Options
}

func NewService(c Catalog, l Ledger, s SessionCreator, e EventPublisher, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if e == nil {
		e = noopPublisher{}
	}
	return &Service{catalog: c, ledger: l, sessions: s, events: e, opts: opts}
}

// Item is one cart line as sent by the client. Only the id and quantity
// are read; prices always come from the catalog.
type Item struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type SessionInput struct {
	UserID     string
	Email      string
	OrderID    string
	Items      []Item
	SuccessURL string
	CancelURL  string
}

// CreateSession opens a payment session for the caller's cart. It writes
// no order; the payment webhook does that once Stripe confirms payment.
func (s *Service) CreateSession(ctx context.Context, in SessionInput) (payments.Session, error) {
	traceId := ctxmanage.GetTraceId(ctx)

	var (
		requested []orders.RequestedItem
		err       error
	)
	strict := s.opts.RejectUnavailable
	if in.OrderID != "" {
		o, err := s.ledger.GetOrderForUser(ctx, in.OrderID, in.UserID)
		if err != nil {
			if errors.Is(err, orders.ErrOrderNotFound) {
				return payments.Session{}, apperr.E(apperr.NotFound, "Order not found")
			}
			return payments.Session{}, apperr.Wrap(apperr.Internal, "Unable to load order", err)
		}
		if o.PaymentStatus != orders.PaymentUnpaid {
			return payments.Session{}, apperr.E(apperr.Forbidden, "Order is not awaiting payment")
		}

		// An existing order is paid for exactly as it was placed
		placed := make([]Item, len(o.Items))
		for i, it := range o.Items {
			placed[i] = Item{ID: it.ProductID, Quantity: it.Quantity}
		}
		if requested, err = mergeItems(placed); err != nil {
			return payments.Session{}, err
		}
		if len(in.Items) > 0 {
			asked, err := mergeItems(in.Items)
			if err != nil {
				return payments.Session{}, err
			}
			if !sameItems(asked, requested) {
				return payments.Session{}, apperr.E(apperr.InvalidRequest, "Items do not match the order")
			}
		}
		strict = true
	} else if requested, err = mergeItems(in.Items); err != nil {
		return payments.Session{}, err
	}
	if len(requested) > payments.MaxSessionItems {
		return payments.Session{}, apperr.E(apperr.InvalidRequest, "Too many items in one checkout")
	}

	products, err := s.resolve(ctx, requested, strict)
	if err != nil {
		return payments.Session{}, err
	}

	// Every product must be payable before anything is sent to Stripe
	var unpriced []string
	for _, r := range requested {
		if p, ok := products[r.ProductID]; ok && p.StripePriceID == "" {
			unpriced = append(unpriced, p.ID)
		}
	}
	if len(unpriced) > 0 {
		slog.Error("products missing stripe price", slog.String(logkey.TraceID, traceId), slog.Any("product_ids", unpriced))
		return payments.Session{}, apperr.E(apperr.Configuration, "Missing Stripe price for some products").WithProducts(unpriced)
	}

	lines := make([]payments.LineItem, 0, len(requested))
	for _, r := range requested {
		p, ok := products[r.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, payments.LineItem{
			ProductID: p.ID,
			PriceRef:  p.StripePriceID,
			Quantity:  r.Quantity,
			UnitPrice: p.Price,
			Amount:    pricing.LineTotal(p.Price, r.Quantity),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	sess, err := s.sessions.CreateCheckoutSession(ctx, payments.SessionRequest{
		Items:         lines,
		CustomerEmail: in.Email,
		UserID:        in.UserID,
		OrderID:       in.OrderID,
		SuccessURL:    in.SuccessURL,
		CancelURL:     in.CancelURL,
	})
	if err != nil {
		return payments.Session{}, apperr.Wrap(apperr.Internal, "Unable to create checkout session", err)
	}
	slog.Info("checkout session created", slog.String(logkey.TraceID, traceId),
		slog.String(logkey.UserID, in.UserID), slog.String("session_id", sess.ID))
	return sess, nil
}

type PlacementInput struct {
	UserID         string
	Email          string
	IdempotencyKey string
	Items          []Item
	Address        orders.ShippingAddress
}

// PlaceOrder writes a pending, unpaid order priced from the catalog. A
// retry carrying the same idempotency key and payload returns the order
// created by the first attempt with replayed set.
func (s *Service) PlaceOrder(ctx context.Context, in PlacementInput) (orders.Order, bool, error) {
	traceId := ctxmanage.GetTraceId(ctx)

	if in.IdempotencyKey == "" {
		return orders.Order{}, false, apperr.E(apperr.InvalidRequest, "Missing Idempotency-Key header")
	}
	requested, err := mergeItems(in.Items)
	if err != nil {
		return orders.Order{}, false, err
	}
	if in.Address.Email == "" {
		in.Address.Email = in.Email
	}

	products, err := s.resolve(ctx, requested, true)
	if err != nil {
		return orders.Order{}, false, err
	}

	items := make([]orders.NewItem, 0, len(requested))
	for _, r := range requested {
		items = append(items, orders.NewItem{
			ProductID:       r.ProductID,
			Quantity:        r.Quantity,
			PriceAtPurchase: products[r.ProductID].Price,
		})
	}
	total := pricing.ApplyTax(pricing.Subtotal(newItemLines(items)), s.opts.TaxRate)

	fp, err := orders.Fingerprint(requested, in.Address)
	if err != nil {
		return orders.Order{}, false, apperr.Wrap(apperr.Internal, "Unable to place order", err)
	}

	order, replayed, err := s.ledger.PlaceOrder(ctx,
		orders.IdempotencyKey{UserID: in.UserID, Key: in.IdempotencyKey, Fingerprint: fp},
		orders.NewOrder{
			UserID:          in.UserID,
			Status:          orders.StatusPending,
			PaymentStatus:   orders.PaymentUnpaid,
			TotalAmount:     total,
			ShippingAddress: in.Address,
			Items:           items,
		})
	if err != nil {
		if errors.Is(err, orders.ErrIdempotencyConflict) {
			return orders.Order{}, false, apperr.E(apperr.Conflict, "Idempotency key was already used for a different order")
		}
		slog.Error("failed to place order", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		return orders.Order{}, false, apperr.Wrap(apperr.Internal, "Unable to place order", err)
	}
	if replayed {
		slog.Info("order placement replayed", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, order.ID))
		return order, true, nil
	}

	slog.Info("order placed", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, order.ID),
		slog.String(logkey.UserID, order.UserID))
	ev := kafka.OrderPlacedEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount.StringFixed(2),
		Items:       EventItems(order.Items),
		CreatedAt:   order.CreatedAt.UTC(),
	}
	if err := s.events.PublishEvent(ctx, kafka.TopicOrderPlaced, order.ID, ev); err != nil {
		slog.Warn("failed to publish order placed event", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, order.ID), slog.String(logkey.ERROR, err.Error()))
	}
	return order, false, nil
}

// EventItems converts ledger lines to their wire form.
func EventItems(items []orders.Item) []kafka.OrderItem {
	out := make([]kafka.OrderItem, len(items))
	for i, it := range items {
		out[i] = kafka.OrderItem{
			ProductID:       it.ProductID,
			Quantity:        it.Quantity,
			PriceAtPurchase: it.PriceAtPurchase.StringFixed(2),
		}
	}
	return out
}

// resolve fetches the active products behind requested. Unavailable ids
// fail the request when strict is set and are dropped otherwise.
func (s *Service) resolve(ctx context.Context, requested []orders.RequestedItem, strict bool) (map[string]catalog.Product, error) {
	ids := make([]string, len(requested))
	for i, r := range requested {
		ids[i] = r.ProductID
	}
	list, err := s.catalog.ActiveProductsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Unable to load products", err)
	}

	products := make(map[string]catalog.Product, len(list))
	for _, p := range list {
		products[p.ID] = p
	}
	var unavailable []string
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			unavailable = append(unavailable, id)
		}
	}
	if len(products) == 0 {
		return nil, apperr.E(apperr.InvalidRequest, "No matching products").WithProducts(unavailable)
	}
	if strict && len(unavailable) > 0 {
		return nil, apperr.E(apperr.InvalidRequest, "Some products are unavailable").WithProducts(unavailable)
	}
	return products, nil
}

// mergeItems validates the cart and sums the quantities of repeated ids,
// keeping first-seen order. UUIDs are rewritten to their canonical form.
func mergeItems(items []Item) ([]orders.RequestedItem, error) {
	if len(items) == 0 {
		return nil, apperr.E(apperr.InvalidRequest, "No items provided")
	}
	index := make(map[string]int, len(items))
	merged := make([]orders.RequestedItem, 0, len(items))
	for _, it := range items {
		if it.ID == "" || it.Quantity < 1 {
			return nil, apperr.E(apperr.InvalidRequest, "Each item needs an id and a quantity of at least 1")
		}
		id := it.ID
		if u, err := uuid.Parse(id); err == nil {
			id = u.String()
		}
		if i, ok := index[id]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[id] = len(merged)
		merged = append(merged, orders.RequestedItem{ProductID: id, Quantity: it.Quantity})
	}
	return merged, nil
}

func sameItems(a, b []orders.RequestedItem) bool {
	if len(a) != len(b) {
		return false
	}
	qty := make(map[string]int, len(a))
	for _, it := range a {
		qty[it.ProductID] = it.Quantity
	}
	for _, it := range b {
		if n, ok := qty[it.ProductID]; !ok || n != it.Quantity {
			return false
		}
	}
	return true
}

type noopPublisher struct{}

func (noopPublisher) PublishEvent(context.Context, string, string, any) error { return nil }

type newItemLine orders.NewItem

func (l newItemLine) UnitPrice() decimal.Decimal { return l.PriceAtPurchase }
func (l newItemLine) Units() int                 { return l.Quantity }

func newItemLines(items []orders.NewItem) []newItemLine {
	out := make([]newItemLine, len(items))
	for i, it := range items {
		out[i] = newItemLine(it)
	}
	return out
}
