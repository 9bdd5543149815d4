package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"storefront-service/internal/pricing"
)

// LineItem is one priced line of a checkout session. UnitPrice always
// comes from the catalog, never from the caller.
type LineItem struct {
	ProductID string
	PriceRef  string
	Quantity  int
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
}

type SessionRequest struct {
	Items         []LineItem
	CustomerEmail string
	UserID        string
	OrderID       string
	SuccessURL    string
	CancelURL     string
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type StripeOptions struct {
	Timeout    time.Duration
	BackendURL string // overrides api.stripe.com, used by tests and stripe-mock
	Currency   string
}

// Stripe opens checkout sessions and creates catalog prices. Calls are
// never retried.
type Stripe struct {
	sc       *client.API
	currency string
}

func NewStripe(key string, opts StripeOptions) *Stripe {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = string(stripe.CurrencyUSD)
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: opts.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if opts.BackendURL != "" {
		cfg.URL = stripe.String(opts.BackendURL)
	}

	sc := &client.API{}
	sc.Init(key, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	})
	return &Stripe{sc: sc, currency: opts.Currency}
}

// CreateCheckoutSession opens a hosted payment page for req.Items. The
// session metadata carries everything the webhook needs to attribute the
// payment to an order.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error) {
	if len(req.Items) == 0 {
		return Session{}, errors.New("no line items")
	}
	metadata, err := EncodeItemsMetadata(req.Items)
	if err != nil {
		return Session{}, err
	}
	metadata[MetadataUserID] = req.UserID
	if req.OrderID != "" {
		metadata[MetadataOrderID] = req.OrderID
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(item.PriceRef),
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{MetadataUserID: req.UserID},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	cs, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create checkout session: %w", err)
	}
	if cs.URL == "" {
		return Session{}, errors.New("checkout session has no url")
	}
	return Session{ID: cs.ID, URL: cs.URL}, nil
}

// CreateProductPrice registers a product and a one-off price for it and
// returns the price id.
func (s *Stripe) CreateProductPrice(ctx context.Context, productID, name string, price decimal.Decimal) (string, error) {
	pp := &stripe.ProductParams{Name: stripe.String(name)}
	pp.AddMetadata("product_id", productID)
	pp.Context = ctx
	prod, err := s.sc.Products.New(pp)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe product: %w", err)
	}

	params := &stripe.PriceParams{
		Product:    stripe.String(prod.ID),
		Currency:   stripe.String(s.currency),
		UnitAmount: stripe.Int64(pricing.ToMinorUnits(price)),
	}
	params.Context = ctx
	pr, err := s.sc.Prices.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe price: %w", err)
	}
	return pr.ID, nil
}
