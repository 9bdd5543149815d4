package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"storefront-service/internal/orders"
	"storefront-service/internal/pricing"
)

const (
	EventSessionCompleted      = stripe.EventType("checkout.session.completed")
	EventSessionAsyncSucceeded = stripe.EventType("checkout.session.async_payment_succeeded")
	EventChargeRefunded        = stripe.EventType("charge.refunded")
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrPartialRefund    = errors.New("charge is only partially refunded")
)

type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// ConstructEvent checks the Stripe-Signature header against payload and
// decodes the event. Events signed for another API version are accepted;
// only the fields read below are relied upon.
func (v *WebhookVerifier) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return event, nil
}

// SessionPayment extracts the paid checkout session carried by event.
// paid is false while the payment is still pending, e.g. for delayed
// payment methods that complete through async_payment_succeeded.
func SessionPayment(event stripe.Event) (p orders.SessionPayment, paid bool, err error) {
	if event.Data == nil {
		return orders.SessionPayment{}, false, errors.New("event has no data")
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return orders.SessionPayment{}, false, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return orders.SessionPayment{}, false, nil
	}

	userID := cs.Metadata[MetadataUserID]
	if userID == "" {
		return orders.SessionPayment{}, false, errors.New("checkout session has no user id")
	}
	items, err := DecodeItemsMetadata(cs.Metadata)
	if err != nil {
		return orders.SessionPayment{}, false, err
	}

	p = orders.SessionPayment{
		SessionID: cs.ID,
		OrderID:   cs.Metadata[MetadataOrderID],
		UserID:    userID,
		Total:     pricing.FromMinorUnits(cs.AmountTotal),
		Items:     items,
	}
	if cs.PaymentIntent != nil {
		p.PaymentIntent = cs.PaymentIntent.ID
	}
	if d := cs.CustomerDetails; d != nil {
		p.Address.FullName = d.Name
		p.Address.Email = d.Email
		p.Address.Phone = d.Phone
		if a := d.Address; a != nil {
			p.Address.Line1 = a.Line1
			p.Address.Line2 = a.Line2
			p.Address.City = a.City
			p.Address.State = a.State
			p.Address.PostalCode = a.PostalCode
			p.Address.Country = a.Country
		}
	}
	return p, true, nil
}

// RefundedPaymentIntent returns the payment intent of the refunded charge in
// event. A charge that is not fully refunded yields ErrPartialRefund along
// with its payment intent.
func RefundedPaymentIntent(event stripe.Event) (string, error) {
	if event.Data == nil {
		return "", errors.New("event has no data")
	}
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		return "", fmt.Errorf("failed to decode charge: %w", err)
	}
	if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
		return "", errors.New("charge has no payment intent")
	}
	if !ch.Refunded {
		return ch.PaymentIntent.ID, ErrPartialRefund
	}
	return ch.PaymentIntent.ID, nil
}
