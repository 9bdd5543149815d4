package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/checkout"
	"storefront-service/internal/orders"
	"storefront-service/internal/payments"
	"storefront-service/internal/stores/kafka"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

// StripeWebhook applies payment events to the ledger. Every event id is
// applied at most once; a redelivery answers 200 without touching state.
// Failures to write answer 500 so Stripe delivers the event again.
func (h *Handler) StripeWebhook(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	const MaxBodyBytes = int64(65536)

	// Limit the request body size
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		slog.Error("failed to read webhook body", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		badRequest(c, "Invalid request body")
		return
	}

	event, err := h.webhooks.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		slog.Error("webhook signature verification failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		badRequest(c, "Invalid signature")
		return
	}
	ctx := c.Request.Context()
	slog.Info("webhook received", slog.String(logkey.TraceID, traceId),
		slog.String(logkey.EventID, event.ID), slog.String(logkey.EventType, string(event.Type)))

	switch event.Type {
	case payments.EventSessionCompleted, payments.EventSessionAsyncSucceeded:
		p, paid, err := payments.SessionPayment(event)
		if err != nil {
			slog.Error("failed to read checkout session", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			badRequest(c, "Invalid checkout session")
			return
		}
		if !paid {
			c.JSON(http.StatusOK, gin.H{"message": "Payment not completed"})
			return
		}

		// Update order status to 'paid' in the database
		order, applied, err := h.orders.RecordPaidSession(ctx, event.ID, string(event.Type), p)
		if errors.Is(err, orders.ErrPaymentMismatch) {
			slog.Error("payment does not match order", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.OrderID, p.OrderID), slog.String("session_id", p.SessionID))
			c.JSON(http.StatusOK, gin.H{"message": "Payment does not match order"})
			return
		}
		if err != nil {
			slog.Error("failed to record payment", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to record payment"})
			return
		}
		if !applied {
			c.JSON(http.StatusOK, gin.H{"message": "Event already processed"})
			return
		}
		slog.Info("order paid", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, order.ID))

		h.publish(c, kafka.TopicOrderPaid, order.ID, kafka.OrderPaidEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			SessionID:     p.SessionID,
			PaymentIntent: p.PaymentIntent,
			Items:         checkout.EventItems(order.Items),
			PaidAt:        time.Now().UTC(),
		})
		c.JSON(http.StatusOK, gin.H{"received": true})

	case payments.EventChargeRefunded:
		pi, err := payments.RefundedPaymentIntent(event)
		if errors.Is(err, payments.ErrPartialRefund) {
			slog.Info("partial refund ignored", slog.String(logkey.TraceID, traceId), slog.String("PaymentIntent", pi))
			c.JSON(http.StatusOK, gin.H{"message": "Partial refund ignored"})
			return
		}
		if err != nil {
			slog.Error("failed to read refunded charge", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			badRequest(c, "Invalid charge")
			return
		}
		order, applied, err := h.orders.RecordRefund(ctx, event.ID, string(event.Type), pi)
		if err != nil {
			if errors.Is(err, orders.ErrOrderNotFound) {
				slog.Warn("refund for unknown payment", slog.String(logkey.TraceID, traceId), slog.String("PaymentIntent", pi))
				c.JSON(http.StatusOK, gin.H{"message": "No order for this payment"})
				return
			}
			slog.Error("failed to record refund", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to record refund"})
			return
		}
		if !applied {
			c.JSON(http.StatusOK, gin.H{"message": "Event already processed"})
			return
		}
		slog.Info("order refunded", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, order.ID))
		c.JSON(http.StatusOK, gin.H{"received": true})

	default:
		slog.Info("Unhandled event type", slog.String(logkey.EventType, string(event.Type)))
		c.JSON(http.StatusOK, gin.H{
			"message": "Event type not handled",
			"event":   event.Type,
		})
	}
}

func (h *Handler) publish(c *gin.Context, topic, key string, v any) {
	if h.events == nil {
		return
	}
	if err := h.events.PublishEvent(c.Request.Context(), topic, key, v); err != nil {
		slog.Warn("failed to publish event", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
			slog.String("Topic", topic), slog.String(logkey.ERROR, err.Error()))
	}
}
