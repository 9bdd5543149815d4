package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/apperr"
	"storefront-service/internal/auth"
	"storefront-service/internal/checkout"
	"storefront-service/internal/orders"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type addressRequest struct {
	FullName   string `json:"fullName" validate:"required,max=200"`
	Phone      string `json:"phone" validate:"required,max=50"`
	Email      string `json:"email" validate:"omitempty,email"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=100"`
}

// placeOrderRequest names the shipping address either inline or as an
// entry of the caller's address book.
type placeOrderRequest struct {
	Items           []checkout.Item `json:"items"`
	ShippingAddress *addressRequest `json:"shippingAddress" validate:"required_without=AddressID"`
	AddressID       string          `json:"addressId" validate:"omitempty,uuid"`
}

func (a addressRequest) snapshot() orders.ShippingAddress {
	return orders.ShippingAddress{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Email:      a.Email,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// PlaceOrder records a manual (bank transfer) order. The first request for
// an Idempotency-Key answers 201; retries of it answer 200 with the same order.
func (h *Handler) PlaceOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := auth.FromContext(c.Request.Context())
	if !ok {
		slog.Error("claims not found", slog.String(logkey.TraceID, traceId))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	key := c.GetHeader(IdempotencyKeyHeader)
	if key == "" || len(key) > 255 {
		badRequest(c, "Missing Idempotency-Key header")
		return
	}

	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("failed to bind order request", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		badRequest(c, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(c, apperr.Wrap(apperr.InvalidRequest, "Invalid shipping address", err))
		return
	}

	var address orders.ShippingAddress
	if req.AddressID != "" {
		saved, err := h.addresses.Get(c.Request.Context(), req.AddressID, claims.Subject)
		if err != nil {
			writeAddressError(c, err, "Unable to load address")
			return
		}
		address = saved.Snapshot(claims.Email)
	} else {
		address = req.ShippingAddress.snapshot()
	}

	order, replayed, err := h.checkout.PlaceOrder(c.Request.Context(), checkout.PlacementInput{
		UserID:         claims.Subject,
		Email:          claims.Email,
		IdempotencyKey: key,
		Items:          req.Items,
		Address:        address,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if replayed {
		c.JSON(http.StatusOK, order)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) ListOrders(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := auth.FromContext(c.Request.Context())
	if !ok {
		slog.Error("claims not found", slog.String(logkey.TraceID, traceId))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	list, err := h.orders.ListOrdersForUser(c.Request.Context(), claims.Subject)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.Internal, "Unable to load orders", err))
		return
	}
	c.JSON(http.StatusOK, list)
}
