package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/auth"
	"storefront-service/internal/checkout"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

type checkoutRequest struct {
	Items   []checkout.Item `json:"items"`
	OrderID string          `json:"orderId" validate:"omitempty,uuid"`
}

type urlResponse struct {
	URL string `json:"url"`
}

func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := c.Request.Context().Value(auth.ClaimsKey).(auth.Claims)
	if !ok {
		slog.Error("claims not found", slog.String(logkey.TraceID, traceId))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("failed to bind checkout request", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		badRequest(c, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(c, "Invalid orderId")
		return
	}

	base := callbackBase(c, h.cfg.AppURL)
	sess, err := h.checkout.CreateSession(c.Request.Context(), checkout.SessionInput{
		UserID:     claims.Subject,
		Email:      claims.Email,
		OrderID:    req.OrderID,
		Items:      req.Items,
		SuccessURL: base + "/cart?checkout=success",
		CancelURL:  base + "/cart?checkout=cancel",
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, urlResponse{URL: sess.URL})
}

// callbackBase picks where the payment page sends the buyer back to: the
// calling origin, then the configured app URL, then this host.
func callbackBase(c *gin.Context, appURL string) string {
	if origin := c.GetHeader("Origin"); origin != "" && origin != "null" {
		return strings.TrimRight(origin, "/")
	}
	if appURL != "" {
		return strings.TrimRight(appURL, "/")
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}
