package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/auth"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

type downloadRequest struct {
	ProductID string `json:"productId"`
}

func (h *Handler) GetDownloadURL(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := auth.FromContext(c.Request.Context())
	if !ok {
		slog.Error("claims not found", slog.String(logkey.TraceID, traceId))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Missing productId")
		return
	}

	url, err := h.releaser.Release(c.Request.Context(), claims.Subject, req.ProductID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, urlResponse{URL: url})
}
