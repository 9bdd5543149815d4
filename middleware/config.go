package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

// RequireConfig fails the request with 500 when missing reports unset
// settings. It is evaluated on every request.
func RequireConfig(missing func() []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if names := missing(); len(names) > 0 {
			slog.Error("missing server configuration", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
				slog.Any("settings", names))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Missing server configuration"})
			return
		}
		c.Next()
	}
}
