package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/apperr"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

// writeError renders err as {"error": msg}, adding productIds when the
// failure names products. Errors without a Kind are internal.
func writeError(c *gin.Context, err error) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Wrap(apperr.Internal, "Internal server error", err)
	}
	if ae.Kind == apperr.Internal {
		slog.Error("request failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
	} else {
		slog.Info("request rejected", slog.String(logkey.TraceID, traceId),
			slog.String("Kind", ae.Kind.String()), slog.String("Message", ae.Msg))
	}

	body := gin.H{"error": ae.Msg}
	if len(ae.ProductIDs) > 0 {
		body["productIds"] = ae.ProductIDs
	}
	c.AbortWithStatusJSON(ae.Kind.HTTPStatus(), body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
