package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/addresses"
	"storefront-service/internal/apperr"
	"storefront-service/internal/auth"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

type savedAddressRequest struct {
	addressRequest
	IsDefault bool `json:"isDefault"`
}

func (r savedAddressRequest) fields() addresses.Fields {
	return addresses.Fields{
		FullName:   r.FullName,
		Phone:      r.Phone,
		Line1:      r.Line1,
		Line2:      r.Line2,
		City:       r.City,
		State:      r.State,
		PostalCode: r.PostalCode,
		Country:    r.Country,
		IsDefault:  r.IsDefault,
	}
}

func (h *Handler) ListAddresses(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	list, err := h.addresses.List(c.Request.Context(), claims.Subject)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.Internal, "Unable to load addresses", err))
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) CreateAddress(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	req, ok := h.bindAddress(c)
	if !ok {
		return
	}
	a, err := h.addresses.Create(c.Request.Context(), claims.Subject, req.fields())
	if err != nil {
		writeError(c, apperr.Wrap(apperr.Internal, "Unable to save address", err))
		return
	}
	slog.Info("address saved", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
		slog.String(logkey.UserID, claims.Subject), slog.String("AddressID", a.ID))
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAddress(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	req, ok := h.bindAddress(c)
	if !ok {
		return
	}
	a, err := h.addresses.Update(c.Request.Context(), c.Param("id"), claims.Subject, req.fields())
	if err != nil {
		writeAddressError(c, err, "Unable to update address")
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) SetDefaultAddress(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	a, err := h.addresses.SetDefault(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		writeAddressError(c, err, "Unable to update address")
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAddress(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	if err := h.addresses.Delete(c.Request.Context(), c.Param("id"), claims.Subject); err != nil {
		writeAddressError(c, err, "Unable to delete address")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) bindAddress(c *gin.Context) (savedAddressRequest, bool) {
	var req savedAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(c, apperr.Wrap(apperr.InvalidRequest, "Invalid address", err))
		return req, false
	}
	return req, true
}

// claims reads the caller's claims, answering 401 when they are missing.
func (h *Handler) claims(c *gin.Context) (auth.Claims, bool) {
	claims, ok := auth.FromContext(c.Request.Context())
	if !ok {
		slog.Error("claims not found", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
	return claims, ok
}

func writeAddressError(c *gin.Context, err error, msg string) {
	if errors.Is(err, addresses.ErrAddressNotFound) {
		writeError(c, apperr.E(apperr.NotFound, "Address not found"))
		return
	}
	writeError(c, apperr.Wrap(apperr.Internal, msg, err))
}
