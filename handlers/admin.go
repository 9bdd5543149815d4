package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/apperr"
	"storefront-service/internal/catalog"
	"storefront-service/internal/orders"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

func (h *Handler) AdminListOrders(c *gin.Context) {
	limit, offset := page(c)
	list, err := h.orders.ListAllOrders(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.Internal, "Unable to load orders", err))
		return
	}
	c.JSON(http.StatusOK, list)
}

type orderStatusRequest struct {
	Status        *orders.Status        `json:"status"`
	PaymentStatus *orders.PaymentStatus `json:"payment_status"`
}

func (h *Handler) AdminUpdateOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.Status == nil && req.PaymentStatus == nil {
		badRequest(c, "Nothing to update")
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		badRequest(c, "Invalid status")
		return
	}
	if req.PaymentStatus != nil && !req.PaymentStatus.Valid() {
		badRequest(c, "Invalid payment_status")
		return
	}

	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status, req.PaymentStatus)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			writeError(c, apperr.E(apperr.NotFound, "Order not found"))
			return
		}
		writeError(c, apperr.Wrap(apperr.Internal, "Unable to update order", err))
		return
	}
	slog.Info("order updated", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, order.ID),
		slog.String("Status", string(order.Status)), slog.String("PaymentStatus", string(order.PaymentStatus)))
	c.JSON(http.StatusOK, order)
}

// AdminCreateProduct inserts a product. Without a stripe_price_id, and with
// Stripe configured, a Stripe product and price are created for it.
func (h *Handler) AdminCreateProduct(c *gin.Context) {
	var np catalog.NewProduct
	if err := c.ShouldBindJSON(&np); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if err := h.validate.Struct(np); err != nil || !np.Price.IsPositive() {
		badRequest(c, "Invalid product")
		return
	}

	p, err := h.products.InsertProduct(c.Request.Context(), np)
	if err != nil {
		if errors.Is(err, catalog.ErrCategoryNotFound) {
			badRequest(c, "Unknown category")
			return
		}
		writeError(c, apperr.Wrap(apperr.Internal, "Unable to create product", err))
		return
	}

	if p.StripePriceID == "" {
		h.attachPrice(c, &p)
	}
	c.JSON(http.StatusCreated, p)
}

// AdminUpdateProduct applies a partial update. A new price gets a new
// Stripe price unless the payload names one.
func (h *Handler) AdminUpdateProduct(c *gin.Context) {
	var u catalog.ProductUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if err := h.validate.Struct(u); err != nil || (u.Price != nil && !u.Price.IsPositive()) {
		badRequest(c, "Invalid product")
		return
	}

	p, err := h.products.UpdateProduct(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			writeError(c, apperr.E(apperr.NotFound, "Product not found"))
			return
		}
		if errors.Is(err, catalog.ErrCategoryNotFound) {
			badRequest(c, "Unknown category")
			return
		}
		writeError(c, apperr.Wrap(apperr.Internal, "Unable to update product", err))
		return
	}
	// The store drops the price reference when the amount changes
	if u.Price != nil && p.StripePriceID == "" {
		h.attachPrice(c, &p)
	}
	c.JSON(http.StatusOK, p)
}

// attachPrice creates a Stripe price for p at its current amount. On
// failure p stays without one, so checkout rejects it until an admin
// sets stripe_price_id.
func (h *Handler) attachPrice(c *gin.Context, p *catalog.Product) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	if h.prices == nil {
		return
	}
	priceID, err := h.prices.CreateProductPrice(c.Request.Context(), p.ID, p.Name, p.Price)
	if err != nil {
		slog.Error("failed to create stripe price", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.ProductID, p.ID), slog.String(logkey.ERROR, err.Error()))
		return
	}
	if err := h.products.SetStripePriceID(c.Request.Context(), p.ID, priceID); err != nil {
		slog.Error("failed to store stripe price", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.ProductID, p.ID), slog.String(logkey.ERROR, err.Error()))
		return
	}
	p.StripePriceID = priceID
}

func (h *Handler) AdminCreateCategory(c *gin.Context) {
	var nc catalog.NewCategory
	if err := c.ShouldBindJSON(&nc); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if err := h.validate.Struct(nc); err != nil {
		badRequest(c, "Invalid category")
		return
	}
	cat, err := h.categories.InsertCategory(c.Request.Context(), nc)
	if err != nil {
		writeCategoryError(c, err, "Unable to create category")
		return
	}
	slog.Info("category created", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
		slog.String("CategoryID", cat.ID), slog.String("Slug", cat.Slug))
	c.JSON(http.StatusCreated, cat)
}

func (h *Handler) AdminUpdateCategory(c *gin.Context) {
	var u catalog.CategoryUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if err := h.validate.Struct(u); err != nil {
		badRequest(c, "Invalid category")
		return
	}
	cat, err := h.categories.UpdateCategory(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		writeCategoryError(c, err, "Unable to update category")
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *Handler) AdminDeleteCategory(c *gin.Context) {
	if err := h.categories.DeleteCategory(c.Request.Context(), c.Param("id")); err != nil {
		writeCategoryError(c, err, "Unable to delete category")
		return
	}
	c.Status(http.StatusNoContent)
}

func writeCategoryError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, catalog.ErrCategoryNotFound):
		writeError(c, apperr.E(apperr.NotFound, "Category not found"))
	case errors.Is(err, catalog.ErrSlugTaken):
		writeError(c, apperr.E(apperr.Conflict, "Slug already in use"))
	case errors.Is(err, catalog.ErrInvalidSlug):
		badRequest(c, "Invalid slug")
	default:
		writeError(c, apperr.Wrap(apperr.Internal, msg, err))
	}
}
