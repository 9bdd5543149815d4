package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/apperr"
	"storefront-service/internal/catalog"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListProducts pages through the active catalog, optionally narrowed to
// the category whose slug is given in ?category=.
func (h *Handler) ListProducts(c *gin.Context) {
	limit, offset := page(c)
	list, err := h.products.ListActiveProducts(c.Request.Context(), c.Query("category"), limit, offset)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.Internal, "Unable to load products", err))
		return
	}

	out := make([]catalog.Product, len(list))
	for i, p := range list {
		out[i] = p.Public()
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListCategories(c *gin.Context) {
	list, err := h.categories.ListCategories(c.Request.Context())
	if err != nil {
		writeError(c, apperr.Wrap(apperr.Internal, "Unable to load categories", err))
		return
	}
	c.JSON(http.StatusOK, list)
}

// page reads limit and offset from the query, falling back to the first page.
func page(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err = strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
