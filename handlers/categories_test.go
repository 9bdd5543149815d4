package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/catalog"
)

func TestCategories(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(t, "admin-1", "admin")

	w := ts.do(http.MethodPost, "/v1/admin/categories", ts.token(t, "user-1", ""), `{"name":"Posters"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPost, "/v1/admin/categories", admin, `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/v1/admin/categories", admin, `{"name":"Wall Posters","display_order":2}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	posters := decode[catalog.Category](t, w)
	assert.Equal(t, "wall-posters", posters.Slug)

	w = ts.do(http.MethodPost, "/v1/admin/categories", admin, `{"name":"Wall posters!"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(http.MethodPost, "/v1/admin/categories", admin, `{"name":"Zines","slug":"Small Press","display_order":1}`)
	require.Equal(t, http.StatusCreated, w.Code)
	zines := decode[catalog.Category](t, w)
	assert.Equal(t, "small-press", zines.Slug)

	w = ts.do(http.MethodGet, "/v1/categories", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]catalog.Category](t, w)
	require.Len(t, list, 2)
	assert.Equal(t, zines.ID, list[0].ID)

	w = ts.do(http.MethodPut, "/v1/admin/products/"+posterID, admin, `{"category_id":"`+posters.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = ts.do(http.MethodPut, "/v1/admin/products/"+printID, admin, `{"category_id":"00000000-0000-4000-8000-000000000000"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/v1/products?category=wall-posters", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	products := decode[[]catalog.Product](t, w)
	require.Len(t, products, 1)
	assert.Equal(t, posterID, products[0].ID)
	assert.Equal(t, posters.ID, products[0].CategoryID)

	w = ts.do(http.MethodGet, "/v1/products?category=unknown", "", "")
	assert.JSONEq(t, `[]`, w.Body.String())

	w = ts.do(http.MethodPut, "/v1/admin/categories/"+zines.ID, admin, `{"slug":"wall-posters"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = ts.do(http.MethodPut, "/v1/admin/categories/"+zines.ID, admin, `{"name":"Zines & Comics"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Zines & Comics", decode[catalog.Category](t, w).Name)

	w = ts.do(http.MethodDelete, "/v1/admin/categories/"+posters.ID, admin, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(http.MethodDelete, "/v1/admin/categories/"+posters.ID, admin, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Products outlive their category
	assert.Empty(t, ts.store.products[posterID].CategoryID)
	w = ts.do(http.MethodGet, "/v1/products", "", "")
	assert.Len(t, decode[[]catalog.Product](t, w), 3)
}
