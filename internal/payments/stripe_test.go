package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStripe struct {
	mu    sync.Mutex
	calls map[string]int
	forms map[string][]map[string]string
}

func newFakeStripe(t *testing.T) (*fakeStripe, *httptest.Server) {
	f := &fakeStripe{calls: map[string]int{}, forms: map[string][]map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.mu.Lock()
		f.calls[r.URL.Path]++
		f.forms[r.URL.Path] = append(f.forms[r.URL.Path], form)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/checkout/sessions":
			_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/pay/cs_test_1"}`))
		case "/v1/products":
			_, _ = w.Write([]byte(`{"id":"prod_1","object":"product"}`))
		case "/v1/prices":
			_, _ = w.Write([]byte(`{"id":"price_1","object":"price"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"not found","type":"invalid_request_error"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestCreateCheckoutSession(t *testing.T) {
	f, srv := newFakeStripe(t)
	s := NewStripe("sk_test_123", StripeOptions{BackendURL: srv.URL, Timeout: time.Second})

	sess, err := s.CreateCheckoutSession(context.Background(), SessionRequest{
		Items: []LineItem{{
			ProductID: "p1",
			PriceRef:  "price_p1",
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("10.00"),
			Amount:    decimal.RequireFromString("20.00"),
		}},
		CustomerEmail: "buyer@example.com",
		UserID:        "user-1",
		OrderID:       "order-1",
		SuccessURL:    "https://shop.test/cart?checkout=success",
		CancelURL:     "https://shop.test/cart?checkout=cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.test/pay/cs_test_1", sess.URL)

	require.Equal(t, 1, f.calls["/v1/checkout/sessions"])
	form := f.forms["/v1/checkout/sessions"][0]
	assert.Equal(t, "payment", form["mode"])
	assert.Equal(t, "price_p1", form["line_items[0][price]"])
	assert.Equal(t, "2", form["line_items[0][quantity]"])
	assert.Equal(t, "user-1", form["metadata[user_id]"])
	assert.Equal(t, "order-1", form["metadata[order_id]"])
	assert.Equal(t, "p1:2:10.00", form["metadata[item_0]"])
	assert.Equal(t, "buyer@example.com", form["customer_email"])
	assert.Equal(t, "https://shop.test/cart?checkout=success", form["success_url"])
}

func TestCreateCheckoutSessionIsNotRetried(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"api_error"}}`))
	}))
	defer srv.Close()

	s := NewStripe("sk_test_123", StripeOptions{BackendURL: srv.URL, Timeout: time.Second})
	_, err := s.CreateCheckoutSession(context.Background(), SessionRequest{
		Items:  []LineItem{{ProductID: "p1", PriceRef: "price_p1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
		UserID: "user-1",
	})
	require.Error(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestCreateCheckoutSessionRequiresItems(t *testing.T) {
	s := NewStripe("sk_test_123", StripeOptions{BackendURL: "http://127.0.0.1:1"})
	_, err := s.CreateCheckoutSession(context.Background(), SessionRequest{UserID: "user-1"})
	assert.Error(t, err)
}

func TestCreateProductPrice(t *testing.T) {
	f, srv := newFakeStripe(t)
	s := NewStripe("sk_test_123", StripeOptions{BackendURL: srv.URL, Currency: "eur"})

	id, err := s.CreateProductPrice(context.Background(), "p1", "Poster", decimal.RequireFromString("12.34"))
	require.NoError(t, err)
	assert.Equal(t, "price_1", id)

	require.Len(t, f.forms["/v1/prices"], 1)
	price := f.forms["/v1/prices"][0]
	assert.Equal(t, "prod_1", price["product"])
	assert.Equal(t, "1234", price["unit_amount"])
	assert.Equal(t, "eur", price["currency"])
	assert.Equal(t, "Poster", f.forms["/v1/products"][0]["name"])
}
