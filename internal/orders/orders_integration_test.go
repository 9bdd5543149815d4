//go:build integration

package orders_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/catalog"
	"storefront-service/internal/orders"
	"storefront-service/internal/stores/postgres/pgtest"
)

func newProduct(t *testing.T, c *catalog.Conf, name, price string) catalog.Product {
	t.Helper()
	p, err := c.InsertProduct(context.Background(), catalog.NewProduct{
		Name:          name,
		Price:         decimal.RequireFromString(price),
		FullImagePath: "full/" + name + ".png",
	})
	require.NoError(t, err)
	return p
}

func TestLedger(t *testing.T) {
	db := pgtest.NewDB(t)
	ctx := context.Background()

	products, err := catalog.NewConf(db)
	require.NoError(t, err)
	ledger, err := orders.NewConf(db)
	require.NoError(t, err)

	poster := newProduct(t, products, "poster", "20.00")
	artPrint := newProduct(t, products, "print", "5.50")

	active, err := products.ActiveProductsByIDs(ctx, []string{poster.ID, "not-a-uuid", artPrint.ID})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	t.Run("price change drops the stripe price", func(t *testing.T) {
		require.NoError(t, products.SetStripePriceID(ctx, artPrint.ID, "price_print"))
		name := "print (signed)"
		p, err := products.UpdateProduct(ctx, artPrint.ID, catalog.ProductUpdate{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "price_print", p.StripePriceID)

		same := artPrint.Price
		p, err = products.UpdateProduct(ctx, artPrint.ID, catalog.ProductUpdate{Price: &same})
		require.NoError(t, err)
		assert.Equal(t, "price_print", p.StripePriceID)

		higher := decimal.RequireFromString("7.50")
		p, err = products.UpdateProduct(ctx, artPrint.ID, catalog.ProductUpdate{Price: &higher})
		require.NoError(t, err)
		assert.Empty(t, p.StripePriceID)

		require.NoError(t, products.SetStripePriceID(ctx, artPrint.ID, ""))
		p, err = products.GetProductByID(ctx, artPrint.ID)
		require.NoError(t, err)
		assert.Empty(t, p.StripePriceID)

		back := artPrint.Price
		_, err = products.UpdateProduct(ctx, artPrint.ID, catalog.ProductUpdate{Price: &back})
		require.NoError(t, err)
	})

	t.Run("categories", func(t *testing.T) {
		cat, err := products.InsertCategory(ctx, catalog.NewCategory{Name: "Wall Posters"})
		require.NoError(t, err)
		assert.Equal(t, "wall-posters", cat.Slug)
		_, err = products.InsertCategory(ctx, catalog.NewCategory{Name: "wall posters"})
		assert.ErrorIs(t, err, catalog.ErrSlugTaken)

		_, err = products.UpdateProduct(ctx, poster.ID, catalog.ProductUpdate{CategoryID: &cat.ID})
		require.NoError(t, err)
		missing := "00000000-0000-4000-8000-000000000000"
		_, err = products.UpdateProduct(ctx, artPrint.ID, catalog.ProductUpdate{CategoryID: &missing})
		assert.ErrorIs(t, err, catalog.ErrCategoryNotFound)

		list, err := products.ListActiveProducts(ctx, "wall-posters", 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, poster.ID, list[0].ID)

		require.NoError(t, products.DeleteCategory(ctx, cat.ID))
		p, err := products.GetProductByID(ctx, poster.ID)
		require.NoError(t, err)
		assert.Empty(t, p.CategoryID)
		assert.ErrorIs(t, products.DeleteCategory(ctx, cat.ID), catalog.ErrCategoryNotFound)
	})

	t.Run("placement is idempotent", func(t *testing.T) {
		requested := []orders.RequestedItem{{ProductID: poster.ID, Quantity: 2}}
		addr := orders.ShippingAddress{FullName: "Ada", City: "London"}
		fp, err := orders.Fingerprint(requested, addr)
		require.NoError(t, err)
		key := orders.IdempotencyKey{UserID: "user-1", Key: "key-1", Fingerprint: fp}
		no := orders.NewOrder{
			UserID:          "user-1",
			TotalAmount:     decimal.RequireFromString("44.00"),
			ShippingAddress: addr,
			Items:           []orders.NewItem{{ProductID: poster.ID, Quantity: 2, PriceAtPurchase: poster.Price}},
		}

		first, replayed, err := ledger.PlaceOrder(ctx, key, no)
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, orders.StatusPending, first.Status)
		assert.Equal(t, orders.PaymentUnpaid, first.PaymentStatus)

		again, replayed, err := ledger.PlaceOrder(ctx, key, no)
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, "London", again.ShippingAddress.City)
		require.Len(t, again.Items, 1)
		assert.Equal(t, "poster", again.Items[0].ProductName)

		other, err := orders.Fingerprint([]orders.RequestedItem{{ProductID: artPrint.ID, Quantity: 1}}, addr)
		require.NoError(t, err)
		key.Fingerprint = other
		_, _, err = ledger.PlaceOrder(ctx, key, no)
		assert.ErrorIs(t, err, orders.ErrIdempotencyConflict)

		list, err := ledger.ListOrdersForUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		_, err = ledger.GetOrderForUser(ctx, first.ID, "user-2")
		assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	})

	t.Run("paid session grants and refund revokes", func(t *testing.T) {
		payment := orders.SessionPayment{
			SessionID:     "cs_test_1",
			PaymentIntent: "pi_test_1",
			UserID:        "user-3",
			Total:         decimal.RequireFromString("6.05"),
			Items:         []orders.NewItem{{ProductID: artPrint.ID, Quantity: 1, PriceAtPurchase: artPrint.Price}},
		}

		e, err := ledger.CheckEntitlement(ctx, "user-3", artPrint.ID, orders.EntitlementLatest)
		require.NoError(t, err)
		assert.False(t, e.HasPaidOrder)

		order, applied, err := ledger.RecordPaidSession(ctx, "evt_1", "checkout.session.completed", payment)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, orders.PaymentPaid, order.PaymentStatus)
		assert.Equal(t, orders.StatusProcessing, order.Status)

		_, applied, err = ledger.RecordPaidSession(ctx, "evt_1", "checkout.session.completed", payment)
		require.NoError(t, err)
		assert.False(t, applied)

		list, err := ledger.ListOrdersForUser(ctx, "user-3")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		e, err = ledger.CheckEntitlement(ctx, "user-3", artPrint.ID, orders.EntitlementLatest)
		require.NoError(t, err)
		assert.True(t, e.Entitled)
		assert.Equal(t, order.ID, e.OrderID)

		e, err = ledger.CheckEntitlement(ctx, "user-3", poster.ID, orders.EntitlementAny)
		require.NoError(t, err)
		assert.True(t, e.HasPaidOrder)
		assert.False(t, e.Entitled)

		_, applied, err = ledger.RecordRefund(ctx, "evt_2", "charge.refunded", "pi_test_1")
		require.NoError(t, err)
		assert.True(t, applied)

		e, err = ledger.CheckEntitlement(ctx, "user-3", artPrint.ID, orders.EntitlementAny)
		require.NoError(t, err)
		assert.False(t, e.HasPaidOrder)

		_, _, err = ledger.RecordRefund(ctx, "evt_3", "charge.refunded", "pi_unknown")
		assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	})

	t.Run("paying an existing order", func(t *testing.T) {
		fp, err := orders.Fingerprint([]orders.RequestedItem{{ProductID: poster.ID, Quantity: 1}}, orders.ShippingAddress{})
		require.NoError(t, err)
		placed, _, err := ledger.PlaceOrder(ctx, orders.IdempotencyKey{UserID: "user-4", Key: "k", Fingerprint: fp}, orders.NewOrder{
			UserID:      "user-4",
			TotalAmount: decimal.RequireFromString("22.00"),
			Items:       []orders.NewItem{{ProductID: poster.ID, Quantity: 1, PriceAtPurchase: poster.Price}},
		})
		require.NoError(t, err)

		// A session that billed other lines leaves the order and the event untouched
		_, _, err = ledger.RecordPaidSession(ctx, "evt_4", "checkout.session.completed", orders.SessionPayment{
			SessionID: "cs_test_swapped",
			OrderID:   placed.ID,
			UserID:    "user-4",
			Items:     []orders.NewItem{{ProductID: artPrint.ID, Quantity: 1, PriceAtPurchase: artPrint.Price}},
		})
		assert.ErrorIs(t, err, orders.ErrPaymentMismatch)
		e, err := ledger.CheckEntitlement(ctx, "user-4", poster.ID, orders.EntitlementAny)
		require.NoError(t, err)
		assert.False(t, e.HasPaidOrder)

		paid, applied, err := ledger.RecordPaidSession(ctx, "evt_4", "checkout.session.completed", orders.SessionPayment{
			SessionID: "cs_test_4",
			OrderID:   placed.ID,
			UserID:    "user-4",
			Items:     []orders.NewItem{{ProductID: poster.ID, Quantity: 1, PriceAtPurchase: poster.Price}},
		})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, placed.ID, paid.ID)
		assert.Len(t, paid.Items, 1)

		e, err = ledger.CheckEntitlement(ctx, "user-4", poster.ID, orders.EntitlementLatest)
		require.NoError(t, err)
		assert.True(t, e.Entitled)

		completed := orders.StatusCompleted
		updated, err := ledger.UpdateOrderStatus(ctx, placed.ID, &completed, nil)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusCompleted, updated.Status)
		assert.Equal(t, orders.PaymentPaid, updated.PaymentStatus)
	})
}
