// Package payments talks to Stripe: it opens checkout sessions, creates
// catalog prices and verifies webhook deliveries.
package payments

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"storefront-service/internal/orders"
)

const (
	MetadataUserID  = "user_id"
	MetadataOrderID = "order_id"

	itemKeyPrefix = "item_"
)

// MaxSessionItems bounds the lines of one session. Stripe accepts 50
// metadata keys and the session uses a few of them for itself.
const MaxSessionItems = 40

// EncodeItemsMetadata writes one metadata key per line, item_<n> =
// <product id>:<quantity>:<unit price>, so a paid session can be turned
// into an order without trusting anything but Stripe.
func EncodeItemsMetadata(items []LineItem) (map[string]string, error) {
	if len(items) > MaxSessionItems {
		return nil, fmt.Errorf("too many line items: %d > %d", len(items), MaxSessionItems)
	}
	md := make(map[string]string, len(items)+2)
	for i, it := range items {
		if strings.Contains(it.ProductID, ":") {
			return nil, fmt.Errorf("invalid product id %q", it.ProductID)
		}
		md[itemKeyPrefix+strconv.Itoa(i)] = fmt.Sprintf("%s:%d:%s", it.ProductID, it.Quantity, it.UnitPrice.StringFixed(2))
	}
	return md, nil
}

// DecodeItemsMetadata reverses EncodeItemsMetadata, ignoring unrelated keys.
func DecodeItemsMetadata(md map[string]string) ([]orders.NewItem, error) {
	type indexed struct {
		n    int
		item orders.NewItem
	}
	var list []indexed
	for k, v := range md {
		if !strings.HasPrefix(k, itemKeyPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(k, itemKeyPrefix))
		if err != nil {
			continue
		}
		parts := strings.Split(v, ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("malformed metadata %s=%q", k, v)
		}
		qty, err := strconv.Atoi(parts[1])
		if err != nil || qty < 1 {
			return nil, fmt.Errorf("malformed quantity in %s=%q", k, v)
		}
		price, err := decimal.NewFromString(parts[2])
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("malformed price in %s=%q", k, v)
		}
		list = append(list, indexed{n: n, item: orders.NewItem{ProductID: parts[0], Quantity: qty, PriceAtPurchase: price}})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].n < list[j].n })

	items := make([]orders.NewItem, len(list))
	for i, it := range list {
		items[i] = it.item
	}
	return items, nil
}
