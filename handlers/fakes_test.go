package handlers

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront-service/internal/addresses"
	"storefront-service/internal/catalog"
	"storefront-service/internal/orders"
	"storefront-service/internal/payments"
)

// memStore is an in-memory catalog and ledger.
type memStore struct {
	mu         sync.Mutex
	products   map[string]catalog.Product
	categories map[string]catalog.Category
	orders     []orders.Order
	keys     map[string][]byte
	keyOrder map[string]string
	events   map[string]bool
	clock    time.Time
}

func newMemStore() *memStore {
	return &memStore{
		products:   map[string]catalog.Product{},
		categories: map[string]catalog.Category{},
		keys:       map[string][]byte{},
		keyOrder:   map[string]string{},
		events:     map[string]bool{},
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) ActiveProductsByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetProductByID(_ context.Context, id string) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

func (m *memStore) ListActiveProducts(_ context.Context, category string, limit, offset int) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	categoryID := ""
	if category != "" {
		for _, cat := range m.categories {
			if cat.Slug == category {
				categoryID = cat.ID
			}
		}
		if categoryID == "" {
			return []catalog.Product{}, nil
		}
	}
	out := []catalog.Product{}
	for _, p := range m.products {
		if p.IsActive && (categoryID == "" || p.CategoryID == categoryID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if offset >= len(out) {
		return []catalog.Product{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) InsertProduct(_ context.Context, np catalog.NewProduct) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[np.CategoryID]; np.CategoryID != "" && !ok {
		return catalog.Product{}, catalog.ErrCategoryNotFound
	}
	p := catalog.Product{
		ID:            uuid.NewString(),
		Name:          np.Name,
		Price:         np.Price,
		StripePriceID: np.StripePriceID,
		FullImagePath: np.FullImagePath,
		CategoryID:    np.CategoryID,
		IsActive:      np.IsActive == nil || *np.IsActive,
	}
	m.products[p.ID] = p
	return p, nil
}

func (m *memStore) UpdateProduct(_ context.Context, id string, u catalog.ProductUpdate) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Price != nil {
		if !u.Price.Equal(p.Price) {
			p.StripePriceID = ""
		}
		p.Price = *u.Price
	}
	if u.StripePriceID != nil {
		p.StripePriceID = *u.StripePriceID
	}
	if u.FullImagePath != nil {
		p.FullImagePath = *u.FullImagePath
	}
	if u.IsActive != nil {
		p.IsActive = *u.IsActive
	}
	if u.CategoryID != nil {
		if _, ok := m.categories[*u.CategoryID]; *u.CategoryID != "" && !ok {
			return catalog.Product{}, catalog.ErrCategoryNotFound
		}
		p.CategoryID = *u.CategoryID
	}
	m.products[id] = p
	return p, nil
}

func (m *memStore) SetStripePriceID(_ context.Context, id, priceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.StripePriceID = priceID
	m.products[id] = p
	return nil
}

func (m *memStore) ListCategories(_ context.Context) ([]catalog.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []catalog.Category{}
	for _, cat := range m.categories {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *memStore) InsertCategory(_ context.Context, nc catalog.NewCategory) (catalog.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slug := catalog.Slugify(nc.Slug)
	if slug == "" {
		slug = catalog.Slugify(nc.Name)
	}
	if slug == "" {
		return catalog.Category{}, catalog.ErrInvalidSlug
	}
	for _, cat := range m.categories {
		if cat.Slug == slug {
			return catalog.Category{}, catalog.ErrSlugTaken
		}
	}
	cat := catalog.Category{
		ID: uuid.NewString(), Name: nc.Name, Slug: slug, Description: nc.Description,
		ImagePath: nc.ImagePath, DisplayOrder: nc.DisplayOrder,
	}
	m.categories[cat.ID] = cat
	return cat, nil
}

func (m *memStore) UpdateCategory(_ context.Context, id string, u catalog.CategoryUpdate) (catalog.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cat, ok := m.categories[id]
	if !ok {
		return catalog.Category{}, catalog.ErrCategoryNotFound
	}
	if u.Name != nil {
		cat.Name = *u.Name
	}
	if u.Slug != nil {
		cat.Slug = catalog.Slugify(*u.Slug)
		if cat.Slug == "" {
			return catalog.Category{}, catalog.ErrInvalidSlug
		}
		for _, other := range m.categories {
			if other.ID != id && other.Slug == cat.Slug {
				return catalog.Category{}, catalog.ErrSlugTaken
			}
		}
	}
	if u.DisplayOrder != nil {
		cat.DisplayOrder = *u.DisplayOrder
	}
	m.categories[id] = cat
	return cat, nil
}

func (m *memStore) DeleteCategory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return catalog.ErrCategoryNotFound
	}
	delete(m.categories, id)
	for pid, p := range m.products {
		if p.CategoryID == id {
			p.CategoryID = ""
			m.products[pid] = p
		}
	}
	return nil
}

func (m *memStore) insert(no orders.NewOrder) orders.Order {
	now := m.tick()
	o := orders.Order{
		ID:                  uuid.NewString(),
		UserID:              no.UserID,
		Status:              no.Status,
		PaymentStatus:       no.PaymentStatus,
		TotalAmount:         no.TotalAmount,
		ShippingAddress:     no.ShippingAddress,
		StripeSessionID:     no.StripeSessionID,
		StripePaymentIntent: no.StripePaymentIntent,
		CreatedAt:           now,
		UpdatedAt:           now,
		Items:               []orders.Item{},
	}
	for _, it := range no.Items {
		o.Items = append(o.Items, orders.Item{
			ID: uuid.NewString(), OrderID: o.ID, ProductID: it.ProductID,
			Quantity: it.Quantity, PriceAtPurchase: it.PriceAtPurchase,
		})
	}
	m.orders = append(m.orders, o)
	return o
}

func (m *memStore) find(id string) int {
	for i, o := range m.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (m *memStore) GetOrderForUser(_ context.Context, id, userID string) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(id)
	if i < 0 || m.orders[i].UserID != userID {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return m.orders[i], nil
}

func (m *memStore) PlaceOrder(_ context.Context, key orders.IdempotencyKey, no orders.NewOrder) (orders.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key.UserID + "/" + key.Key
	if fp, ok := m.keys[k]; ok {
		if !bytes.Equal(fp, key.Fingerprint) {
			return orders.Order{}, false, orders.ErrIdempotencyConflict
		}
		return m.orders[m.find(m.keyOrder[k])], true, nil
	}
	o := m.insert(no)
	m.keys[k] = key.Fingerprint
	m.keyOrder[k] = o.ID
	return o, false, nil
}

func (m *memStore) ListOrdersForUser(_ context.Context, userID string) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []orders.Order{}
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].UserID == userID {
			out = append(out, m.orders[i])
		}
	}
	return out, nil
}

func (m *memStore) ListAllOrders(_ context.Context, limit, offset int) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []orders.Order{}
	for i := len(m.orders) - 1; i >= 0; i-- {
		out = append(out, m.orders[i])
	}
	if offset >= len(out) {
		return []orders.Order{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, id string, status *orders.Status, payment *orders.PaymentStatus) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(id)
	if i < 0 {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if status != nil {
		m.orders[i].Status = *status
	}
	if payment != nil {
		m.orders[i].PaymentStatus = *payment
	}
	m.orders[i].UpdatedAt = m.tick()
	return m.orders[i], nil
}

func (m *memStore) RecordPaidSession(_ context.Context, eventID, _ string, p orders.SessionPayment) (orders.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events[eventID] {
		return orders.Order{}, false, nil
	}
	for i, o := range m.orders {
		if (p.SessionID != "" && o.StripeSessionID == p.SessionID) || (o.ID == p.OrderID && o.UserID == p.UserID) {
			if o.StripeSessionID != p.SessionID && !orders.MatchesItems(o.Items, p.Items) {
				return orders.Order{}, false, orders.ErrPaymentMismatch
			}
			m.events[eventID] = true
			m.orders[i].PaymentStatus = orders.PaymentPaid
			if o.Status == orders.StatusPending {
				m.orders[i].Status = orders.StatusProcessing
			}
			m.orders[i].StripeSessionID = p.SessionID
			m.orders[i].StripePaymentIntent = p.PaymentIntent
			return m.orders[i], true, nil
		}
	}
	m.events[eventID] = true
	o := m.insert(orders.NewOrder{
		UserID: p.UserID, Status: orders.StatusProcessing, PaymentStatus: orders.PaymentPaid,
		TotalAmount: p.Total, ShippingAddress: p.Address, StripeSessionID: p.SessionID,
		StripePaymentIntent: p.PaymentIntent, Items: p.Items,
	})
	return o, true, nil
}

func (m *memStore) RecordRefund(_ context.Context, eventID, _ string, paymentIntent string) (orders.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events[eventID] {
		return orders.Order{}, false, nil
	}
	for i, o := range m.orders {
		if o.StripePaymentIntent == paymentIntent {
			m.events[eventID] = true
			m.orders[i].PaymentStatus = orders.PaymentRefunded
			return m.orders[i], true, nil
		}
	}
	return orders.Order{}, false, orders.ErrOrderNotFound
}

func (m *memStore) CheckEntitlement(_ context.Context, userID, productID string, scope orders.EntitlementScope) (orders.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var e orders.Entitlement
	for i := len(m.orders) - 1; i >= 0; i-- {
		o := m.orders[i]
		if o.UserID != userID || o.PaymentStatus != orders.PaymentPaid {
			continue
		}
		first := !e.HasPaidOrder
		e.HasPaidOrder = true
		if hasProduct(o, productID) {
			e.Entitled = true
			e.OrderID = o.ID
			return e, nil
		}
		if first && scope == orders.EntitlementLatest {
			return e, nil
		}
	}
	return e, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	requests []payments.SessionRequest
}

func (f *fakeSessions) CreateCheckoutSession(_ context.Context, req payments.SessionRequest) (payments.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return payments.Session{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
}

type fakePrices struct {
	err error
}

func (f *fakePrices) CreateProductPrice(_ context.Context, productID, _ string, price decimal.Decimal) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "price_" + productID[:8] + "_" + price.StringFixed(2), nil
}

type fakeEvents struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeEvents) PublishEvent(_ context.Context, topic, _ string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

func hasProduct(o orders.Order, productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// memAddresses is an in-memory address book.
type memAddresses struct {
	mu    sync.Mutex
	list  []addresses.Address
	clock time.Time
}

func (m *memAddresses) List(_ context.Context, userID string) ([]addresses.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []addresses.Address{}
	for _, a := range m.list {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IsDefault && !out[j].IsDefault })
	return out, nil
}

func (m *memAddresses) Get(_ context.Context, id, userID string) (addresses.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(id, userID)
	if i < 0 {
		return addresses.Address{}, addresses.ErrAddressNotFound
	}
	return m.list[i], nil
}

func (m *memAddresses) Create(_ context.Context, userID string, f addresses.Fields) (addresses.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := true
	for _, a := range m.list {
		if a.UserID == userID {
			first = false
		}
	}
	if f.IsDefault || first {
		m.clearDefault(userID)
	}
	m.clock = m.clock.Add(time.Second)
	a := fromFields(f)
	a.ID, a.UserID, a.IsDefault, a.CreatedAt = uuid.NewString(), userID, f.IsDefault || first, m.clock
	m.list = append(m.list, a)
	return a, nil
}

func (m *memAddresses) Update(_ context.Context, id, userID string, f addresses.Fields) (addresses.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(id, userID)
	if i < 0 {
		return addresses.Address{}, addresses.ErrAddressNotFound
	}
	wasDefault := m.list[i].IsDefault
	if f.IsDefault && !wasDefault {
		m.clearDefault(userID)
	}
	a := fromFields(f)
	a.ID, a.UserID, a.IsDefault, a.CreatedAt = id, userID, f.IsDefault || wasDefault, m.list[i].CreatedAt
	m.list[i] = a
	return a, nil
}

func (m *memAddresses) SetDefault(_ context.Context, id, userID string) (addresses.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(id, userID)
	if i < 0 {
		return addresses.Address{}, addresses.ErrAddressNotFound
	}
	m.clearDefault(userID)
	m.list[i].IsDefault = true
	return m.list[i], nil
}

func (m *memAddresses) Delete(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(id, userID)
	if i < 0 {
		return addresses.ErrAddressNotFound
	}
	wasDefault := m.list[i].IsDefault
	m.list = append(m.list[:i], m.list[i+1:]...)
	if wasDefault {
		for j := range m.list {
			if m.list[j].UserID == userID {
				m.list[j].IsDefault = true
				break
			}
		}
	}
	return nil
}

func (m *memAddresses) find(id, userID string) int {
	for i, a := range m.list {
		if a.ID == id && a.UserID == userID {
			return i
		}
	}
	return -1
}

func (m *memAddresses) clearDefault(userID string) {
	for i := range m.list {
		if m.list[i].UserID == userID {
			m.list[i].IsDefault = false
		}
	}
}

func fromFields(f addresses.Fields) addresses.Address {
	return addresses.Address{
		FullName: f.FullName, Phone: f.Phone, Line1: f.Line1, Line2: f.Line2,
		City: f.City, State: f.State, PostalCode: f.PostalCode, Country: f.Country,
	}
}
