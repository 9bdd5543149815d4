// Package client calls the storefront HTTP API on behalf of a signed-in buyer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	consulapi "github.com/hashicorp/consul/api"

	"storefront-service/internal/addresses"
	"storefront-service/internal/catalog"
	"storefront-service/internal/checkout"
	"storefront-service/internal/consul"
	"storefront-service/internal/orders"
)

const idempotencyKeyHeader = "Idempotency-Key"

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status     int
	Message    string
	ProductIDs []string
}

func (e *APIError) Error() string {
	if len(e.ProductIDs) > 0 {
		return fmt.Sprintf("%d %s (products: %s)", e.Status, e.Message, strings.Join(e.ProductIDs, ", "))
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for the API rooted at baseURL, including the
// endpoint prefix, authenticating with the bearer token.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Discover resolves a healthy instance of serviceName through Consul.
func Discover(cc *consulapi.Client, serviceName, prefix, token string, httpClient *http.Client) (*Client, error) {
	address, port, err := consul.GetServiceAddress(cc, serviceName)
	if err != nil {
		return nil, fmt.Errorf("storefront unavailable: %w", err)
	}
	return New(fmt.Sprintf("http://%s:%d%s", address, port, prefix), token, httpClient), nil
}

type address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type placeOrderBody struct {
	Items           []checkout.Item `json:"items"`
	ShippingAddress address         `json:"shippingAddress"`
}

type urlBody struct {
	URL string `json:"url"`
}

// PlaceOrder submits a manual order. Retrying with the same key returns
// the order created by the first attempt.
func (c *Client) PlaceOrder(ctx context.Context, idempotencyKey string, items []checkout.Item, a orders.ShippingAddress) (orders.Order, error) {
	body := placeOrderBody{
		Items: items,
		ShippingAddress: address{
			FullName:   a.FullName,
			Phone:      a.Phone,
			Email:      a.Email,
			Line1:      a.Line1,
			Line2:      a.Line2,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		},
	}
	var o orders.Order
	header := http.Header{idempotencyKeyHeader: []string{idempotencyKey}}
	if err := c.do(ctx, http.MethodPost, "/orders", header, body, &o); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

// CreateCheckoutSession returns the URL of a hosted payment page for items.
func (c *Client) CreateCheckoutSession(ctx context.Context, items []checkout.Item) (string, error) {
	var out urlBody
	body := map[string]any{"items": items}
	if err := c.do(ctx, http.MethodPost, "/create-checkout-session", nil, body, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// PayOrder opens a payment page for an existing unpaid order.
func (c *Client) PayOrder(ctx context.Context, orderID string) (string, error) {
	var out urlBody
	body := map[string]any{"items": []checkout.Item{}, "orderId": orderID}
	if err := c.do(ctx, http.MethodPost, "/create-checkout-session", nil, body, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) GetDownloadURL(ctx context.Context, productID string) (string, error) {
	var out urlBody
	body := map[string]string{"productId": productID}
	if err := c.do(ctx, http.MethodPost, "/get-download-url", nil, body, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) ListOrders(ctx context.Context) ([]orders.Order, error) {
	var list []orders.Order
	if err := c.do(ctx, http.MethodGet, "/orders", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	var list []catalog.Product
	if err := c.do(ctx, http.MethodGet, "/products", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	var list []catalog.Category
	if err := c.do(ctx, http.MethodGet, "/categories", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListAddresses returns the caller's address book, default first.
func (c *Client) ListAddresses(ctx context.Context) ([]addresses.Address, error) {
	var list []addresses.Address
	if err := c.do(ctx, http.MethodGet, "/addresses", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error      string   `json:"error"`
			ProductIDs []string `json:"productIds"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error, ProductIDs: e.ProductIDs}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
