package handlers

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"

	"storefront-service/internal/addresses"
	"storefront-service/internal/auth"
	"storefront-service/internal/catalog"
	"storefront-service/internal/checkout"
	"storefront-service/internal/config"
	"storefront-service/internal/downloads"
	"storefront-service/internal/orders"
	"storefront-service/internal/storage"
	"storefront-service/middleware"
)

type ProductStore interface {
	ListActiveProducts(ctx context.Context, category string, limit, offset int) ([]catalog.Product, error)
	InsertProduct(ctx context.Context, np catalog.NewProduct) (catalog.Product, error)
	UpdateProduct(ctx context.Context, id string, u catalog.ProductUpdate) (catalog.Product, error)
	SetStripePriceID(ctx context.Context, id, priceID string) error
}

type CategoryStore interface {
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	InsertCategory(ctx context.Context, nc catalog.NewCategory) (catalog.Category, error)
	UpdateCategory(ctx context.Context, id string, u catalog.CategoryUpdate) (catalog.Category, error)
	DeleteCategory(ctx context.Context, id string) error
}

type AddressStore interface {
	List(ctx context.Context, userID string) ([]addresses.Address, error)
	Get(ctx context.Context, id, userID string) (addresses.Address, error)
	Create(ctx context.Context, userID string, f addresses.Fields) (addresses.Address, error)
	Update(ctx context.Context, id, userID string, f addresses.Fields) (addresses.Address, error)
	SetDefault(ctx context.Context, id, userID string) (addresses.Address, error)
	Delete(ctx context.Context, id, userID string) error
}

type OrderStore interface {
	ListOrdersForUser(ctx context.Context, userID string) ([]orders.Order, error)
	ListAllOrders(ctx context.Context, limit, offset int) ([]orders.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status *orders.Status, payment *orders.PaymentStatus) (orders.Order, error)
	RecordPaidSession(ctx context.Context, eventID, eventType string, p orders.SessionPayment) (orders.Order, bool, error)
	RecordRefund(ctx context.Context, eventID, eventType, paymentIntent string) (orders.Order, bool, error)
}

type EventVerifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

type PriceCreator interface {
	CreateProductPrice(ctx context.Context, productID, name string, price decimal.Decimal) (string, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, v any) error
}

// Deps are the collaborators the HTTP API is built from. Prices, Events
// and Assets may be nil.
type Deps struct {
	Config     config.Config
	Verifier   auth.Verifier
	Products   ProductStore
	Categories CategoryStore
	Addresses  AddressStore
	Orders     OrderStore
	Checkout   *checkout.Service
	Releaser   *downloads.Releaser
	Webhooks   EventVerifier
	Prices     PriceCreator
	Events     EventPublisher
	Assets     *storage.Local
}

type Handler struct {
	cfg        config.Config
	products   ProductStore
	categories CategoryStore
	addresses  AddressStore
	orders     OrderStore
	checkout   *checkout.Service
	releaser   *downloads.Releaser
	webhooks   EventVerifier
	prices     PriceCreator
	events     EventPublisher
	assets     *storage.Local
	validate   *validator.Validate
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		cfg:        d.Config,
		products:   d.Products,
		categories: d.Categories,
		addresses:  d.Addresses,
		orders:     d.Orders,
		checkout:   d.Checkout,
		releaser:   d.Releaser,
		webhooks:   d.Webhooks,
		prices:     d.Prices,
		events:     d.Events,
		assets:     d.Assets,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func API(d Deps) *gin.Engine {
	r := gin.New()
	if os.Getenv("GIN_MODE") == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	m, err := middleware.NewMid(d.Verifier)
	if err != nil {
		panic(err)
	}

	h := NewHandler(d)
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	r.Use(middleware.Logger(), gin.Recovery(), middleware.CORS(d.Config.AllowedOrigins))

	r.GET("/ping", HealthCheck)
	v1 := r.Group(d.Config.EndpointPrefix)
	{
		v1.GET("/ping", HealthCheck)
		v1.GET("/products", h.ListProducts)
		v1.GET("/categories", h.ListCategories)
		v1.POST("/webhook/stripe", middleware.RequireConfig(d.Config.MissingForWebhook), h.StripeWebhook)
		if h.assets != nil {
			v1.GET("/assets/download", h.DownloadAsset)
		}

		v1.POST("/create-checkout-session",
			middleware.RequireConfig(d.Config.MissingForCheckout), m.Authentication(), h.CreateCheckoutSession)
		v1.POST("/get-download-url",
			middleware.RequireConfig(d.Config.MissingForDownloads), m.Authentication(), h.GetDownloadURL)

		v1.POST("/orders", m.Authentication(), h.PlaceOrder)
		v1.GET("/orders", m.Authentication(), h.ListOrders)

		book := v1.Group("/addresses", m.Authentication())
		book.GET("", h.ListAddresses)
		book.POST("", h.CreateAddress)
		book.PUT("/:id", h.UpdateAddress)
		book.DELETE("/:id", h.DeleteAddress)
		book.POST("/:id/default", h.SetDefaultAddress)
	}

	admin := r.Group(d.Config.EndpointPrefix+"/admin", m.Authentication(), middleware.Authorize(auth.RoleAdmin))
	{
		admin.GET("/orders", h.AdminListOrders)
		admin.PATCH("/orders/:id", h.AdminUpdateOrder)
		admin.POST("/products", h.AdminCreateProduct)
		admin.PUT("/products/:id", h.AdminUpdateProduct)
		admin.POST("/categories", h.AdminCreateCategory)
		admin.PUT("/categories/:id", h.AdminUpdateCategory)
		admin.DELETE("/categories/:id", h.AdminDeleteCategory)
	}
	return r
}

func HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}
