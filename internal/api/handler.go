package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"storefront/config"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Authenticator resolves an Authorization header to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*models.User, error)
}

type AuthAPI interface {
	Authenticator
	Register(ctx context.Context, req *service.RegisterRequest) (*service.AuthResponse, error)
	Login(ctx context.Context, req *service.LoginRequest) (*service.AuthResponse, error)
}

type CatalogAPI interface {
	List(ctx context.Context, q service.ListProductsQuery) (*models.ProductPage, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Product, error)
	Create(ctx context.Context, in *service.ProductInput) (*models.Product, error)
	Update(ctx context.Context, id uuid.UUID, in *service.ProductUpdate) (*models.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type CartAPI interface {
	Get(ctx context.Context, user *models.User) (*models.Cart, error)
	Add(ctx context.Context, user *models.User, req *service.AddToCartRequest) (*models.Cart, error)
	UpdateItem(ctx context.Context, user *models.User, productID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, user *models.User, productID uuid.UUID) (*models.Cart, error)
	Clear(ctx context.Context, user *models.User) error
}

type OrderAPI interface {
	CreateOrder(ctx context.Context, user *models.User, req *service.CreateOrderRequest) (*models.Order, error)
	ListOrders(ctx context.Context, user *models.User) ([]models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID, user *models.User) (*models.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, user *models.User, result models.PaymentResult) (*models.Order, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, user *models.User) (*models.Order, error)
}

type PaymentAPI interface {
	CreatePaymentIntent(ctx context.Context, user *models.User, orderID uuid.UUID) (*service.CreateIntentResponse, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// RateLimiter counts hits in a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*redisclient.RateLimitResult, error)
}

// Pinger is a dependency checked by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Auth      AuthAPI
	Catalog   CatalogAPI
	Carts     CartAPI
	Orders    OrderAPI
	Payments  PaymentAPI
	Limiter   RateLimiter
	RateLimit config.RateLimitConfig
	Checks    map[string]Pinger

	// TrustedProxies feeds gin's client IP resolution. Nil trusts no
	// forwarding headers.
	TrustedProxies []string
}

// Handler contains HTTP handlers
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:   deps,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) error {
	if err := router.SetTrustedProxies(h.deps.TrustedProxies); err != nil {
		return fmt.Errorf("failed to set trusted proxies: %w", err)
	}
	router.HandleMethodNotAllowed = true
	router.NoRoute(func(c *gin.Context) {
		respondMessage(c, http.StatusNotFound, "Route not found")
	})
	router.NoMethod(func(c *gin.Context) {
		respondMessage(c, http.StatusMethodNotAllowed, "Method not allowed")
	})

	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(prometheusMiddleware())
	router.Use(h.requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/health", h.healthCheck)

	authed := h.authMiddleware()
	admin := adminMiddleware()
	limited := h.rateLimitMiddleware()

	auth := api.Group("/auth")
	{
		auth.POST("/register", limited, h.register)
		auth.POST("/login", limited, h.login)
		auth.GET("/me", authed, h.me)
	}

	products := api.Group("/products")
	{
		products.GET("", h.listProducts)
		products.GET("/:id", h.getProduct)
		products.POST("", authed, admin, h.createProduct)
		products.PUT("/:id", authed, admin, h.updateProduct)
		products.DELETE("/:id", authed, admin, h.deleteProduct)
	}

	cart := api.Group("/cart", authed)
	{
		cart.GET("", h.getCart)
		cart.POST("", h.addToCart)
		cart.DELETE("", h.clearCart)
		cart.PUT("/items/:productId", h.updateCartItem)
		cart.DELETE("/items/:productId", h.removeCartItem)
	}

	orders := api.Group("/orders", authed)
	{
		orders.GET("", h.listOrders)
		orders.POST("", h.createOrder)
		orders.GET("/:id", h.getOrder)
		orders.PUT("/:id/pay", h.payOrder)
		orders.PUT("/:id/deliver", h.deliverOrder)
	}

	payments := api.Group("/payments")
	{
		payments.POST("/create-intent", authed, h.createPaymentIntent)
		payments.POST("/webhook", h.paymentWebhook)
	}
	return nil
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"message": "Server is running",
		"time":    time.Now().Unix(),
	})
}

// readinessCheck pings every dependency.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, label := http.StatusOK, "ready"
	if !ready {
		status, label = http.StatusServiceUnavailable, "not ready"
	}
	c.JSON(status, gin.H{
		"status": label,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// pathID parses a uuid path parameter. Malformed ids cannot name an
// existing record, so they are reported as not found.
func pathID(c *gin.Context, param, notFound string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		respondMessage(c, http.StatusNotFound, notFound)
		return uuid.Nil, false
	}
	return id, true
}
