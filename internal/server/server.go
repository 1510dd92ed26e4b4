package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chatpongdeepet/iot-shop/internal/service"
)

// HealthChecker reports dependency health as flat string stats.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

// ProviderControls drives the in-process mock provider. It is only mounted
// outside production.
type ProviderControls interface {
	Complete(externalRef string) error
	Cancel(externalRef string) error
}

type Config struct {
	Carts    service.CartService
	Checkout service.CheckoutService
	Verifier service.PaymentVerifier
	Orders   service.OrderService
	Health   HealthChecker
	Gatherer prometheus.Gatherer
	// MockProvider is nil in production.
	MockProvider ProviderControls
	FrontendURL  string
	Logger       *zap.Logger
}

type Server struct {
	carts    service.CartService
	checkout service.CheckoutService
	verifier service.PaymentVerifier
	orders   service.OrderService
	health   HealthChecker
	mock     ProviderControls
	logger   *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		carts:    cfg.Carts,
		checkout: cfg.Checkout,
		verifier: cfg.Verifier,
		orders:   cfg.Orders,
		health:   cfg.Health,
		mock:     cfg.MockProvider,
		logger:   logger.Named("http"),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(cfg.FrontendURL),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", headerUserID, "If-Match", headerRequestID},
		ExposeHeaders:    []string{"ETag", headerRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(s.traceRequest(), s.requestLogger())

	r.GET("/health", s.healthHandler)
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	// provider callbacks carry no user identity
	api.POST("/payments/webhook", s.webhookHandler)
	if s.mock != nil {
		api.POST("/mock-provider/sessions/:ref/:action", s.mockProviderHandler)
	}

	authed := api.Group("", requireUser())
	authed.GET("/cart", s.getCartHandler)
	authed.POST("/cart/items", s.addItemHandler)
	authed.PUT("/cart/items/:id", s.updateItemHandler)
	authed.DELETE("/cart/items/:id", s.removeItemHandler)
	authed.POST("/checkout-session", s.createSessionHandler)
	authed.GET("/verify-session", s.verifySessionHandler)
	authed.GET("/orders", s.listOrdersHandler)
	authed.GET("/orders/:id", s.getOrderHandler)

	return r
}

func allowedOrigins(frontendURL string) []string {
	if frontendURL == "" {
		return []string{"http://localhost:5173"}
	}
	return []string{frontendURL}
}

func (s *Server) healthHandler(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
		return
	}
	stats := s.health.Health(c.Request.Context())
	code := http.StatusOK
	if stats["status"] != "up" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, stats)
}
