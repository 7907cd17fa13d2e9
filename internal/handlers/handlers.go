// Package handlers exposes the order workflows over HTTP with gin.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/auth"
	"github.com/imrishuroy/orderflow/internal/cart"
	"github.com/imrishuroy/orderflow/internal/idempotency"
	"github.com/imrishuroy/orderflow/internal/inventory"
	"github.com/imrishuroy/orderflow/internal/orders"
	"github.com/imrishuroy/orderflow/internal/returns"
	"github.com/imrishuroy/orderflow/internal/validation"
)

// HandlerConfig groups dependencies for the HTTP layer. Idempotency may be
// nil, in which case Idempotency-Key headers are ignored.
type HandlerConfig struct {
	Ledger      *inventory.Ledger
	Cart        *cart.Service
	Orders      *orders.Service
	Returns     *returns.Service
	Idempotency idempotency.Store
	Identity    auth.Provider
	Logger      logrus.FieldLogger
}

type handler struct {
	ledger  *inventory.Ledger
	cart    *cart.Service
	orders  *orders.Service
	returns *returns.Service
	idem    idempotency.Store
	v       *validatorv10.Validate
	log     logrus.FieldLogger
}

// SetupRouter builds the gin engine with every route registered.
func SetupRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(cfg.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterRoutes(r, cfg)
	return r
}

// RegisterRoutes registers the product, cart, order and return routes.
func RegisterRoutes(r gin.IRouter, cfg HandlerConfig) {
	provider := cfg.Identity
	if provider == nil {
		provider = noProvider{}
	}
	h := &handler{
		ledger:  cfg.Ledger,
		cart:    cfg.Cart,
		orders:  cfg.Orders,
		returns: cfg.Returns,
		idem:    cfg.Idempotency,
		v:       validation.New(),
		log:     cfg.Logger,
	}
	authed := authenticate(provider, cfg.Logger)

	r.GET("/products", h.listProducts)
	r.GET("/products/:id", h.getProduct)
	r.POST("/products", authed, h.createProduct)
	r.PUT("/products/:id", authed, h.updateProduct)
	r.DELETE("/products/:id", authed, h.deleteProduct)
	r.POST("/products/:id/stock", authed, h.adjustStock)

	r.GET("/cart", authed, h.getCart)
	r.POST("/cart", authed, h.addCartItem)
	r.DELETE("/cart/clear", authed, h.clearCart)
	r.PUT("/cart/:itemId", authed, h.updateCartItem)
	r.DELETE("/cart/:itemId", authed, h.removeCartItem)

	r.POST("/orders", authed, h.placeOrder)
	r.GET("/orders/my", authed, h.listMyOrders)
	r.GET("/orders", authed, h.listAllOrders)
	r.GET("/orders/:id", authed, h.getOrder)
	r.PUT("/orders/:id/status", authed, h.updateOrderStatus)
	r.DELETE("/orders/:id", authed, h.cancelOrder)

	r.POST("/returns", authed, h.requestReturn)
	r.GET("/returns/my", authed, h.listMyReturns)
	r.GET("/returns", authed, h.listAllReturns)
	r.PUT("/returns/:id", authed, h.updateReturn)
}
