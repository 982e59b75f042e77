package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-reconcile/internal/checkout"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
)

// RegisterOrdersRoutes registers checkout creation and the order endpoints.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST("/create-checkout-session", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CheckoutRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validate); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		res, err := cfg.Checkout.CreateCheckout(ctx, checkout.CheckoutRequest{
			Amount:         float64(req.Amount),
			Currency:       strings.TrimSpace(req.Currency),
			ProductName:    req.ProductName,
			ProductImage:   req.ProductImage,
			Mail:           req.Mail,
			Phone:          req.Phone,
			Locale:         req.Locale,
			IdempotencyKey: c.GetHeader("Idempotency-Key"),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.GET("/orders", cfg.Auth.Required(), func(c *gin.Context) {
		list, err := cfg.Orders.List(c.Request.Context(), orders.ListFilter{
			Limit: queryLimit(c),
			Mail:  c.Query("mail"),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	r.GET("/orders/by-session/:sessionId", func(c *gin.Context) {
		o, err := cfg.Orders.GetBySession(c.Request.Context(), c.Param("sessionId"))
		writeOrder(c, o, err)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		o, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"))
		writeOrder(c, o, err)
	})

	r.POST("/orders/:id/cancel", func(c *gin.Context) {
		var req validation.CancelRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validate); err != nil {
			return
		}
		res, err := cfg.Checkout.Refund(c.Request.Context(), checkout.RefundRequest{
			OrderID: c.Param("id"),
			Mail:    req.Mail,
			Reason:  req.Reason,
			Detail:  req.Detail,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

func writeOrder(c *gin.Context, o *orders.Order, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	if o == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}
