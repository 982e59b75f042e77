package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
	"github.com/imrishuroy/go-checkout-reconcile/internal/webhooks"
)

const maxWebhookBytes = 1 << 20

// RegisterWebhookRoutes registers the processor webhook receiver and the ledger listing.
func RegisterWebhookRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST("/webhook", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)

		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
			return
		}

		if cfg.Verifier != nil {
			if err := cfg.Verifier.VerifyWebhook(raw, c.GetHeader("Stripe-Signature")); err != nil {
				log.Printf("[webhook] rejected: %v", err)
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
				return
			}
		}

		ev, fields, err := cfg.Ledger.Record(ctx, raw)
		if err != nil {
			// not ledgered; a 5xx makes the processor deliver again
			writeError(c, err)
			return
		}
		log.Printf("[webhook] event=%d type=%s processor_order=%s", ev.ID, ev.EventType, fields.ProcessorOrderID)

		out, err := cfg.Engine.Reconcile(ctx, fields)
		switch {
		case err == nil:
			log.Printf("[webhook] event=%d reconciled kind=%s order=%s %s", ev.ID, out.Kind, out.OrderID, out.Reason)
		case errors.Is(err, apperr.ErrStorage) && cfg.Replays != nil:
			log.Printf("[webhook] event=%d reconcile failed, queueing replay: %v", ev.ID, err)
			msg := aws.ReplayMessage{EventID: ev.ID, Reason: err.Error(), CorrelationID: c.GetHeader("X-Request-Id")}
			if pErr := cfg.Replays.PublishReplay(ctx, msg); pErr != nil {
				log.Printf("[webhook] event=%d replay enqueue failed: %v", ev.ID, pErr)
			}
		default:
			log.Printf("[webhook] event=%d reconcile failed: %v", ev.ID, err)
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	})

	r.GET("/webhook-events", cfg.Auth.Required(), func(c *gin.Context) {
		events, err := cfg.Ledger.List(c.Request.Context(), webhooks.ListFilter{
			Limit:   queryLimit(c),
			OrderID: c.Query("orderId"),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})
}
