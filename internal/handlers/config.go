package handlers

import (
	"context"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
	"github.com/imrishuroy/go-checkout-reconcile/internal/checkout"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/reconcile"
	"github.com/imrishuroy/go-checkout-reconcile/internal/users"
	"github.com/imrishuroy/go-checkout-reconcile/internal/webhooks"
)

// OrderReader is the read side of the order repository.
type OrderReader interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	GetBySession(ctx context.Context, sessionID string) (*orders.Order, error)
	List(ctx context.Context, f orders.ListFilter) ([]orders.Order, error)
}

// EventLedger records and lists inbound webhook events.
type EventLedger interface {
	Record(ctx context.Context, raw []byte) (*webhooks.Event, webhooks.Fields, error)
	List(ctx context.Context, f webhooks.ListFilter) ([]webhooks.Event, error)
}

// Reconciler merges one event into the orders.
type Reconciler interface {
	Reconcile(ctx context.Context, f webhooks.Fields) (reconcile.Outcome, error)
}

// CheckoutService runs checkout creation and refunds.
type CheckoutService interface {
	CreateCheckout(ctx context.Context, req checkout.CheckoutRequest) (*checkout.CheckoutResult, error)
	Refund(ctx context.Context, req checkout.RefundRequest) (*checkout.RefundResult, error)
}

// UserStore manages operator accounts.
type UserStore interface {
	Create(ctx context.Context, email, password string) (*users.User, error)
	Authenticate(ctx context.Context, email, password string) (bool, error)
	List(ctx context.Context, limit int) ([]users.User, error)
}

// WebhookVerifier authenticates a webhook body against its signature header.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) error
}

// ReplayPublisher queues a ledgered event for another reconciliation attempt.
type ReplayPublisher interface {
	PublishReplay(ctx context.Context, msg aws.ReplayMessage) error
}

// HandlerConfig groups dependencies for the API routes. Throttle, Verifier and
// Replays are optional.
type HandlerConfig struct {
	Orders   OrderReader
	Ledger   EventLedger
	Engine   Reconciler
	Checkout CheckoutService
	Users    UserStore
	Auth     *Auth
	Throttle LoginThrottle
	Verifier WebhookVerifier
	Replays  ReplayPublisher
	Validate *validatorv10.Validate
}
