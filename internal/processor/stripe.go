package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/webhook"
)

// stripeReasons maps local refund reasons onto the reasons Stripe accepts.
var stripeReasons = map[string]stripe.RefundReason{
	ReasonCustomerCancellation: stripe.RefundReasonRequestedByCustomer,
	ReasonDuplicatePayment:     stripe.RefundReasonDuplicate,
	ReasonOther:                stripe.RefundReasonRequestedByCustomer,
}

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// Stripe creates hosted Checkout sessions and refunds through the Stripe API.
// Its processor order id is the payment intent id.
type Stripe struct {
	webhookSecret string
}

// NewStripe sets the global Stripe key and returns the adapter.
func NewStripe(cfg StripeConfig) *Stripe {
	stripe.Key = cfg.SecretKey
	return &Stripe{webhookSecret: cfg.WebhookSecret}
}

func (s *Stripe) Name() string { return "stripe" }

// CreateSession creates a payment-mode Checkout session for one item.
func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.ProductName),
	}
	if req.ProductImage != "" {
		product.Images = []*string{stripe.String(req.ProductImage)}
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(req.Currency)),
				UnitAmount:  stripe.Int64(toMinorUnits(req.Amount, req.Currency)),
				ProductData: product,
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if req.Mail != "" {
		params.CustomerEmail = stripe.String(req.Mail)
	}
	if req.Locale != "" {
		params.Locale = stripe.String(strings.Replace(req.Locale, "_", "-", 1))
	}
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("product_name", req.ProductName)
	// payment_intent events can arrive before checkout.session.completed, so the
	// intent carries the same linkage
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{
			"order_id":     req.OrderID,
			"product_name": req.ProductName,
		},
	}
	params.Context = ctx

	cs, err := session.New(params)
	if err != nil {
		return nil, stripeFailure("create checkout session", err)
	}
	if cs.URL == "" {
		return nil, &RemoteError{Status: http.StatusBadGateway, Message: "checkout session has no url"}
	}
	return &Session{ID: cs.ID, CheckoutURL: cs.URL}, nil
}

// CreateRefund refunds the full payment intent.
func (s *Stripe) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	reason, known := stripeReasons[req.Reason]
	if !known {
		reason = stripe.RefundReasonRequestedByCustomer
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProcessorOrderID),
		Reason:        stripe.String(string(reason)),
	}
	params.AddMetadata("reason", req.Reason)
	if req.Reason == ReasonOther && req.Detail != "" {
		params.AddMetadata("detail", req.Detail)
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		return nil, stripeFailure("create refund", err)
	}
	out := &Refund{ID: r.ID}
	if r.LastResponse != nil {
		out.Body = r.LastResponse.RawJSON
	}
	return out, nil
}

// VerifyWebhook checks the Stripe-Signature header against the endpoint secret.
// With no secret configured every payload is accepted.
func (s *Stripe) VerifyWebhook(payload []byte, signature string) error {
	if s.webhookSecret == "" {
		return nil
	}
	_, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("stripe signature: %w", err)
	}
	return nil
}

func stripeFailure(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return transportError(op, err)
	}
	re := &RemoteError{Status: se.HTTPStatusCode, Message: se.Msg}
	if re.Status == 0 {
		re.Status = http.StatusBadGateway
	}
	if re.Message == "" {
		re.Message = op + " failed"
	}
	if se.LastResponse != nil {
		re.Body = se.LastResponse.RawJSON
	}
	return re
}

func toMinorUnits(amount float64, currency string) int64 {
	return int64(math.Round(amount * MinorUnitFactor(currency)))
}
