package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/idempotency"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/processor"
)

// ErrInProgress is returned when another request holds the same Idempotency-Key.
var ErrInProgress = fmt.Errorf("checkout with this idempotency key is in progress: %w", apperr.ErrConflict)

// OrderStore is the slice of the order repository the orchestrator needs.
type OrderStore interface {
	Create(ctx context.Context, in orders.NewOrder) (string, error)
	AttachSession(ctx context.Context, orderID, sessionID string) error
	Get(ctx context.Context, id string) (*orders.Order, error)
	MarkRefunded(ctx context.Context, id string, r orders.Refund) (*orders.Order, error)
}

// Config holds the orchestrator settings.
type Config struct {
	FrontendBaseURL string
	DefaultCurrency string
}

// Service runs the two-step checkout and refund flows: a local write and a
// processor call, with no rollback between them.
type Service struct {
	orders          OrderStore
	proc            processor.Processor
	idem            idempotency.Store
	frontend        string
	defaultCurrency string
}

// NewService wires the orchestrator. idem may be nil, which disables
// Idempotency-Key handling.
func NewService(o OrderStore, p processor.Processor, idem idempotency.Store, cfg Config) *Service {
	cur := cfg.DefaultCurrency
	if cur == "" {
		cur = orders.DefaultCurrency
	}
	return &Service{
		orders:          o,
		proc:            p,
		idem:            idem,
		frontend:        strings.TrimRight(cfg.FrontendBaseURL, "/"),
		defaultCurrency: cur,
	}
}

// CheckoutRequest is a validated checkout as the orchestrator sees it.
type CheckoutRequest struct {
	Amount         float64
	Currency       string
	ProductName    string
	ProductImage   string
	Mail           string
	Phone          string
	Locale         string
	IdempotencyKey string
}

// CheckoutResult is returned to the buyer's browser.
type CheckoutResult struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId,omitempty"`
	OrderID     string `json:"orderId"`
}

// CreateCheckout records a created order, then opens a hosted session for it.
// When the processor fails the order stays created and the *processor.RemoteError
// is returned unchanged.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return nil, apperr.Validation("amount", "must be a number greater than 0")
	}
	if strings.TrimSpace(req.ProductName) == "" {
		return nil, apperr.Validation("productName", "is required")
	}
	if req.Currency == "" {
		req.Currency = s.defaultCurrency
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" || s.idem == nil {
		return s.createCheckout(ctx, req)
	}

	claimed, err := s.idem.CreateIfNotExists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if !claimed {
		return s.previousResult(ctx, key)
	}

	res, err := s.createCheckout(ctx, req)
	if err != nil {
		if mErr := s.idem.MarkFailed(ctx, key, err.Error()); mErr != nil {
			log.Printf("[checkout] mark idempotency key %s failed: %v", key, mErr)
		}
		return nil, err
	}
	body, _ := json.Marshal(res)
	if err := s.idem.MarkDone(ctx, key, res.OrderID, string(body), http.StatusOK); err != nil {
		log.Printf("[checkout] mark idempotency key %s done: %v", key, err)
	}
	return res, nil
}

func (s *Service) previousResult(ctx context.Context, key string) (*CheckoutResult, error) {
	rec, err := s.idem.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}
	if rec == nil || rec.Status != idempotency.StatusDone {
		return nil, ErrInProgress
	}
	var res CheckoutResult
	if err := json.Unmarshal([]byte(rec.ResponseBody), &res); err != nil {
		return nil, fmt.Errorf("decode stored checkout result: %w", err)
	}
	log.Printf("[checkout] replaying stored result for key=%s order=%s", key, res.OrderID)
	return &res, nil
}

func (s *Service) createCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	orderID, err := s.orders.Create(ctx, orders.NewOrder{
		Amount:      req.Amount,
		Currency:    req.Currency,
		ProductName: req.ProductName,
		Mail:        req.Mail,
		Phone:       req.Phone,
	})
	if err != nil {
		return nil, err
	}

	mail, phone := req.Mail, req.Phone
	if mail == "" {
		mail = orders.DefaultMail
	}
	if phone == "" {
		phone = orders.DefaultPhone
	}

	sess, err := s.proc.CreateSession(ctx, processor.SessionRequest{
		OrderID:      orderID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		ProductName:  req.ProductName,
		ProductImage: req.ProductImage,
		Mail:         mail,
		Phone:        phone,
		Locale:       req.Locale,
		SuccessURL: s.frontendURL("/success", url.Values{
			"amount":   {strconv.FormatFloat(req.Amount, 'f', -1, 64)},
			"currency": {req.Currency},
			"orderId":  {orderID},
		}),
		CancelURL:  s.frontendURL("/cancel", nil),
		PendingURL: s.frontendURL("/pending", nil),
	})
	if err != nil {
		log.Printf("[checkout] %s session for order=%s failed: %v", s.proc.Name(), orderID, err)
		return nil, err
	}

	if sess.ID != "" {
		if err := s.orders.AttachSession(ctx, orderID, sess.ID); err != nil {
			log.Printf("[checkout] attach session=%s to order=%s: %v", sess.ID, orderID, err)
		}
	}
	log.Printf("[checkout] created order=%s session=%s", orderID, sess.ID)
	return &CheckoutResult{CheckoutURL: sess.CheckoutURL, SessionID: sess.ID, OrderID: orderID}, nil
}

func (s *Service) frontendURL(path string, q url.Values) string {
	u := s.frontend + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// RefundRequest is a buyer's cancellation of a paid order.
type RefundRequest struct {
	OrderID string
	Mail    string
	Reason  string
	Detail  string
}

// RefundResult carries the refunded order and the processor's decoded answer.
type RefundResult struct {
	Order  *orders.Order `json:"order"`
	Refund any           `json:"refund"`
}

// Refund checks the preconditions in a fixed order, asks the processor for a
// refund and, once accepted, marks the order refunded. A processor failure
// leaves the order untouched.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	o, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("order %s: %w", req.OrderID, apperr.ErrNotFound)
	}
	if o.Status != orders.StatusSucceeded {
		return nil, apperr.Validation("status", "only paid orders can be canceled")
	}
	if o.ProcessorOrderID == nil || *o.ProcessorOrderID == "" {
		return nil, apperr.Validation("processorOrderId", "order has no processor order id to refund")
	}
	if req.Mail == "" {
		return nil, apperr.Validation("mail", "is required")
	}
	if o.Mail == nil || *o.Mail != req.Mail {
		return nil, fmt.Errorf("order %s: %w", o.ID, apperr.ErrForbidden)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, apperr.Validation("reason", "is required")
	}
	if !processor.ValidReason(reason) {
		return nil, apperr.Validation("reason", "invalid reason")
	}
	detail := strings.TrimSpace(req.Detail)
	if reason == processor.ReasonOther && detail == "" {
		return nil, apperr.Validation("detail", "is required when reason is other")
	}

	rf, err := s.proc.CreateRefund(ctx, processor.RefundRequest{
		ProcessorOrderID: *o.ProcessorOrderID,
		Reason:           reason,
		Detail:           detail,
	})
	if err != nil {
		log.Printf("[checkout] refund for order=%s rejected: %v", o.ID, err)
		return nil, err
	}

	audit := orders.Refund{
		CancelReason: reason,
		Reason:       reason,
		Payload:      string(rf.Body),
	}
	if reason == processor.ReasonOther {
		audit.CancelReason = detail
		audit.Detail = &detail
	}
	if rf.ID != "" {
		audit.RefundID = &rf.ID
	}
	updated, err := s.orders.MarkRefunded(ctx, o.ID, audit)
	if err != nil {
		// the processor has already accepted the refund
		log.Printf("[checkout] refund %s accepted for order=%s but local update failed: %v", rf.ID, o.ID, err)
		return nil, fmt.Errorf("record refund for order %s: %w", o.ID, err)
	}
	log.Printf("[checkout] refunded order=%s reason=%s", o.ID, reason)
	return &RefundResult{Order: updated, Refund: rf.Decoded()}, nil
}
