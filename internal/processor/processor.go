package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Refund reasons accepted by every processor.
const (
	ReasonCustomerCancellation = "customer_cancellation"
	ReasonDuplicatePayment     = "duplicate_payment"
	ReasonOther                = "other"
)

// ValidReason reports whether r is one of the accepted refund reasons.
func ValidReason(r string) bool {
	switch r {
	case ReasonCustomerCancellation, ReasonDuplicatePayment, ReasonOther:
		return true
	}
	return false
}

// Processor is a remote payment processor.
type Processor interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// SessionRequest describes a single-item checkout.
type SessionRequest struct {
	OrderID      string
	Amount       float64
	Currency     string
	ProductName  string
	ProductImage string
	Mail         string
	Phone        string
	Locale       string
	SuccessURL   string
	CancelURL    string
	PendingURL   string
}

// Session is a created remote checkout session.
type Session struct {
	ID          string
	CheckoutURL string
}

// RefundRequest asks the processor to refund a confirmed order.
type RefundRequest struct {
	ProcessorOrderID string
	Reason           string
	Detail           string
}

// Refund is the processor's acknowledgement of a refund. Body is the raw
// response kept for audit.
type Refund struct {
	ID   string
	Body []byte
}

// Decoded returns the refund body as JSON, or nil when it is not JSON.
func (r *Refund) Decoded() any {
	return decodeBody(r.Body)
}

// RemoteError is a non-success answer, or no answer, from the processor.
type RemoteError struct {
	Status  int
	Body    []byte
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("processor returned %d: %s", e.Status, e.Message)
}

// Response is the processor body for diagnostics: decoded JSON when possible,
// the raw text otherwise.
func (e *RemoteError) Response() any {
	if v := decodeBody(e.Body); v != nil {
		return v
	}
	return string(e.Body)
}

// transportError wraps a failure to reach the processor, including timeouts.
func transportError(op string, err error) *RemoteError {
	return &RemoteError{
		Status:  http.StatusBadGateway,
		Message: fmt.Sprintf("%s: %v", op, err),
	}
}

func decodeBody(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	return v
}
