package orders

import (
	"strings"
	"time"
)

// Status is the order lifecycle discriminant.
type Status string

// Order statuses
const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusRefunded  Status = "refunded"
)

// Defaults applied when the caller or the processor leaves a field out.
const (
	DefaultMail        = "aaa@bbb.com"
	DefaultPhone       = "0912345678"
	DefaultCurrency    = "TWD"
	UnknownProductName = "(unknown)"
)

// eventStatuses maps processor event types onto the local lifecycle.
var eventStatuses = map[string]Status{
	"order.created":   StatusCreated,
	"order.pending":   StatusPending,
	"order.succeeded": StatusSucceeded,
	"order.failed":    StatusFailed,
	"order.canceled":  StatusCanceled,
	"order.cancelled": StatusCanceled,
	"order.refunded":  StatusRefunded,

	// stripe
	"checkout.session.completed":               StatusSucceeded,
	"checkout.session.async_payment_succeeded": StatusSucceeded,
	"checkout.session.async_payment_failed":    StatusFailed,
	"checkout.session.expired":                 StatusFailed,
	"payment_intent.succeeded":                 StatusSucceeded,
	"payment_intent.processing":                StatusPending,
	"payment_intent.payment_failed":            StatusFailed,
	"payment_intent.canceled":                  StatusCanceled,
	"charge.refunded":                          StatusRefunded,
}

// ParseEventStatus resolves a processor event type (or a bare status name) to a Status.
func ParseEventStatus(s string) (Status, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if st, ok := eventStatuses[s]; ok {
		return st, true
	}
	switch st := Status(s); st {
	case StatusCreated, StatusPending, StatusSucceeded, StatusFailed, StatusCanceled, StatusRefunded:
		return st, true
	}
	return "", false
}

// Order is one purchase attempt as stored in the orders table.
type Order struct {
	ID               string     `db:"id" json:"id"`
	Amount           float64    `db:"amount" json:"amount"`
	Currency         string     `db:"currency" json:"currency"`
	ProductName      string     `db:"product_name" json:"productName"`
	Status           Status     `db:"status" json:"status"`
	Mail             *string    `db:"mail" json:"mail"`
	Phone            *string    `db:"phone" json:"phone"`
	CancelReason     *string    `db:"cancel_reason" json:"cancelReason,omitempty"`
	CanceledAt       *time.Time `db:"canceled_at" json:"canceledAt,omitempty"`
	RefundReason     *string    `db:"refund_reason" json:"refundReason,omitempty"`
	RefundDetail     *string    `db:"refund_detail" json:"refundDetail,omitempty"`
	RefundID         *string    `db:"refund_id" json:"refundId,omitempty"`
	RefundPayload    *string    `db:"refund_payload_json" json:"-"`
	RefundedAt       *time.Time `db:"refunded_at" json:"refundedAt,omitempty"`
	SessionID        *string    `db:"session_id" json:"sessionId"`
	ProcessorOrderID *string    `db:"processor_order_id" json:"processorOrderId"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// NewOrder is the input of Store.Create. Empty Mail/Phone fall back to the defaults.
type NewOrder struct {
	Amount      float64
	Currency    string
	ProductName string
	Mail        string
	Phone       string
}

// Shadow is an order synthesized from a webhook event with no local counterpart.
type Shadow struct {
	ProcessorOrderID string
	Status           Status
	Amount           float64
	Currency         string
	ProductName      string
}

// EventUpdate is the field set a matched webhook applies. Nil pointers leave the
// stored value untouched.
type EventUpdate struct {
	Status   Status
	Amount   *float64
	Currency *string
}

// Refund holds the audit fields written by MarkRefunded.
type Refund struct {
	CancelReason string
	Reason       string
	Detail       *string
	RefundID     *string
	Payload      string
}

// ListFilter bounds List. Limit is clamped to [1, 200]; zero means 50.
type ListFilter struct {
	Limit int
	Mail  string
}
