package webhooks

import "time"

// UnknownType is the event type recorded when the payload names none.
const UnknownType = "unknown"

// Event is one row of the append-only webhook ledger.
type Event struct {
	ID          int64     `db:"id" json:"id"`
	EventType   string    `db:"event_type" json:"eventType"`
	OrderID     *string   `db:"order_id" json:"orderId"`
	Amount      *float64  `db:"amount" json:"amount"`
	Currency    *string   `db:"currency" json:"currency"`
	PayloadJSON string    `db:"payload_json" json:"-"`
	Payload     any       `db:"-" json:"payload"`
	ReceivedAt  time.Time `db:"received_at" json:"receivedAt"`
}

// ListFilter bounds Ledger.List. OrderID filters on the extracted processor order id.
type ListFilter struct {
	Limit   int
	OrderID string
}

// Fields is the best-effort classification of a raw processor event.
// Missing values stay empty or nil.
type Fields struct {
	Type             string
	ProcessorOrderID string
	SessionID        string
	Amount           *float64
	Currency         *string
	ProductName      *string

	// LocalOrderID is our own order id when the processor echoes it back
	// (Stripe metadata.order_id or client_reference_id).
	LocalOrderID string

	// Status is the raw status hint: the event type, else the order's own status.
	Status string
}
