package webhooks

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/store"
)

// Ledger is the append-only record of every inbound processor event.
type Ledger struct {
	db      *sqlx.DB
	nowFunc func() time.Time
}

// NewLedger creates a Ledger over the webhook_events table.
func NewLedger(db *sqlx.DB) *Ledger {
	return &Ledger{
		db:      db,
		nowFunc: store.Now,
	}
}

var insertEventQuery = `INSERT INTO webhook_events (event_type, order_id, amount, currency, payload_json, received_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// Record appends raw verbatim and returns the stored row along with the fields
// extracted from it. Only storage failures are reported; an undecodable body is
// still recorded, with type "unknown".
func (l *Ledger) Record(ctx context.Context, raw []byte) (*Event, Fields, error) {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		body = []byte("null")
	}
	decoded := Decode(body)
	f := Extract(decoded)

	ev := &Event{
		EventType:   f.Type,
		Amount:      f.Amount,
		Currency:    f.Currency,
		PayloadJSON: string(body),
		Payload:     decoded,
		ReceivedAt:  l.nowFunc(),
	}
	if f.ProcessorOrderID != "" {
		id := f.ProcessorOrderID
		ev.OrderID = &id
	}

	res, err := l.db.ExecContext(ctx, insertEventQuery, ev.EventType, ev.OrderID, ev.Amount, ev.Currency, ev.PayloadJSON, ev.ReceivedAt)
	if err != nil {
		return nil, f, apperr.Storage("insert webhook event", err)
	}
	ev.ID, err = res.LastInsertId()
	if err != nil {
		return nil, f, apperr.Storage("webhook event id", err)
	}
	return ev, f, nil
}

const eventColumns = `id, event_type, order_id, amount, currency, payload_json, received_at`

var (
	listEventsQuery        = `SELECT ` + eventColumns + ` FROM webhook_events ORDER BY id DESC LIMIT ?`
	listEventsByOrderQuery = `SELECT ` + eventColumns + ` FROM webhook_events WHERE order_id = ? ORDER BY id DESC LIMIT ?`
	getEventQuery          = `SELECT ` + eventColumns + ` FROM webhook_events WHERE id = ? LIMIT 1`
)

// List returns the newest events first, optionally only those linked to a
// processor order id. Payloads that fail to decode are returned as nil.
func (l *Ledger) List(ctx context.Context, f ListFilter) ([]Event, error) {
	limit := store.ClampLimit(f.Limit)
	res := []Event{}
	var err error
	if f.OrderID != "" {
		err = l.db.SelectContext(ctx, &res, listEventsByOrderQuery, f.OrderID, limit)
	} else {
		err = l.db.SelectContext(ctx, &res, listEventsQuery, limit)
	}
	if err != nil {
		return nil, apperr.Storage("list webhook events", err)
	}
	for i := range res {
		res[i].Payload = decodePayload(res[i].PayloadJSON)
	}
	return res, nil
}

// Get fetches one ledgered event. Returns (nil, nil) if not found.
func (l *Ledger) Get(ctx context.Context, id int64) (*Event, error) {
	var ev Event
	if err := l.db.GetContext(ctx, &ev, getEventQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Storage("get webhook event", err)
	}
	ev.Payload = decodePayload(ev.PayloadJSON)
	return &ev, nil
}

func decodePayload(s string) any {
	return Decode([]byte(s))
}
