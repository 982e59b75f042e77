package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/webhooks"
)

// OrderStore is the slice of the order repository the engine drives.
type OrderStore interface {
	ApplyEventByProcessorOrderID(ctx context.Context, processorOrderID string, u orders.EventUpdate) (string, error)
	ListUnlinkedCandidates(ctx context.Context, amount float64, currency, productName string) ([]orders.Order, error)
	AdoptProcessorOrderID(ctx context.Context, id, processorOrderID string, status orders.Status) (bool, error)
	AttachProcessorOrderIDBySession(ctx context.Context, sessionID, processorOrderID string) (bool, error)
	InsertShadow(ctx context.Context, sh orders.Shadow) (string, error)
}

// EventSource reads back ledgered events for replay.
type EventSource interface {
	Get(ctx context.Context, id int64) (*webhooks.Event, error)
}

// Metrics receives one count per reconciliation outcome.
type Metrics interface {
	IncCounter(ctx context.Context, name string)
}

type nopMetrics struct{}

func (nopMetrics) IncCounter(context.Context, string) {}

// OutcomeKind says which path of the engine handled an event.
type OutcomeKind string

const (
	OutcomeExact     OutcomeKind = "exact"
	OutcomeSession   OutcomeKind = "session"
	OutcomeReference OutcomeKind = "reference"
	OutcomeFuzzy     OutcomeKind = "fuzzy"
	OutcomeShadow    OutcomeKind = "shadow"
	OutcomeSkipped   OutcomeKind = "skipped"
)

// Outcome reports what reconciliation did with one event.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	OrderID string      `json:"orderId,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// Upsert is a processor-side order update ready to be merged into local orders.
type Upsert struct {
	ProcessorOrderID string
	Status           orders.Status
	Amount           *float64
	Currency         *string
	ProductName      *string

	// LocalOrderID, when the processor echoed it, is adopted before any fuzzy match.
	LocalOrderID string
}

// Engine merges processor events into local orders.
type Engine struct {
	orders          OrderStore
	events          EventSource
	metrics         Metrics
	defaultCurrency string
}

// NewEngine wires an Engine. A nil Metrics discards counts; an empty
// defaultCurrency falls back to orders.DefaultCurrency.
func NewEngine(o OrderStore, events EventSource, defaultCurrency string, m Metrics) *Engine {
	if m == nil {
		m = nopMetrics{}
	}
	if defaultCurrency == "" {
		defaultCurrency = orders.DefaultCurrency
	}
	return &Engine{
		orders:          o,
		events:          events,
		metrics:         m,
		defaultCurrency: defaultCurrency,
	}
}

// UpsertFromEvent applies u to the order linked to its processor order id. With no
// such order it adopts the order named by u.LocalOrderID, then the newest unlinked
// order with the same amount, currency and product name, and failing that creates
// a shadow order.
func (e *Engine) UpsertFromEvent(ctx context.Context, u Upsert) (Outcome, error) {
	if u.ProcessorOrderID == "" {
		return Outcome{}, apperr.Validation("processorOrderId", "processor order id is required")
	}
	out, err := e.upsert(ctx, u)
	if err != nil {
		return Outcome{}, err
	}
	e.metrics.IncCounter(ctx, "Reconcile."+string(out.Kind))
	return out, nil
}

func (e *Engine) upsert(ctx context.Context, u Upsert) (Outcome, error) {
	update := orders.EventUpdate{Status: u.Status, Amount: u.Amount, Currency: u.Currency}

	id, err := e.orders.ApplyEventByProcessorOrderID(ctx, u.ProcessorOrderID, update)
	if err != nil {
		return Outcome{}, err
	}
	if id != "" {
		return Outcome{Kind: OutcomeExact, OrderID: id}, nil
	}

	if u.LocalOrderID != "" {
		adopted, err := e.orders.AdoptProcessorOrderID(ctx, u.LocalOrderID, u.ProcessorOrderID, u.Status)
		switch {
		case errors.Is(err, apperr.ErrConflict):
			return e.exactAfterRace(ctx, u.ProcessorOrderID, update)
		case err != nil:
			return Outcome{}, err
		case adopted:
			log.Printf("[reconcile] linked order %s to processor order %s by reference", u.LocalOrderID, u.ProcessorOrderID)
			return Outcome{Kind: OutcomeReference, OrderID: u.LocalOrderID}, nil
		}
		// unknown id or already linked elsewhere
	}

	if u.Amount != nil && u.Currency != nil && u.ProductName != nil {
		m := Match{Amount: *u.Amount, Currency: *u.Currency, ProductName: *u.ProductName}
		candidates, err := e.orders.ListUnlinkedCandidates(ctx, m.Amount, m.Currency, m.ProductName)
		if err != nil {
			return Outcome{}, err
		}
		if c, ok := SelectCandidate(candidates, m); ok {
			adopted, err := e.orders.AdoptProcessorOrderID(ctx, c.ID, u.ProcessorOrderID, u.Status)
			switch {
			case errors.Is(err, apperr.ErrConflict):
				return e.exactAfterRace(ctx, u.ProcessorOrderID, update)
			case err != nil:
				return Outcome{}, err
			case adopted:
				log.Printf("[reconcile] adopted order %s for processor order %s", c.ID, u.ProcessorOrderID)
				return Outcome{Kind: OutcomeFuzzy, OrderID: c.ID}, nil
			}
			// candidate was linked concurrently; fall through to a shadow order
		}
	}

	sh := orders.Shadow{
		ProcessorOrderID: u.ProcessorOrderID,
		Status:           u.Status,
		Currency:         e.defaultCurrency,
		ProductName:      orders.UnknownProductName,
	}
	if u.Amount != nil {
		sh.Amount = *u.Amount
	}
	if u.Currency != nil {
		sh.Currency = *u.Currency
	}
	if u.ProductName != nil {
		sh.ProductName = *u.ProductName
	}
	id, err = e.orders.InsertShadow(ctx, sh)
	if errors.Is(err, apperr.ErrConflict) {
		return e.exactAfterRace(ctx, u.ProcessorOrderID, update)
	}
	if err != nil {
		return Outcome{}, err
	}
	log.Printf("[reconcile] created shadow order %s for processor order %s", id, u.ProcessorOrderID)
	return Outcome{Kind: OutcomeShadow, OrderID: id}, nil
}

// exactAfterRace re-runs the exact match once another delivery has linked the
// processor order id first.
func (e *Engine) exactAfterRace(ctx context.Context, processorOrderID string, update orders.EventUpdate) (Outcome, error) {
	id, err := e.orders.ApplyEventByProcessorOrderID(ctx, processorOrderID, update)
	if err != nil {
		return Outcome{}, err
	}
	if id == "" {
		return Outcome{}, fmt.Errorf("processor order %s: linked concurrently but not found: %w", processorOrderID, apperr.ErrConflict)
	}
	return Outcome{Kind: OutcomeExact, OrderID: id}, nil
}

// AttachBySession links processorOrderID to the order created for sessionID.
// It reports false when no order holds the session or the order is already
// linked to a different processor order.
func (e *Engine) AttachBySession(ctx context.Context, sessionID, processorOrderID string) (bool, error) {
	if sessionID == "" || processorOrderID == "" {
		return false, nil
	}
	return e.orders.AttachProcessorOrderIDBySession(ctx, sessionID, processorOrderID)
}

// Reconcile merges the extracted fields of one webhook event. Events without a
// processor order id or with an unrecognized status are skipped; they remain in
// the ledger only. A session id echoed by the processor is linked first.
func (e *Engine) Reconcile(ctx context.Context, f webhooks.Fields) (Outcome, error) {
	if f.ProcessorOrderID == "" {
		return e.skip(ctx, "no processor order id"), nil
	}
	status, ok := orders.ParseEventStatus(f.Status)
	if !ok {
		return e.skip(ctx, fmt.Sprintf("unrecognized status %q", f.Status)), nil
	}

	linked := false
	if f.SessionID != "" {
		var err error
		linked, err = e.AttachBySession(ctx, f.SessionID, f.ProcessorOrderID)
		if err != nil && !errors.Is(err, apperr.ErrConflict) {
			return Outcome{}, err
		}
		if err != nil {
			log.Printf("[reconcile] session %s: %v", f.SessionID, err)
		}
	}

	out, err := e.UpsertFromEvent(ctx, Upsert{
		ProcessorOrderID: f.ProcessorOrderID,
		Status:           status,
		Amount:           f.Amount,
		Currency:         f.Currency,
		ProductName:      f.ProductName,
		LocalOrderID:     f.LocalOrderID,
	})
	if err != nil {
		return Outcome{}, err
	}
	if linked && out.Kind == OutcomeExact {
		out.Kind = OutcomeSession
	}
	return out, nil
}

// Replay reconciles a ledgered event again from its stored payload.
func (e *Engine) Replay(ctx context.Context, eventID int64) (Outcome, error) {
	ev, err := e.events.Get(ctx, eventID)
	if err != nil {
		return Outcome{}, err
	}
	if ev == nil {
		return Outcome{}, fmt.Errorf("webhook event %d: %w", eventID, apperr.ErrNotFound)
	}
	return e.Reconcile(ctx, webhooks.Extract(ev.Payload))
}

func (e *Engine) skip(ctx context.Context, reason string) Outcome {
	e.metrics.IncCounter(ctx, "Reconcile."+string(OutcomeSkipped))
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}
