package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/store"
)

// maxCandidates caps how many unlinked orders the fuzzy matcher looks at.
const maxCandidates = 20

// Store encapsulates operations on the orders table.
type Store struct {
	db      *sqlx.DB
	nowFunc func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:      db,
		nowFunc: store.Now,
	}
}

// WithClock replaces the time source used for created_at/updated_at stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.nowFunc = now
	return s
}

const orderColumns = `id, amount, currency, product_name, status, mail, phone,
	cancel_reason, canceled_at, refund_reason, refund_detail, refund_id, refund_payload_json, refunded_at,
	session_id, processor_order_id, created_at, updated_at`

var createOrderQuery = `INSERT INTO orders (id, amount, currency, product_name, status, mail, phone, session_id, processor_order_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)`

// Create inserts a new order in status created and returns its generated id.
func (s *Store) Create(ctx context.Context, in NewOrder) (string, error) {
	mail, phone := in.Mail, in.Phone
	if mail == "" {
		mail = DefaultMail
	}
	if phone == "" {
		phone = DefaultPhone
	}
	id := uuid.NewString()
	now := s.nowFunc()

	_, err := s.db.ExecContext(ctx, createOrderQuery, id, in.Amount, in.Currency, in.ProductName, StatusCreated, mail, phone, now, now)
	if err != nil {
		return "", apperr.Storage("insert order", err)
	}
	return id, nil
}

var attachSessionQuery = `UPDATE orders SET session_id = ?, updated_at = ? WHERE id = ?`

// AttachSession links a processor checkout session to an order. An unknown id is a no-op.
// A session id already held by another order fails with apperr.ErrConflict.
func (s *Store) AttachSession(ctx context.Context, orderID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, attachSessionQuery, sessionID, s.nowFunc(), orderID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("session %s already attached: %w", sessionID, apperr.ErrConflict)
		}
		return apperr.Storage("attach session", err)
	}
	return nil
}

var (
	updateStatusQuery = `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`
	cancelStatusQuery = `UPDATE orders SET status = ?, cancel_reason = ?, canceled_at = ?, updated_at = ? WHERE id = ?`
)

// UpdateStatusByID overwrites the status of an order. Canceling also stamps
// canceled_at and stores the reason. Returns apperr.ErrNotFound for an unknown id.
func (s *Store) UpdateStatusByID(ctx context.Context, id string, status Status, cancelReason *string) (*Order, error) {
	now := s.nowFunc()
	var (
		res sql.Result
		err error
	)
	if status == StatusCanceled {
		res, err = s.db.ExecContext(ctx, cancelStatusQuery, status, cancelReason, now, now, id)
	} else {
		res, err = s.db.ExecContext(ctx, updateStatusQuery, status, now, id)
	}
	if err != nil {
		return nil, apperr.Storage("update order status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return s.Get(ctx, id)
}

var markRefundedQuery = `UPDATE orders SET
		status = ?,
		cancel_reason = ?,
		canceled_at = ?,
		refund_reason = ?,
		refund_detail = ?,
		refund_id = ?,
		refund_payload_json = ?,
		refunded_at = ?,
		updated_at = ?
	WHERE id = ?`

// MarkRefunded moves an order to refunded and records the refund audit trail.
// It does not check the prior status; the refund orchestrator owns that.
func (s *Store) MarkRefunded(ctx context.Context, id string, r Refund) (*Order, error) {
	now := s.nowFunc()
	res, err := s.db.ExecContext(ctx, markRefundedQuery,
		StatusRefunded, r.CancelReason, now, r.Reason, r.Detail, r.RefundID, r.Payload, now, now, id)
	if err != nil {
		return nil, apperr.Storage("mark order refunded", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return s.Get(ctx, id)
}

var (
	getOrderQuery              = `SELECT ` + orderColumns + ` FROM orders WHERE id = ? LIMIT 1`
	getOrderBySessionQuery     = `SELECT ` + orderColumns + ` FROM orders WHERE session_id = ? LIMIT 1`
	getOrderByProcessorIDQuery = `SELECT ` + orderColumns + ` FROM orders WHERE processor_order_id = ? LIMIT 1`
)

// Get fetches an order by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, id string) (*Order, error) {
	return s.getOne(ctx, getOrderQuery, id)
}

// GetBySession fetches the order holding a checkout session id. Returns (nil, nil) if not found.
func (s *Store) GetBySession(ctx context.Context, sessionID string) (*Order, error) {
	return s.getOne(ctx, getOrderBySessionQuery, sessionID)
}

// GetByProcessorOrderID fetches the order linked to a processor order id. Returns (nil, nil) if not found.
func (s *Store) GetByProcessorOrderID(ctx context.Context, processorOrderID string) (*Order, error) {
	return s.getOne(ctx, getOrderByProcessorIDQuery, processorOrderID)
}

func (s *Store) getOne(ctx context.Context, query string, arg string) (*Order, error) {
	var o Order
	if err := s.db.GetContext(ctx, &o, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Storage("get order", err)
	}
	return &o, nil
}

var (
	listOrdersQuery       = `SELECT ` + orderColumns + ` FROM orders ORDER BY updated_at DESC, id DESC LIMIT ?`
	listOrdersByMailQuery = `SELECT ` + orderColumns + ` FROM orders WHERE mail = ? ORDER BY updated_at DESC, id DESC LIMIT ?`
)

// List returns the most recently updated orders first, optionally filtered by contact mail.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Order, error) {
	limit := store.ClampLimit(f.Limit)
	res := []Order{}
	var err error
	if f.Mail != "" {
		err = s.db.SelectContext(ctx, &res, listOrdersByMailQuery, f.Mail, limit)
	} else {
		err = s.db.SelectContext(ctx, &res, listOrdersQuery, limit)
	}
	if err != nil {
		return nil, apperr.Storage("list orders", err)
	}
	return res, nil
}

var (
	findByProcessorIDQuery = `SELECT id, status FROM orders WHERE processor_order_id = ? LIMIT 1`
	applyEventQuery        = `UPDATE orders SET
		status = ?,
		amount = COALESCE(?, amount),
		currency = COALESCE(?, currency),
		updated_at = ?
	WHERE id = ?`
)

// ApplyEventByProcessorOrderID applies a webhook update to the order already linked to
// processorOrderID. It reports the matched order id, or "" when no order holds the id.
// Refunded orders are left untouched: a late re-delivery must not undo a refund.
func (s *Store) ApplyEventByProcessorOrderID(ctx context.Context, processorOrderID string, u EventUpdate) (string, error) {
	var row struct {
		ID     string `db:"id"`
		Status Status `db:"status"`
	}
	if err := s.db.GetContext(ctx, &row, findByProcessorIDQuery, processorOrderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", apperr.Storage("find order by processor id", err)
	}
	if row.Status == StatusRefunded {
		return row.ID, nil
	}
	if _, err := s.db.ExecContext(ctx, applyEventQuery, u.Status, u.Amount, u.Currency, s.nowFunc(), row.ID); err != nil {
		return "", apperr.Storage("apply event", err)
	}
	return row.ID, nil
}

var listUnlinkedQuery = `SELECT ` + orderColumns + ` FROM orders
	WHERE processor_order_id IS NULL
		AND amount = ?
		AND currency = ?
		AND product_name = ?
	ORDER BY created_at DESC, id DESC
	LIMIT ?`

// ListUnlinkedCandidates returns orders without a processor order id whose financial
// facts match exactly, newest first.
func (s *Store) ListUnlinkedCandidates(ctx context.Context, amount float64, currency, productName string) ([]Order, error) {
	res := []Order{}
	if err := s.db.SelectContext(ctx, &res, listUnlinkedQuery, amount, currency, productName, maxCandidates); err != nil {
		return nil, apperr.Storage("list unlinked orders", err)
	}
	return res, nil
}

var adoptQuery = `UPDATE orders SET processor_order_id = ?, status = ?, updated_at = ?
	WHERE id = ? AND processor_order_id IS NULL`

// AdoptProcessorOrderID links an unlinked order to a processor order id and applies the
// event status. It reports false if the order was linked concurrently.
func (s *Store) AdoptProcessorOrderID(ctx context.Context, id, processorOrderID string, status Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, adoptQuery, processorOrderID, status, s.nowFunc(), id)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return false, fmt.Errorf("processor order %s already linked: %w", processorOrderID, apperr.ErrConflict)
		}
		return false, apperr.Storage("adopt processor order id", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

var attachProcessorIDBySessionQuery = `UPDATE orders SET processor_order_id = ?, updated_at = ?
	WHERE session_id = ? AND (processor_order_id IS NULL OR processor_order_id = ?)`

// AttachProcessorOrderIDBySession links the processor order id to the order holding
// sessionID. It reports whether an order was linked.
func (s *Store) AttachProcessorOrderIDBySession(ctx context.Context, sessionID, processorOrderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, attachProcessorIDBySessionQuery, processorOrderID, s.nowFunc(), sessionID, processorOrderID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return false, fmt.Errorf("processor order %s already linked: %w", processorOrderID, apperr.ErrConflict)
		}
		return false, apperr.Storage("attach processor order id", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

var insertShadowQuery = `INSERT INTO orders (id, amount, currency, product_name, status, session_id, processor_order_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?)`

// InsertShadow creates an order straight from a webhook event.
func (s *Store) InsertShadow(ctx context.Context, sh Shadow) (string, error) {
	id := uuid.NewString()
	now := s.nowFunc()
	_, err := s.db.ExecContext(ctx, insertShadowQuery, id, sh.Amount, sh.Currency, sh.ProductName, sh.Status, sh.ProcessorOrderID, now, now)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return "", fmt.Errorf("processor order %s already linked: %w", sh.ProcessorOrderID, apperr.ErrConflict)
		}
		return "", apperr.Storage("insert shadow order", err)
	}
	return id, nil
}
