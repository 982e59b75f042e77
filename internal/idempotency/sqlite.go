package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/store"
)

// SQLStore keeps idempotency entries in the service's own SQLite database.
type SQLStore struct {
	db        *sqlx.DB
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

// NewSQLStore returns a Store over the idempotency_keys table.
func NewSQLStore(db *sqlx.DB, ttlWindow time.Duration) *SQLStore {
	if ttlWindow <= 0 {
		ttlWindow = DefaultTTL
	}
	return &SQLStore{
		db:        db,
		ttlWindow: ttlWindow,
		nowFunc:   store.Now,
	}
}

var claimKeyQuery = `INSERT INTO idempotency_keys (idempotency_key, status, created_at, updated_at, expires_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (idempotency_key) DO UPDATE SET
		status = excluded.status,
		order_id = NULL,
		response_body = NULL,
		response_status = NULL,
		note = NULL,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		expires_at = excluded.expires_at
	WHERE idempotency_keys.expires_at < ? OR idempotency_keys.status = ?`

func (s *SQLStore) CreateIfNotExists(ctx context.Context, key string) (bool, error) {
	now := s.nowFunc()
	res, err := s.db.ExecContext(ctx, claimKeyQuery,
		key, StatusInProgress, now, now, now.Add(s.ttlWindow).Unix(), now.Unix(), StatusFailed)
	if err != nil {
		return false, apperr.Storage("claim idempotency key", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

var getKeyQuery = `SELECT idempotency_key, status,
		COALESCE(order_id, '') AS order_id,
		COALESCE(response_body, '') AS response_body,
		COALESCE(response_status, 0) AS response_status,
		COALESCE(note, '') AS note,
		created_at, updated_at, expires_at
	FROM idempotency_keys WHERE idempotency_key = ? AND expires_at >= ?`

func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	var rec Record
	if err := s.db.GetContext(ctx, &rec, getKeyQuery, key, s.nowFunc().Unix()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Storage("get idempotency key", err)
	}
	return &rec, nil
}

var markDoneQuery = `UPDATE idempotency_keys
	SET status = ?, order_id = ?, response_body = ?, response_status = ?, updated_at = ?
	WHERE idempotency_key = ?`

func (s *SQLStore) MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error {
	_, err := s.db.ExecContext(ctx, markDoneQuery, StatusDone, orderID, responseBody, responseStatus, s.nowFunc(), key)
	return apperr.Storage("mark idempotency key done", err)
}

var markFailedQuery = `UPDATE idempotency_keys SET status = ?, note = ?, updated_at = ? WHERE idempotency_key = ?`

func (s *SQLStore) MarkFailed(ctx context.Context, key, note string) error {
	_, err := s.db.ExecContext(ctx, markFailedQuery, StatusFailed, note, s.nowFunc(), key)
	return apperr.Storage("mark idempotency key failed", err)
}
