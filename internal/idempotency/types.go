package idempotency

import (
	"context"
	"time"
)

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// DefaultTTL is how long a key keeps answering with its stored response.
const DefaultTTL = 48 * time.Hour

// Record is one idempotency entry, persisted either in SQLite or DynamoDB.
type Record struct {
	IdempotencyKey string    `db:"idempotency_key" dynamodbav:"idempotency_key"` // PK
	Status         string    `db:"status" dynamodbav:"status"`
	OrderID        string    `db:"order_id" dynamodbav:"order_id,omitempty"`
	ResponseBody   string    `db:"response_body" dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `db:"response_status" dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `db:"created_at" dynamodbav:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" dynamodbav:"updated_at"`
	ExpiresAt      int64     `db:"expires_at" dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `db:"note" dynamodbav:"note,omitempty"`
}

// Store claims and completes idempotency keys.
type Store interface {
	// CreateIfNotExists claims key in IN_PROGRESS. It reports false when a live
	// claim already exists; expired and FAILED entries are taken over.
	CreateIfNotExists(ctx context.Context, key string) (bool, error)

	// Get returns the live entry for key, or (nil, nil) if there is none.
	Get(ctx context.Context, key string) (*Record, error)

	MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}
