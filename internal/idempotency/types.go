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

// Record is one claimed idempotency key and, once done, the response to
// replay for duplicates.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key" json:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status" json:"status"`
	OrderID        string    `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty" json:"response_body,omitempty"` // small responses only
	ResponseStatus int       `dynamodbav:"response_status,omitempty" json:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at" json:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at" json:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty" json:"note,omitempty"`
}

// Store claims keys so a request or message is acted on once.
//
// CreateIfNotExists returns created=true when the caller now owns the key;
// a key whose previous attempt FAILED may be claimed again. Get returns
// (nil, nil) for an unknown key. Release forgets a key so the same request
// can be retried from scratch.
type Store interface {
	CreateIfNotExists(ctx context.Context, key, orderID string) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
	Release(ctx context.Context, key string) error
}

// Scoped prefixes a client supplied key with the caller's id so two users
// can never collide on the same key.
func Scoped(userID, key string) string {
	return userID + "#" + key
}
