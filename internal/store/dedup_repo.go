package store

import (
	"time"
)

// DedupRecord marks a chat request idempotency key as seen.
type DedupRecord struct {
	Key         string     `json:"key"`
	UserID      string     `json:"user_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for chat request deduplication. Keys are
// client supplied idempotency keys scoped by the caller.
type DedupRepo interface {
	// IsDuplicate checks if a key has already been recorded.
	IsDuplicate(key string) (bool, error)

	// RecordInbound inserts a new key. Returns false if the key was already
	// recorded.
	RecordInbound(key, userID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a key.
	MarkProcessed(key string) error
}
