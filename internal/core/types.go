package core

import (
	"time"

	"github.com/google/uuid"
)

// DefaultBatchInterval is the fixed coalescing window for accumulator entries.
const DefaultBatchInterval = 10 * time.Minute

// ErrorPair identifies a language error by category and subcategory.
type ErrorPair struct {
	Category    string `json:"errorCategory"`
	Subcategory string `json:"errorSubCategory"`
}

// Report is a single utterance's worth of detected errors for a user.
//
// ConversationID and UtteranceID are carried for traceability only and never
// participate in aggregation keys.
type Report struct {
	UserID         uuid.UUID   `json:"user_id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	UtteranceID    uuid.UUID   `json:"utterance_id"`
	Errors         []ErrorPair `json:"errors"`
}

// FrequencyKey is the composite identity shared by durable records, live
// counters and accumulator entries.
type FrequencyKey struct {
	UserID      uuid.UUID `json:"user_id"`
	Category    string    `json:"error_category"`
	Subcategory string    `json:"error_subcategory"`
}

// Pair returns the category pair of the key.
func (k FrequencyKey) Pair() ErrorPair {
	return ErrorPair{Category: k.Category, Subcategory: k.Subcategory}
}

// FrequencyRecord is the durable, authoritative occurrence count.
type FrequencyRecord struct {
	FrequencyKey
	Frequency int64 `json:"frequency"`
}

// RankedError is one entry of a user's top-N error list.
type RankedError struct {
	Category    string `json:"error_category"`
	Subcategory string `json:"error_subcategory"`
	Frequency   int64  `json:"frequency"`
}

// PendingDelta is an accumulated, not-yet-flushed delta.
type PendingDelta struct {
	FrequencyKey
	Delta     int64          `json:"delta"`
	ExpiresIn *time.Duration `json:"expires_in,omitempty"`
}

// RecordResult summarizes what a report changed in the fast layer.
type RecordResult struct {
	LiveCounts  map[ErrorPair]int64 `json:"-"`
	Accumulated map[ErrorPair]int64 `json:"-"`
}

// FlushReport summarizes one drain of the batch accumulator.
type FlushReport struct {
	Scanned   int           `json:"scanned"`
	Applied   int           `json:"applied"`
	Vanished  int           `json:"vanished"`
	Malformed int           `json:"malformed"`
	Failed    int           `json:"failed"`
	Delta     int64         `json:"delta"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
