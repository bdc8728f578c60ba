package dlq

import (
	"context"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/stream"
)

// Broker is the stream surface the admin needs. *stream.RedisBroker
// satisfies it.
type Broker interface {
	Len(ctx context.Context, stream string) (int64, error)
	GroupPending(ctx context.Context, stream string) (map[string]int64, error)
	PendingEntries(ctx context.Context, stream, group string, count int64) ([]stream.PendingEntry, error)
	Range(ctx context.Context, stream string, count int64) ([]stream.Message, error)
	RevRange(ctx context.Context, stream string, count int64) ([]stream.Message, error)
	Get(ctx context.Context, stream, id string) (stream.Message, bool, error)
	Delete(ctx context.Context, stream string, ids ...string) (int64, error)
	Trim(ctx context.Context, stream string, maxLen int64) (int64, error)
	SAdd(ctx context.Context, key, member string) (int64, error)
	SRem(ctx context.Context, key, member string) error
	PublishFields(ctx context.Context, stream string, fields map[string]any) (string, error)
}

// Counts holds one number per stream role.
type Counts struct {
	Stream int64 `json:"stream"`
	Retry  int64 `json:"retry"`
	DLQ    int64 `json:"dlq"`
}

// StatusReport is the stream-status response.
type StatusReport struct {
	Stream      string `json:"stream"`
	RetryStream string `json:"retry_stream"`
	DLQStream   string `json:"dlq_stream"`
	Sizes       Counts `json:"sizes"`
	Pending     Counts `json:"pending"`
	MaxLen      Counts `json:"maxlen"`
}

// PendingItems groups pending entries by stream role.
type PendingItems struct {
	Stream []stream.PendingEntry `json:"stream"`
	Retry  []stream.PendingEntry `json:"retry"`
}

// PendingReport is the pending-inspection response.
type PendingReport struct {
	Items  PendingItems `json:"items"`
	Totals Counts       `json:"totals"`
	Limit  int          `json:"limit"`
}

// Entry is one decoded dead-letter record. Event is the decoded JSON
// object, or the raw string when it does not parse.
type Entry struct {
	MessageID string `json:"message_id"`
	Event     any    `json:"event"`
	Error     string `json:"error,omitempty"`
	FailedAt  any    `json:"failed_at,omitempty"`
	// Extra carries any other fields of the record.
	Extra map[string]any `json:"extra,omitempty"`
}

// Page is one List response.
type Page struct {
	Items  []Entry `json:"items"`
	Total  int64   `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// ReplayRequest selects dead-letter entries to replay.
type ReplayRequest struct {
	MessageIDs []string `json:"message_ids"`
	Limit      int      `json:"limit"`
	// DeleteAfterReplay defaults to true when nil.
	DeleteAfterReplay *bool `json:"delete_after_replay"`
}

// ReplayStatus is the per-entry replay outcome.
type ReplayStatus string

const (
	StatusReplayed        ReplayStatus = "replayed"
	StatusMissing         ReplayStatus = "missing"
	StatusInvalidEvent    ReplayStatus = "invalid_event"
	StatusAlreadyReplayed ReplayStatus = "already_replayed"
	StatusRequeueFailed   ReplayStatus = "requeue_failed"
	// StatusLookupFailed means the dead-letter stream could not be read; the
	// entry may still exist.
	StatusLookupFailed ReplayStatus = "lookup_failed"
)

// ReplayResult is one entry's outcome.
type ReplayResult struct {
	MessageID       string       `json:"message_id"`
	Status          ReplayStatus `json:"status"`
	EventID         string       `json:"event_id,omitempty"`
	StreamMessageID string       `json:"stream_message_id,omitempty"`
}

// ReplayReport is the replay response.
type ReplayReport struct {
	Requested int            `json:"requested"`
	Replayed  int            `json:"replayed"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Results   []ReplayResult `json:"results"`
}

// TrimReport is the trim response.
type TrimReport struct {
	Trimmed Counts `json:"trimmed"`
	MaxLen  Counts `json:"maxlen"`
}
