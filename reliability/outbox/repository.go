package outbox

import (
	"context"
	"database/sql"
	"time"
)

// Tx is the caller-owned transaction an enqueue joins.
type Tx = *sql.Tx

// Counts is the number of rows per status.
type Counts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Published  int64 `json:"published"`
}

// Repository defines persistence operations for outbox rows.
type Repository interface {
	// Enqueue inserts a pending row inside tx. A duplicate event_id is a
	// no-op reported as inserted=false.
	Enqueue(ctx context.Context, tx Tx, row *Row) (inserted bool, err error)
	// Claim atomically moves up to limit eligible rows to processing. Rows
	// are eligible when pending and due, or processing with a lock older
	// than lockTimeout.
	Claim(ctx context.Context, limit int, lockTimeout time.Duration) ([]*Row, error)
	MarkPublished(ctx context.Context, id int64, streamMessageID string) error
	MarkRetry(ctx context.Context, id int64, errMsg string, backoff time.Duration) error
	GetByEventID(ctx context.Context, eventID string) (*Row, error)
	CountByStatus(ctx context.Context) (Counts, error)
}
