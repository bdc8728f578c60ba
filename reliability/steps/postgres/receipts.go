package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/steps"
)

const DefaultTableName = "story_step_receipts"

// ReceiptRepository implements steps.ReceiptStore.
type ReceiptRepository struct {
	tableName string
}

var _ steps.ReceiptStore = (*ReceiptRepository)(nil)

// Option customizes the repository.
type Option func(*ReceiptRepository)

// WithTableName overrides the table, optionally schema qualified.
func WithTableName(name string) Option {
	return func(repo *ReceiptRepository) { repo.tableName = strings.TrimSpace(name) }
}

// NewReceiptRepository validates the configured table name.
func NewReceiptRepository(opts ...Option) (*ReceiptRepository, error) {
	repo := &ReceiptRepository{tableName: DefaultTableName}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	if repo.tableName == "" {
		repo.tableName = DefaultTableName
	}

	if err := libPostgres.ValidateIdentifierPath(repo.tableName); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}

	return repo, nil
}

func (repo *ReceiptRepository) table() string {
	return libPostgres.QuoteIdentifierPath(repo.tableName)
}

// Lock takes pg_advisory_xact_lock on the hashed key.
func (repo *ReceiptRepository) Lock(ctx context.Context, tx outbox.Tx, key steps.Key) error {
	if tx == nil {
		return outbox.ErrTransactionRequired
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.lock_step_receipt")
	defer span.End()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key.String()); err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to lock step receipt", err)

		return fmt.Errorf("locking step receipt: %w", err)
	}

	return nil
}

// Find reads and row-locks the receipt for key.
func (repo *ReceiptRepository) Find(ctx context.Context, tx outbox.Tx, key steps.Key) (*steps.Receipt, bool, error) {
	if tx == nil {
		return nil, false, outbox.ErrTransactionRequired
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.find_step_receipt")
	defer span.End()

	query := "SELECT action, result, created_at FROM " + repo.table() +
		" WHERE session_id = $1 AND story_code = $2 AND step_index = $3 AND idempotency_key = $4 FOR UPDATE"

	var (
		action    string
		raw       []byte
		createdAt time.Time
	)

	err := tx.QueryRowContext(ctx, query, key.SessionID, key.StoryCode, key.StepIndex, key.IdempotencyKey).
		Scan(&action, &raw, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to read step receipt", err)

		return nil, false, fmt.Errorf("reading step receipt: %w", err)
	}

	receipt := &steps.Receipt{Key: key, Action: action, CreatedAt: createdAt}

	if err := json.Unmarshal(raw, &receipt.Result); err != nil {
		return nil, false, fmt.Errorf("decoding step receipt: %w", err)
	}

	return receipt, true, nil
}

// Save inserts receipt. A row already present for the key yields
// steps.ErrReceiptConflict.
func (repo *ReceiptRepository) Save(ctx context.Context, tx outbox.Tx, receipt steps.Receipt) error {
	if tx == nil {
		return outbox.ErrTransactionRequired
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.save_step_receipt")
	defer span.End()

	result, err := json.Marshal(receipt.Result)
	if err != nil {
		return fmt.Errorf("encoding step result: %w", err)
	}

	createdAt := receipt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := "INSERT INTO " + repo.table() +
		" (session_id, story_code, step_index, idempotency_key, action, result, created_at)" +
		" VALUES ($1, $2, $3, $4, $5, $6, $7)" +
		" ON CONFLICT (session_id, story_code, step_index, idempotency_key) DO NOTHING"

	res, err := tx.ExecContext(ctx, query,
		receipt.Key.SessionID,
		receipt.Key.StoryCode,
		receipt.Key.StepIndex,
		receipt.Key.IdempotencyKey,
		receipt.Action,
		result,
		createdAt,
	)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to save step receipt", err)

		return fmt.Errorf("saving step receipt: %w", err)
	}

	affected, err := libPostgres.RowsAffected(res)
	if err != nil {
		return err
	}

	if affected == 0 {
		return steps.ErrReceiptConflict
	}

	return nil
}
