package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
)

const (
	defaultTableName = "event_outbox"
	savepointName    = "outbox_enqueue"

	// sqlStateUndefinedTable is raised when the outbox table is absent.
	sqlStateUndefinedTable = "42P01"
)

var (
	ErrLimitMustBePositive = errors.New("limit must be greater than zero")
	ErrIDRequired          = errors.New("id is required")
	ErrEventIDRequired     = errors.New("event id is required")

	outboxColumns = "id, event_id, stream, payload, status, attempts, available_at, locked_at, " +
		"last_error, stream_message_id, published_at, created_at, updated_at"
)

type Option func(*Repository)

func WithLogger(logger libLog.Logger) Option {
	return func(repo *Repository) {
		if nilcheck.Interface(logger) {
			return
		}

		repo.logger = logger
	}
}

func WithTableName(tableName string) Option {
	return func(repo *Repository) {
		repo.tableName = tableName
	}
}

func WithTransactionTimeout(timeout time.Duration) Option {
	return func(repo *Repository) {
		if timeout > 0 {
			repo.transactionTimeout = timeout
		}
	}
}

// Repository persists outbox rows in PostgreSQL.
type Repository struct {
	db                 libPostgres.PrimaryProvider
	logger             libLog.Logger
	tableName          string
	transactionTimeout time.Duration
}

var _ outbox.Repository = (*Repository)(nil)

// NewRepository creates a PostgreSQL outbox repository.
func NewRepository(db libPostgres.PrimaryProvider, opts ...Option) (*Repository, error) {
	if nilcheck.Interface(db) {
		return nil, libPostgres.ErrConnectionRequired
	}

	repo := &Repository{
		db:                 db,
		logger:             libLog.NewNop(),
		tableName:          defaultTableName,
		transactionTimeout: libPostgres.DefaultTransactionTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	repo.tableName = strings.TrimSpace(repo.tableName)
	if repo.tableName == "" {
		repo.tableName = defaultTableName
	}

	if err := libPostgres.ValidateIdentifierPath(repo.tableName); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}

	return repo, nil
}

// Enqueue inserts row as pending inside tx. A duplicate event_id is a no-op
// reported as inserted=false. Insert failures are rolled back to a savepoint
// so tx stays usable. Only a missing outbox table is reported as
// outbox.ErrStoreUnavailable; every other failure is returned as is.
func (repo *Repository) Enqueue(ctx context.Context, tx outbox.Tx, row *outbox.Row) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if tx == nil {
		return false, outbox.ErrTransactionRequired
	}

	if err := row.Validate(); err != nil {
		return false, err
	}

	logger, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.enqueue_outbox_row")
	defer span.End()

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepointName); err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to open outbox savepoint", err)

		return false, fmt.Errorf("opening outbox savepoint: %w", err)
	}

	available := row.AvailableAt
	if available.IsZero() {
		available = time.Now().UTC()
	}

	query := "INSERT INTO " + libPostgres.QuoteIdentifierPath(repo.tableName) +
		" (event_id, stream, payload, status, attempts, available_at, created_at, updated_at)" +
		" VALUES ($1, $2, $3, $4, 0, $5, now(), now())" +
		" ON CONFLICT (event_id) DO NOTHING"

	result, err := tx.ExecContext(ctx, query, row.EventID, row.Stream, row.Payload, string(outbox.StatusPending), available)
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
			libOpentelemetry.HandleSpanError(span, "failed to roll back outbox savepoint", rbErr)

			return false, fmt.Errorf("rolling back outbox savepoint: %w", errors.Join(err, rbErr))
		}

		libOpentelemetry.HandleSpanError(span, "failed to enqueue outbox row", err)
		logSanitizedError(logger, ctx, "failed to enqueue outbox row", err)

		if isUndefinedTable(err) {
			return false, fmt.Errorf("%w: %v", outbox.ErrStoreUnavailable, outbox.SanitizeErrorMessageForStorage(err.Error()))
		}

		return false, fmt.Errorf("inserting outbox row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to release outbox savepoint", err)

		return false, fmt.Errorf("releasing outbox savepoint: %w", err)
	}

	affected, err := libPostgres.RowsAffected(result)
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// Claim locks up to limit due rows, or processing rows whose lock is older
// than lockTimeout, and marks them processing.
func (repo *Repository) Claim(ctx context.Context, limit int, lockTimeout time.Duration) ([]*outbox.Row, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	logger, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.claim_outbox_rows")
	defer span.End()

	rows, err := libPostgres.WithTx(ctx, repo.db, nil, repo.transactionTimeout, func(tx *sql.Tx) ([]*outbox.Row, error) {
		table := libPostgres.QuoteIdentifierPath(repo.tableName)
		query := "WITH due AS (" +
			"SELECT id FROM " + table +
			" WHERE (status = $1 AND available_at <= now())" +
			" OR (status = $2 AND locked_at < now() - ($3 * interval '1 millisecond'))" +
			" ORDER BY id LIMIT $4 FOR UPDATE SKIP LOCKED" +
			") UPDATE " + table + " AS o SET status = $2, locked_at = now(), updated_at = now()" +
			" FROM due WHERE o.id = due.id RETURNING " + qualifiedColumns("o")

		return queryRows(ctx, tx, query, []any{
			string(outbox.StatusPending),
			string(outbox.StatusProcessing),
			lockTimeout.Milliseconds(),
			limit,
		}, limit)
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to claim outbox rows", err)
		logSanitizedError(logger, ctx, "failed to claim outbox rows", err)

		return nil, fmt.Errorf("claiming outbox rows: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	return rows, nil
}

// MarkPublished finalizes a processing row.
func (repo *Repository) MarkPublished(ctx context.Context, id int64, streamMessageID string) error {
	if err := outbox.ValidateTransition(string(outbox.StatusProcessing), string(outbox.StatusPublished)); err != nil {
		return fmt.Errorf("mark published transition: %w", err)
	}

	query := "UPDATE " + libPostgres.QuoteIdentifierPath(repo.tableName) +
		" SET status = $1, stream_message_id = $2, published_at = now(), locked_at = NULL," +
		" last_error = NULL, updated_at = now() WHERE id = $3 AND status = $4"

	return repo.update(ctx, "postgres.mark_outbox_published", id, query,
		string(outbox.StatusPublished), streamMessageID, id, string(outbox.StatusProcessing))
}

// MarkRetry returns a processing row to pending, available after backoff.
func (repo *Repository) MarkRetry(ctx context.Context, id int64, errMsg string, backoff time.Duration) error {
	if err := outbox.ValidateTransition(string(outbox.StatusProcessing), string(outbox.StatusPending)); err != nil {
		return fmt.Errorf("mark retry transition: %w", err)
	}

	query := "UPDATE " + libPostgres.QuoteIdentifierPath(repo.tableName) +
		" SET status = $1, attempts = attempts + 1," +
		" available_at = now() + ($2 * interval '1 millisecond'), locked_at = NULL," +
		" last_error = $3, updated_at = now() WHERE id = $4 AND status = $5"

	return repo.update(ctx, "postgres.mark_outbox_retry", id, query,
		string(outbox.StatusPending), backoff.Milliseconds(), outbox.SanitizeErrorMessageForStorage(errMsg), id, string(outbox.StatusProcessing))
}

func (repo *Repository) update(ctx context.Context, spanName string, id int64, query string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if id <= 0 {
		return ErrIDRequired
	}

	logger, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	_, err := libPostgres.WithTx(ctx, repo.db, nil, repo.transactionTimeout, func(tx *sql.Tx) (struct{}, error) {
		result, execErr := tx.ExecContext(ctx, query, args...)
		if execErr != nil {
			return struct{}{}, fmt.Errorf("executing update: %w", execErr)
		}

		return struct{}{}, ensureRowsAffected(result)
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to update outbox row", err)
		logSanitizedError(logger, ctx, "failed to update outbox row", err)

		return fmt.Errorf("updating outbox row %d: %w", id, err)
	}

	return nil
}

// GetByEventID returns the row for eventID or outbox.ErrRowNotFound.
func (repo *Repository) GetByEventID(ctx context.Context, eventID string) (*outbox.Row, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, ErrEventIDRequired
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.get_outbox_by_event_id")
	defer span.End()

	db, err := repo.db.Primary(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to get database", err)

		return nil, err
	}

	query := "SELECT " + outboxColumns + " FROM " + libPostgres.QuoteIdentifierPath(repo.tableName) + " WHERE event_id = $1"

	row, err := scanRow(db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, outbox.ErrRowNotFound
		}

		libOpentelemetry.HandleSpanError(span, "failed to get outbox row", err)

		return nil, fmt.Errorf("getting outbox row: %w", err)
	}

	return row, nil
}

// CountByStatus tallies rows per status.
func (repo *Repository) CountByStatus(ctx context.Context) (outbox.Counts, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.count_outbox_by_status")
	defer span.End()

	db, err := repo.db.Primary(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to get database", err)

		return outbox.Counts{}, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT status, count(*) FROM "+libPostgres.QuoteIdentifierPath(repo.tableName)+" GROUP BY status")
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to count outbox rows", err)

		return outbox.Counts{}, fmt.Errorf("counting outbox rows: %w", err)
	}

	defer rows.Close()

	var counts outbox.Counts

	for rows.Next() {
		var (
			status string
			count  int64
		)

		if err := rows.Scan(&status, &count); err != nil {
			return outbox.Counts{}, fmt.Errorf("scanning outbox count: %w", err)
		}

		switch outbox.Status(status) {
		case outbox.StatusPending:
			counts.Pending = count
		case outbox.StatusProcessing:
			counts.Processing = count
		case outbox.StatusPublished:
			counts.Published = count
		}
	}

	if err := rows.Err(); err != nil {
		return outbox.Counts{}, fmt.Errorf("iterating rows: %w", err)
	}

	return counts, nil
}

func qualifiedColumns(alias string) string {
	parts := strings.Split(outboxColumns, ", ")
	for i, part := range parts {
		parts[i] = alias + "." + part
	}

	return strings.Join(parts, ", ")
}

func scanRow(scanner interface{ Scan(dest ...any) error }) (*outbox.Row, error) {
	var (
		row             outbox.Row
		status          string
		lastError       sql.NullString
		streamMessageID sql.NullString
		lockedAt        sql.NullTime
		publishedAt     sql.NullTime
	)

	if err := scanner.Scan(
		&row.ID,
		&row.EventID,
		&row.Stream,
		&row.Payload,
		&status,
		&row.Attempts,
		&row.AvailableAt,
		&lockedAt,
		&lastError,
		&streamMessageID,
		&publishedAt,
		&row.CreatedAt,
		&row.UpdatedAt,
	); err != nil {
		return nil, err
	}

	row.Status = outbox.Status(status)
	row.LastError = lastError.String
	row.StreamMessageID = streamMessageID.String

	if lockedAt.Valid {
		locked := lockedAt.Time
		row.LockedAt = &locked
	}

	if publishedAt.Valid {
		published := publishedAt.Time
		row.PublishedAt = &published
	}

	return &row, nil
}

func queryRows(ctx context.Context, tx *sql.Tx, query string, args []any, limit int) ([]*outbox.Row, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying outbox rows: %w", err)
	}

	defer rows.Close()

	result := make([]*outbox.Row, 0, limit)

	for rows.Next() {
		row, scanErr := scanRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", scanErr)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return result, nil
}

func ensureRowsAffected(result sql.Result) error {
	rows, err := libPostgres.RowsAffected(result)
	if err != nil {
		return err
	}

	if rows == 0 {
		return outbox.ErrStateTransitionConflict
	}

	return nil
}

func logSanitizedError(logger libLog.Logger, ctx context.Context, message string, err error) {
	if nilcheck.Interface(logger) || err == nil {
		return
	}

	logger.Log(ctx, libLog.LevelError, message, libLog.String("error", outbox.SanitizeErrorMessageForStorage(err.Error())))
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUndefinedTable
}
