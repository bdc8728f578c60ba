package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
)

const (
	defaultTableName = "event_log"
	defaultLimit     = 100
	maxLimit         = 500

	recordColumns = "event_id, event_type, stream, user_id, session_id, run_id, request_id, story_code, " +
		"payload, published, stream_message_id, publish_error, created_at, updated_at"
)

var (
	ErrEventIDRequired = errors.New("event id is required")
	ErrFilterRequired  = errors.New("session id or run id is required")
)

// Record is one event_log row.
type Record struct {
	EventID         string          `json:"event_id"`
	EventType       string          `json:"event_type"`
	Stream          string          `json:"stream"`
	UserID          string          `json:"user_id"`
	SessionID       string          `json:"session_id,omitempty"`
	RunID           string          `json:"run_id,omitempty"`
	RequestID       string          `json:"request_id,omitempty"`
	StoryCode       string          `json:"story_code,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	Published       bool            `json:"published"`
	StreamMessageID string          `json:"stream_message_id,omitempty"`
	PublishError    string          `json:"publish_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Store reads and writes the event log. Writes go to the primary, list
// queries to a replica.
type Store struct {
	db        libPostgres.ResolverProvider
	tableName string
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithTableName overrides the event_log table, optionally schema qualified.
func WithTableName(name string) StoreOption {
	return func(s *Store) {
		s.tableName = strings.TrimSpace(name)
	}
}

// NewStore creates an event log store.
func NewStore(db libPostgres.ResolverProvider, opts ...StoreOption) (*Store, error) {
	if nilcheck.Interface(db) {
		return nil, libPostgres.ErrConnectionRequired
	}

	s := &Store{db: db, tableName: defaultTableName}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.tableName == "" {
		s.tableName = defaultTableName
	}

	if err := libPostgres.ValidateIdentifierPath(s.tableName); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}

	return s, nil
}

// Upsert records the outcome of publishing e to stream. A later success
// keeps the row published even if an earlier attempt failed, and a later
// failure never clears a stored message id.
func (s *Store) Upsert(ctx context.Context, stream string, e event.Envelope, messageID string, publishErr error) error {
	if strings.TrimSpace(e.EventID) == "" {
		return ErrEventIDRequired
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.upsert_event_log")
	defer span.End()

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}

	var errText string
	if publishErr != nil {
		errText = outbox.SanitizeErrorMessageForStorage(publishErr.Error())
	}

	db, err := s.db.Resolver(ctx)
	if err != nil {
		return err
	}

	table := libPostgres.QuoteIdentifierPath(s.tableName)
	query := "INSERT INTO " + table +
		" (event_id, event_type, stream, user_id, session_id, run_id, request_id, story_code," +
		" payload, published, stream_message_id, publish_error, created_at, updated_at)" +
		" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())" +
		" ON CONFLICT (event_id) DO UPDATE SET" +
		" published = " + table + ".published OR EXCLUDED.published," +
		" stream_message_id = COALESCE(EXCLUDED.stream_message_id, " + table + ".stream_message_id)," +
		" publish_error = EXCLUDED.publish_error," +
		" updated_at = now()"

	_, err = db.ExecContext(ctx, query,
		e.EventID,
		e.EventType,
		stream,
		e.UserID,
		nullString(e.SessionID),
		nullString(e.RunID),
		nullString(e.RequestID),
		nullString(e.StoryCode),
		payload,
		publishErr == nil && messageID != "",
		nullString(messageID),
		nullString(errText),
	)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to upsert event log", err)

		return fmt.Errorf("upsert event log %s: %w", e.EventID, err)
	}

	return nil
}

// ListBySession returns the newest records of a session.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	return s.list(ctx, "session_id", sessionID, limit)
}

// ListByRun returns the newest records of a run.
func (s *Store) ListByRun(ctx context.Context, runID string, limit int) ([]Record, error) {
	return s.list(ctx, "run_id", runID, limit)
}

func (s *Store) list(ctx context.Context, column, value string, limit int) ([]Record, error) {
	if strings.TrimSpace(value) == "" {
		return nil, ErrFilterRequired
	}

	limit = boundLimit(limit)

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.list_event_log")
	defer span.End()

	db, err := s.db.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + recordColumns + " FROM " + libPostgres.QuoteIdentifierPath(s.tableName) +
		" WHERE " + column + " = $1 ORDER BY created_at DESC LIMIT $2"

	rows, err := db.QueryContext(ctx, query, value, limit)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to list event log", err)

		return nil, fmt.Errorf("querying event log: %w", err)
	}

	defer rows.Close()

	out := make([]Record, 0, limit)

	for rows.Next() {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning event log row: %w", scanErr)
		}

		out = append(out, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return out, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r                                      Record
		sessionID, runID, requestID, storyCode sql.NullString
		streamMessageID, publishError          sql.NullString
	)

	if err := rows.Scan(
		&r.EventID,
		&r.EventType,
		&r.Stream,
		&r.UserID,
		&sessionID,
		&runID,
		&requestID,
		&storyCode,
		&r.Payload,
		&r.Published,
		&streamMessageID,
		&publishError,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return Record{}, err
	}

	r.SessionID = sessionID.String
	r.RunID = runID.String
	r.RequestID = requestID.String
	r.StoryCode = storyCode.String
	r.StreamMessageID = streamMessageID.String
	r.PublishError = publishError.String

	return r, nil
}

func boundLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}

	return min(limit, maxLimit)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
