package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/protocol"
)

const (
	DefaultNegotiationTable = "edc_negotiations"
	DefaultTransferTable    = "edc_transfers"
)

type scanner interface {
	Scan(dest ...any) error
}

// mapping describes how one entity kind maps onto its table.
type mapping[E any] struct {
	name      string
	columns   []string
	values    func(E) ([]any, error)
	scan      func(scanner) (E, error)
	id        func(E) string
	lifecycle func(E) (*protocol.Lifecycle, time.Time)
}

// Repository stores one protocol entity kind.
type Repository[E any] struct {
	db        libPostgres.ResolverProvider
	tableName string
	m         mapping[E]
}

var (
	_ protocol.Store[*protocol.Negotiation] = (*Repository[*protocol.Negotiation])(nil)
	_ protocol.Store[*protocol.Transfer]    = (*Repository[*protocol.Transfer])(nil)
)

// Option customizes a repository.
type Option func(*options)

type options struct {
	tableName string
}

// WithTableName overrides the table, optionally schema qualified.
func WithTableName(name string) Option {
	return func(o *options) { o.tableName = name }
}

func newRepository[E any](db libPostgres.ResolverProvider, defaultTable string, m mapping[E], opts []Option) (*Repository[E], error) {
	if nilcheck.Interface(db) {
		return nil, libPostgres.ErrConnectionRequired
	}

	o := options{tableName: defaultTable}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	o.tableName = strings.TrimSpace(o.tableName)
	if o.tableName == "" {
		o.tableName = defaultTable
	}

	if err := libPostgres.ValidateIdentifierPath(o.tableName); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}

	return &Repository[E]{db: db, tableName: o.tableName, m: m}, nil
}

// NewNegotiationRepository stores negotiations.
func NewNegotiationRepository(db libPostgres.ResolverProvider, opts ...Option) (*Repository[*protocol.Negotiation], error) {
	return newRepository(db, DefaultNegotiationTable, negotiationMapping, opts)
}

// NewTransferRepository stores transfers.
func NewTransferRepository(db libPostgres.ResolverProvider, opts ...Option) (*Repository[*protocol.Transfer], error) {
	return newRepository(db, DefaultTransferTable, transferMapping, opts)
}

func (repo *Repository[E]) table() string {
	return libPostgres.QuoteIdentifierPath(repo.tableName)
}

func (repo *Repository[E]) selectColumns() string {
	return strings.Join(repo.m.columns, ", ")
}

// Insert adds e inside tx.
func (repo *Repository[E]) Insert(ctx context.Context, tx outbox.Tx, e E) error {
	if tx == nil {
		return outbox.ErrTransactionRequired
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.insert_"+repo.m.name)
	defer span.End()

	values, err := repo.m.values(e)
	if err != nil {
		return err
	}

	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := "INSERT INTO " + repo.table() + " (" + repo.selectColumns() + ") VALUES (" + strings.Join(placeholders, ", ") + ")"

	if _, err := tx.ExecContext(ctx, query, values...); err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to insert "+repo.m.name, err)

		return fmt.Errorf("inserting %s: %w", repo.m.name, err)
	}

	return nil
}

// Get reads e through the resolver. It returns protocol.ErrNotFound when
// absent.
func (repo *Repository[E]) Get(ctx context.Context, id string) (E, error) {
	var zero E

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.get_"+repo.m.name)
	defer span.End()

	db, err := repo.db.Resolver(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to get database", err)

		return zero, err
	}

	query := "SELECT " + repo.selectColumns() + " FROM " + repo.table() + " WHERE id = $1"

	return repo.scanOne(span, db.QueryRowContext(ctx, query, id))
}

// GetForUpdate reads and row-locks e inside tx.
func (repo *Repository[E]) GetForUpdate(ctx context.Context, tx outbox.Tx, id string) (E, error) {
	var zero E

	if tx == nil {
		return zero, outbox.ErrTransactionRequired
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.lock_"+repo.m.name)
	defer span.End()

	query := "SELECT " + repo.selectColumns() + " FROM " + repo.table() + " WHERE id = $1 FOR UPDATE"

	return repo.scanOne(span, tx.QueryRowContext(ctx, query, id))
}

func (repo *Repository[E]) scanOne(span trace.Span, row scanner) (E, error) {
	var zero E

	e, err := repo.m.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, protocol.ErrNotFound
		}

		libOpentelemetry.HandleSpanError(span, "failed to read "+repo.m.name, err)

		return zero, fmt.Errorf("reading %s: %w", repo.m.name, err)
	}

	return e, nil
}

// Save writes the lifecycle columns of e inside tx.
func (repo *Repository[E]) Save(ctx context.Context, tx outbox.Tx, e E) error {
	if tx == nil {
		return outbox.ErrTransactionRequired
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.save_"+repo.m.name)
	defer span.End()

	lc, updatedAt := repo.m.lifecycle(e)

	history, err := json.Marshal(lc.StateHistory)
	if err != nil {
		return fmt.Errorf("encoding state history: %w", err)
	}

	query := "UPDATE " + repo.table() + " SET current_state = $1, state_history = $2, updated_at = $3 WHERE id = $4"

	result, err := tx.ExecContext(ctx, query, string(lc.CurrentState), history, updatedAt, repo.m.id(e))
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to save "+repo.m.name, err)

		return fmt.Errorf("saving %s: %w", repo.m.name, err)
	}

	affected, err := libPostgres.RowsAffected(result)
	if err != nil {
		return err
	}

	if affected == 0 {
		return protocol.ErrNotFound
	}

	return nil
}

func nullString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}

	return v
}

func jsonColumn(v any, fallback string) ([]byte, error) {
	if v == nil {
		return []byte(fallback), nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	if string(b) == "null" {
		return []byte(fallback), nil
	}

	return b, nil
}

func decodeInto(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}

	return json.Unmarshal(raw, dest)
}
