package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bxcodec/dbresolver/v2"
)

const maxSQLIdentifierLength = 63

// DefaultTransactionTimeout bounds transactions opened by WithTx when ctx has no deadline.
const DefaultTransactionTimeout = 30 * time.Second

var (
	// ErrInvalidIdentifier indicates a table or column name that cannot be quoted safely.
	ErrInvalidIdentifier = errors.New("invalid sql identifier")
	// ErrConnectionRequired indicates a store built without a database provider.
	ErrConnectionRequired = errors.New("postgres connection is required")

	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// PrimaryProvider yields the database used to open write transactions.
// *Client satisfies it.
type PrimaryProvider interface {
	Primary(ctx context.Context) (*sql.DB, error)
}

// FixedPrimary adapts an already-open *sql.DB to PrimaryProvider.
type FixedPrimary struct {
	DB *sql.DB
}

// Primary returns the wrapped handle.
func (p FixedPrimary) Primary(context.Context) (*sql.DB, error) {
	if p.DB == nil {
		return nil, ErrNoPrimaryDB
	}

	return p.DB, nil
}

// ResolverProvider yields the primary/replica resolver. Exec calls go to the
// primary and Query calls to a replica. *Client satisfies it.
type ResolverProvider interface {
	Resolver(ctx context.Context) (dbresolver.DB, error)
}

// FixedResolver adapts an already-built resolver to ResolverProvider.
type FixedResolver struct {
	DB dbresolver.DB
}

// Resolver returns the wrapped resolver.
func (p FixedResolver) Resolver(context.Context) (dbresolver.DB, error) {
	if p.DB == nil {
		return nil, ErrNotConnected
	}

	return p.DB, nil
}

// WithTx runs fn in tx when tx is non-nil. Otherwise it opens a transaction on
// the provider's primary, commits on success and rolls back on error.
func WithTx[T any](
	ctx context.Context,
	provider PrimaryProvider,
	tx *sql.Tx,
	timeout time.Duration,
	fn func(*sql.Tx) (T, error),
) (T, error) {
	var zero T

	if ctx == nil {
		ctx = context.Background()
	}

	if tx != nil {
		return fn(tx)
	}

	if provider == nil {
		return zero, ErrConnectionRequired
	}

	db, err := provider.Primary(ctx)
	if err != nil {
		return zero, err
	}

	txCtx := ctx

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		if timeout <= 0 {
			timeout = DefaultTransactionTimeout
		}

		var cancel context.CancelFunc

		txCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	newTx, err := db.BeginTx(txCtx, nil)
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = newTx.Rollback()
	}()

	result, err := fn(newTx)
	if err != nil {
		return zero, err
	}

	if err := newTx.Commit(); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// ValidateIdentifier accepts a single unquoted identifier.
func ValidateIdentifier(identifier string) error {
	if len(identifier) > maxSQLIdentifierLength {
		return ErrInvalidIdentifier
	}

	if !identifierPattern.MatchString(identifier) {
		return ErrInvalidIdentifier
	}

	return nil
}

// ValidateIdentifierPath accepts schema.table style paths.
func ValidateIdentifierPath(path string) error {
	for _, part := range strings.Split(path, ".") {
		if err := ValidateIdentifier(strings.TrimSpace(part)); err != nil {
			return err
		}
	}

	return nil
}

// QuoteIdentifierPath quotes each dot-separated part.
func QuoteIdentifierPath(path string) string {
	parts := strings.Split(path, ".")
	quoted := make([]string, 0, len(parts))

	for _, part := range parts {
		quoted = append(quoted, QuoteIdentifier(strings.TrimSpace(part)))
	}

	return strings.Join(quoted, ".")
}

// QuoteIdentifier wraps identifier in double quotes, escaping embedded quotes.
func QuoteIdentifier(identifier string) string {
	identifier = strings.ReplaceAll(identifier, "\x00", "")

	return "\"" + strings.ReplaceAll(identifier, "\"", "\"\"") + "\""
}

// RowsAffected reads result.RowsAffected with a wrapped error.
func RowsAffected(result sql.Result) (int64, error) {
	if result == nil {
		return 0, errors.New("nil sql result")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return rows, nil
}
