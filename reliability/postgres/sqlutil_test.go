//go:build unit

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateIdentifier("event_outbox"))
	require.NoError(t, ValidateIdentifier("tenant_01"))

	invalid := []string{
		"",
		"123table",
		"event-outbox",
		"public.outbox",
		`outbox"; DROP TABLE users; --`,
		"event outbox",
	}

	for _, candidate := range invalid {
		require.ErrorIs(t, ValidateIdentifier(candidate), ErrInvalidIdentifier, candidate)
	}

	tooLong := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	require.Len(t, tooLong, 64)
	require.Error(t, ValidateIdentifier(tooLong))
}

func TestValidateIdentifierPath(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateIdentifierPath("public.event_outbox"))
	require.Error(t, ValidateIdentifierPath("public."))
	require.Error(t, ValidateIdentifierPath(`public."outbox"`))
}

func TestQuoteIdentifier(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"event_outbox"`, QuoteIdentifier("event_outbox"))
	assert.Equal(t, `"a""b"`, QuoteIdentifier(`a"b`))
	assert.Equal(t, `"public"."event_outbox"`, QuoteIdentifierPath("public.event_outbox"))
}

func TestWithTx_CommitsAndRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE widgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := WithTx(context.Background(), FixedPrimary{DB: db}, nil, 0, func(tx *sql.Tx) (int64, error) {
		result, execErr := tx.ExecContext(context.Background(), "UPDATE widgets SET n = 1")
		if execErr != nil {
			return 0, execErr
		}

		return RowsAffected(result)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = WithTx(context.Background(), FixedPrimary{DB: db}, nil, 0, func(*sql.Tx) (struct{}, error) {
		return struct{}{}, boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RequiresProvider(t *testing.T) {
	_, err := WithTx(context.Background(), nil, nil, 0, func(*sql.Tx) (int, error) { return 1, nil })
	require.ErrorIs(t, err, ErrConnectionRequired)

	_, err = FixedPrimary{}.Primary(context.Background())
	require.ErrorIs(t, err, ErrNoPrimaryDB)
}
