//go:build unit

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/steps"
)

var testKey = steps.Key{SessionID: "sess-1", StoryCode: "story-1", StepIndex: 2, IdempotencyKey: "key-1"}

func newTx(t *testing.T) (*sql.Tx, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()

	tx, err := db.Begin()
	require.NoError(t, err)

	return tx, mock
}

func TestNewReceiptRepository(t *testing.T) {
	repo, err := NewReceiptRepository()
	require.NoError(t, err)
	assert.Equal(t, DefaultTableName, repo.tableName)

	repo, err = NewReceiptRepository(WithTableName("sim.receipts"))
	require.NoError(t, err)
	assert.Equal(t, `"sim"."receipts"`, repo.table())

	_, err = NewReceiptRepository(WithTableName("bad table"))
	assert.ErrorIs(t, err, libPostgres.ErrInvalidIdentifier)
}

func TestRequiresTx(t *testing.T) {
	repo, err := NewReceiptRepository()
	require.NoError(t, err)

	ctx := context.Background()

	assert.ErrorIs(t, repo.Lock(ctx, nil, testKey), outbox.ErrTransactionRequired)

	_, _, err = repo.Find(ctx, nil, testKey)
	assert.ErrorIs(t, err, outbox.ErrTransactionRequired)
	assert.ErrorIs(t, repo.Save(ctx, nil, steps.Receipt{}), outbox.ErrTransactionRequired)
}

func TestLock(t *testing.T) {
	repo, err := NewReceiptRepository()
	require.NoError(t, err)

	tx, mock := newTx(t)

	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("sess-1:story-1:2:key-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Lock(context.Background(), tx, testKey))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFind(t *testing.T) {
	repo, err := NewReceiptRepository()
	require.NoError(t, err)

	tx, mock := newTx(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "story_step_receipts" WHERE session_id = $1 AND story_code = $2 AND step_index = $3 AND idempotency_key = $4 FOR UPDATE`)).
		WithArgs("sess-1", "story-1", 2, "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"action", "result", "created_at"}).
			AddRow("create_passport", []byte(`{"status":"success","output":{"id":"p-1"}}`), created))

	receipt, found, err := repo.Find(context.Background(), tx, testKey)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, "create_passport", receipt.Action)
	assert.Equal(t, steps.StatusSuccess, receipt.Result.Status)
	assert.Equal(t, "p-1", receipt.Result.Output["id"])
	assert.Equal(t, created, receipt.CreatedAt)
	assert.Equal(t, testKey, receipt.Key)
}

func TestFind_Missing(t *testing.T) {
	repo, err := NewReceiptRepository()
	require.NoError(t, err)

	tx, mock := newTx(t)

	mock.ExpectQuery("FROM").WillReturnError(sql.ErrNoRows)

	receipt, found, err := repo.Find(context.Background(), tx, testKey)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, receipt)
}

func TestFind_QueryError(t *testing.T) {
	repo, err := NewReceiptRepository()
	require.NoError(t, err)

	tx, mock := newTx(t)

	mock.ExpectQuery("FROM").WillReturnError(errors.New("connection reset"))

	_, _, err = repo.Find(context.Background(), tx, testKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSave(t *testing.T) {
	repo, err := NewReceiptRepository()
	require.NoError(t, err)

	tx, mock := newTx(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "story_step_receipts" (session_id, story_code, step_index, idempotency_key, action, result, created_at)`)).
		WithArgs("sess-1", "story-1", 2, "key-1", "create_passport", []byte(`{"status":"success"}`), created).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.Save(context.Background(), tx, steps.Receipt{
		Key:       testKey,
		Action:    "create_passport",
		Result:    steps.Result{Status: steps.StatusSuccess},
		CreatedAt: created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_Conflict(t *testing.T) {
	repo, err := NewReceiptRepository()
	require.NoError(t, err)

	tx, mock := newTx(t)

	mock.ExpectExec("ON CONFLICT").WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Save(context.Background(), tx, steps.Receipt{Key: testKey, Action: "a"})
	assert.ErrorIs(t, err, steps.ErrReceiptConflict)
}
