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
	"github.com/bxcodec/dbresolver/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/policy"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/protocol"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, libPostgres.FixedResolver) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db, mock, libPostgres.FixedResolver{DB: dbresolver.New(dbresolver.WithPrimaryDBs(db), dbresolver.WithReplicaDBs(db))}
}

func beginTx(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock) *sql.Tx {
	t.Helper()

	mock.ExpectBegin()

	tx, err := db.Begin()
	require.NoError(t, err)

	return tx
}

func sampleNegotiation() *protocol.Negotiation {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	return &protocol.Negotiation{
		ID:         "neg-1",
		Lifecycle:  protocol.NegotiationMachine.Start(now),
		ConsumerID: "consumer",
		ProviderID: "provider",
		AssetID:    "asset-1",
		Policy:     policy.Policy{"permission": []any{map[string]any{"action": "use"}}},
		Actor:      protocol.Actor{UserID: "user-1", SessionID: "sess-1"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestNewRepository_Validation(t *testing.T) {
	_, err := NewNegotiationRepository(nil)
	require.ErrorIs(t, err, libPostgres.ErrConnectionRequired)

	_, err = NewTransferRepository(libPostgres.FixedResolver{}, WithTableName("edc transfers"))
	require.ErrorIs(t, err, libPostgres.ErrInvalidIdentifier)

	repo, err := NewTransferRepository(libPostgres.FixedResolver{}, WithTableName(" "))
	require.NoError(t, err)
	assert.Equal(t, DefaultTransferTable, repo.tableName)
}

func TestInsert_RequiresTx(t *testing.T) {
	_, _, resolver := newMock(t)

	repo, err := NewNegotiationRepository(resolver)
	require.NoError(t, err)

	assert.ErrorIs(t, repo.Insert(context.Background(), nil, sampleNegotiation()), outbox.ErrTransactionRequired)
}

func TestInsert_WritesAllColumns(t *testing.T) {
	db, mock, resolver := newMock(t)

	repo, err := NewNegotiationRepository(resolver)
	require.NoError(t, err)

	n := sampleNegotiation()
	tx := beginTx(t, db, mock)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "edc_negotiations" (id, current_state, state_history, consumer_id`)).
		WithArgs("neg-1", "INITIAL", sqlmock.AnyArg(), "consumer", "provider", "asset-1",
			[]byte(`{"permission":[{"action":"use"}]}`), "user-1", "sess-1", nil, n.CreatedAt, n.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Insert(context.Background(), tx, n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetForUpdate_LocksAndDecodes(t *testing.T) {
	db, mock, resolver := newMock(t)

	repo, err := NewNegotiationRepository(resolver)
	require.NoError(t, err)

	tx := beginTx(t, db, mock)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(negotiationMapping.columns).AddRow(
		"neg-1", "REQUESTING", []byte(`[{"state":"INITIAL","timestamp":"2026-02-01T10:00:00Z"},{"state":"REQUESTING","timestamp":"2026-02-01T10:00:01Z"}]`),
		"consumer", "provider", "asset-1", []byte(`{}`), "user-1", nil, "run-1", now, now,
	)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "edc_negotiations" WHERE id = $1 FOR UPDATE`)).
		WithArgs("neg-1").
		WillReturnRows(rows)

	n, err := repo.GetForUpdate(context.Background(), tx, "neg-1")
	require.NoError(t, err)

	assert.Equal(t, protocol.NegotiationRequesting, n.CurrentState)
	require.Len(t, n.StateHistory, 2)
	assert.Equal(t, n.CurrentState, n.StateHistory[1].State)
	assert.Empty(t, n.SessionID)
	assert.Equal(t, "run-1", n.RunID)
	assert.NotNil(t, n.Policy)
}

func TestGet_NotFound(t *testing.T) {
	_, mock, resolver := newMock(t)

	repo, err := NewTransferRepository(resolver)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "edc_transfers" WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(transferMapping.columns))

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestGet_WrapsQueryErrors(t *testing.T) {
	_, mock, resolver := newMock(t)

	repo, err := NewTransferRepository(resolver)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "edc_transfers"`)).
		WillReturnError(errors.New("replica down"))

	_, err = repo.Get(context.Background(), "t-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, protocol.ErrNotFound))
	assert.Contains(t, err.Error(), "replica down")
}

func TestSave_UpdatesLifecycle(t *testing.T) {
	db, mock, resolver := newMock(t)

	repo, err := NewNegotiationRepository(resolver)
	require.NoError(t, err)

	n := sampleNegotiation()
	require.NoError(t, protocol.NegotiationMachine.Apply(&n.Lifecycle, protocol.NegotiationRequesting, n.UpdatedAt))

	tx := beginTx(t, db, mock)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "edc_negotiations" SET current_state = $1, state_history = $2, updated_at = $3 WHERE id = $4`)).
		WithArgs("REQUESTING", sqlmock.AnyArg(), n.UpdatedAt, "neg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), tx, n))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "edc_negotiations"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Save(context.Background(), tx, n), protocol.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferMapping_DefaultsEmptyDestination(t *testing.T) {
	values, err := transferMapping.values(&protocol.Transfer{ID: "t-1", NegotiationID: "n", AssetID: "a"})
	require.NoError(t, err)

	assert.Equal(t, []byte("[]"), values[2])
	assert.Equal(t, []byte("{}"), values[5])
	assert.Nil(t, values[7])
}
