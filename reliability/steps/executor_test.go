//go:build unit

package steps

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox/outboxtest"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
)

type fakeReceipts struct {
	mu       sync.Mutex
	receipts map[Key]Receipt
	locks    []Key
	lockErr  error
	// saveErr fails the next Save only.
	saveErr error
}

func newFakeReceipts() *fakeReceipts {
	return &fakeReceipts{receipts: map[Key]Receipt{}}
}

func (f *fakeReceipts) Lock(_ context.Context, _ outbox.Tx, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.locks = append(f.locks, key)

	return f.lockErr
}

func (f *fakeReceipts) Find(_ context.Context, _ outbox.Tx, key Key) (*Receipt, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.receipts[key]
	if !ok {
		return nil, false, nil
	}

	return &r, true, nil
}

func (f *fakeReceipts) Save(_ context.Context, _ outbox.Tx, r Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.saveErr; err != nil {
		f.saveErr = nil

		return err
	}

	if _, exists := f.receipts[r.Key]; exists {
		return ErrReceiptConflict
	}

	f.receipts[r.Key] = r

	return nil
}

type countingHandler struct {
	mu     sync.Mutex
	calls  int
	result Result
	err    error
}

func (h *countingHandler) Execute(_ context.Context, params, _ map[string]any, _ ActionContext) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls++

	if h.err != nil {
		return Result{}, h.err
	}

	out := h.result
	out.Output = map[string]any{"call": h.calls, "echo": params["value"]}

	return out, nil
}

// writingHandler records a domain row through the executor's transaction.
type writingHandler struct {
	txs []*sql.Tx
}

func (h *writingHandler) Execute(ctx context.Context, _, _ map[string]any, actx ActionContext) (Result, error) {
	if actx.Tx == nil {
		return Result{}, errors.New("no transaction handed to the action")
	}

	h.txs = append(h.txs, actx.Tx)

	if _, err := actx.Tx.ExecContext(ctx, "INSERT INTO passports (id) VALUES ($1)", actx.Request.IdempotencyKey); err != nil {
		return Result{}, err
	}

	return Result{Output: map[string]any{"passport_id": actx.Request.IdempotencyKey}}, nil
}

type fixture struct {
	mock     sqlmock.Sqlmock
	receipts *fakeReceipts
	outbox   *outboxtest.MemoryRepository
	sink     *outboxtest.RecordingSink
	handler  *countingHandler
	writer   *writingHandler
	exec     *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := outboxtest.NewMemoryRepository()
	sink := &outboxtest.RecordingSink{}

	emitter, err := outbox.NewEmitter(repo, sink, nil)
	require.NoError(t, err)

	handler := &countingHandler{}
	writer := &writingHandler{}
	registry := NewRegistry()
	require.NoError(t, registry.Register("create_passport", handler))
	require.NoError(t, registry.Register("store_passport", writer))

	receipts := newFakeReceipts()

	exec, err := NewExecutor(libPostgres.FixedPrimary{DB: db}, receipts, registry, emitter, Config{}, nil)
	require.NoError(t, err)

	return &fixture{
		mock:     mock,
		receipts: receipts,
		outbox:   repo,
		sink:     sink,
		handler:  handler,
		writer:   writer,
		exec:     exec,
	}
}

func (f *fixture) expectTx(n int) {
	for range n {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
	}
}

func request(key string) Request {
	return Request{
		SessionID:      "sess-1",
		StoryCode:      "story-1",
		StepIndex:      2,
		Action:         "create_passport",
		IdempotencyKey: key,
		Params:         map[string]any{"value": "x"},
		UserID:         "user-1",
	}
}

func TestNewExecutor_Validation(t *testing.T) {
	_, err := NewExecutor(nil, newFakeReceipts(), NewRegistry(), &outbox.Emitter{}, Config{}, nil)
	assert.ErrorIs(t, err, ErrDatabaseRequired)

	_, err = NewExecutor(libPostgres.FixedPrimary{}, nil, NewRegistry(), &outbox.Emitter{}, Config{}, nil)
	assert.ErrorIs(t, err, ErrReceiptsRequired)

	_, err = NewExecutor(libPostgres.FixedPrimary{}, newFakeReceipts(), nil, &outbox.Emitter{}, Config{}, nil)
	assert.ErrorIs(t, err, ErrRegistryRequired)

	_, err = NewExecutor(libPostgres.FixedPrimary{}, newFakeReceipts(), NewRegistry(), nil, Config{}, nil)
	assert.ErrorIs(t, err, ErrEmitterRequired)
}

func TestExecute_ValidatesRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec.Execute(context.Background(), Request{StoryCode: "s", Action: "a"})
	assert.ErrorIs(t, err, ErrSessionRequired)

	_, err = f.exec.Execute(context.Background(), Request{SessionID: "s", StoryCode: "s", StepIndex: -1, Action: "a"})
	assert.ErrorIs(t, err, ErrInvalidStepIndex)
}

func TestExecute_SecondCallReplaysReceipt(t *testing.T) {
	f := newFixture(t)
	f.expectTx(2)

	first, err := f.exec.Execute(context.Background(), request("key-1"))
	require.NoError(t, err)
	assert.False(t, first.IdempotentReplay)
	assert.Equal(t, StatusSuccess, first.Status)
	assert.NotEmpty(t, first.EventID)

	second, err := f.exec.Execute(context.Background(), request("key-1"))
	require.NoError(t, err)
	assert.True(t, second.IdempotentReplay)
	assert.Equal(t, first.Result, second.Result)
	assert.Empty(t, second.EventID)

	assert.Equal(t, 1, f.handler.calls)
	assert.Len(t, f.outbox.Rows(), 1)
	assert.Len(t, f.receipts.locks, 2)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestExecute_EmitsStepCompletedEvent(t *testing.T) {
	f := newFixture(t)
	f.expectTx(1)

	_, err := f.exec.Execute(context.Background(), request("key-1"))
	require.NoError(t, err)

	rows := f.outbox.Rows()
	require.Len(t, rows, 1)

	var e event.Envelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &e))

	assert.Equal(t, event.TypeStoryStepCompleted, e.EventType)
	assert.Equal(t, "sess-1", e.SessionID)
	assert.Equal(t, "story-1", e.StoryCode)
	assert.EqualValues(t, 2, e.Field("step_index"))
	assert.Equal(t, "key-1", e.Metadata["idempotency_key"])
}

func TestExecute_WithoutKeyAlwaysRuns(t *testing.T) {
	f := newFixture(t)
	f.expectTx(2)

	for range 2 {
		resp, err := f.exec.Execute(context.Background(), request(""))
		require.NoError(t, err)
		assert.False(t, resp.IdempotentReplay)
	}

	assert.Equal(t, 2, f.handler.calls)
	assert.Empty(t, f.receipts.receipts)
	assert.Empty(t, f.receipts.locks)
	assert.Len(t, f.outbox.Rows(), 2)
}

func TestExecute_UnknownActionStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.expectTx(1)

	req := request("key-1")
	req.Action = "launch_rocket"

	resp, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatusUnknownAction, resp.Status)
	assert.Empty(t, f.receipts.receipts)
	assert.Empty(t, f.outbox.Rows())
}

func TestExecute_ErrorStatusStoresReceiptWithoutEvent(t *testing.T) {
	f := newFixture(t)
	f.handler.result = Result{Status: StatusError, Error: "validation failed"}
	f.expectTx(1)

	resp, err := f.exec.Execute(context.Background(), request("key-1"))
	require.NoError(t, err)

	assert.Equal(t, StatusError, resp.Status)
	assert.Len(t, f.receipts.receipts, 1)
	assert.Empty(t, f.outbox.Rows())
}

func TestExecute_HandlerErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	f.handler.err = errors.New("aas backend down")

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.exec.Execute(context.Background(), request("key-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aas backend down")
	assert.Empty(t, f.receipts.receipts)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestExecute_LockFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.receipts.lockErr = errors.New("lock timeout")

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.exec.Execute(context.Background(), request("key-1"))
	require.Error(t, err)
	assert.Zero(t, f.handler.calls)
}

func TestExecute_ReceiptFailureRollsBackActionWrites(t *testing.T) {
	f := newFixture(t)
	f.receipts.saveErr = errors.New("receipt insert failed")

	req := request("k1")
	req.Action = "store_passport"

	insert := regexp.QuoteMeta("INSERT INTO passports (id) VALUES ($1)")

	f.mock.ExpectBegin()
	f.mock.ExpectExec(insert).WithArgs("k1").WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectRollback()

	_, err := f.exec.Execute(context.Background(), req)
	require.ErrorContains(t, err, "receipt insert failed")
	assert.Empty(t, f.receipts.receipts)

	f.mock.ExpectBegin()
	f.mock.ExpectExec(insert).WithArgs("k1").WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectCommit()

	resp, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	replay, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, replay.IdempotentReplay)

	// The first write went down with its transaction; only the retry committed.
	require.Len(t, f.writer.txs, 2)
	assert.NotSame(t, f.writer.txs[0], f.writer.txs[1])
	assert.Len(t, f.receipts.receipts, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestExecute_CommitFailurePublishesNothing(t *testing.T) {
	f := newFixture(t)
	f.outbox.EnqueueErr = outbox.ErrStoreUnavailable

	f.mock.ExpectBegin()
	f.mock.ExpectCommit().WillReturnError(errors.New("could not serialize access"))

	_, err := f.exec.Execute(context.Background(), request("key-1"))
	require.Error(t, err)
	assert.Empty(t, f.sink.Published())

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	resp, err := f.exec.Execute(context.Background(), request("key-2"))
	require.NoError(t, err)
	require.Len(t, f.sink.Published(), 1)
	assert.Equal(t, resp.EventID, f.sink.Published()[0].Envelope.EventID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.ErrorIs(t, r.Register(" ", &countingHandler{}), ErrActionRequired)
	require.ErrorIs(t, r.Register("a", nil), ErrHandlerRequired)
	require.NoError(t, r.Register("Create", &countingHandler{}))
	require.ErrorIs(t, r.Register("create", &countingHandler{}), ErrDuplicateAction)

	_, ok := r.Resolve(" CREATE ")
	assert.True(t, ok)
	assert.Equal(t, []string{"create"}, r.Actions())
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "s:story:3:k", Key{SessionID: "s", StoryCode: "story", StepIndex: 3, IdempotencyKey: "k"}.String())
}
