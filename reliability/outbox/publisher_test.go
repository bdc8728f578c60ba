//go:build unit

package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox/outboxtest"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func enqueue(t *testing.T, repo *outboxtest.MemoryRepository, eventType string) event.Envelope {
	t.Helper()

	e := event.New(eventType, "user-1", "simulation-engine")
	row, err := outbox.NewRow("simulation.events", e)
	require.NoError(t, err)

	inserted, err := repo.Enqueue(context.Background(), nil, row)
	require.NoError(t, err)
	require.True(t, inserted)

	return e
}

func newPublisher(t *testing.T, repo outbox.Repository, sink outbox.Sink, opts ...outbox.PublisherOption) *outbox.Publisher {
	t.Helper()

	publisher, err := outbox.NewPublisher(repo, sink, log.NewNop(), nil, opts...)
	require.NoError(t, err)

	return publisher
}

func TestNewPublisher_RequiresDependencies(t *testing.T) {
	_, err := outbox.NewPublisher(nil, &outboxtest.RecordingSink{}, nil, nil)
	require.ErrorIs(t, err, outbox.ErrRepositoryRequired)

	var typedNil *outboxtest.MemoryRepository
	_, err = outbox.NewPublisher(typedNil, &outboxtest.RecordingSink{}, nil, nil)
	require.ErrorIs(t, err, outbox.ErrRepositoryRequired)

	_, err = outbox.NewPublisher(outboxtest.NewMemoryRepository(), nil, nil, nil)
	require.ErrorIs(t, err, outbox.ErrSinkRequired)
}

func TestPublishOnce_PublishesAndMarksRows(t *testing.T) {
	repo := outboxtest.NewMemoryRepository()
	sink := &outboxtest.RecordingSink{}

	first := enqueue(t, repo, event.TypeStoryStepCompleted)
	second := enqueue(t, repo, event.TypeEDCNegotiationCompleted)

	result := newPublisher(t, repo, sink).PublishOnce(context.Background())

	assert.Equal(t, outbox.CycleResult{Claimed: 2, Published: 2}, result)

	published := sink.Published()
	require.Len(t, published, 2)
	assert.Equal(t, first.EventID, published[0].Envelope.EventID)
	assert.Equal(t, second.EventID, published[1].Envelope.EventID)
	assert.Equal(t, "simulation.events", published[0].Stream)

	for _, row := range repo.Rows() {
		assert.Equal(t, outbox.StatusPublished, row.Status)
		assert.NotEmpty(t, row.StreamMessageID)
		assert.Nil(t, row.LockedAt)
	}
}

func TestPublishOnce_FailureReschedulesWithCappedBackoff(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	repo := outboxtest.NewMemoryRepository()
	repo.Now = clk.Now
	sink := &outboxtest.RecordingSink{Fail: true}

	enqueue(t, repo, event.TypeAASCreated)

	publisher := newPublisher(t, repo, sink)

	result := publisher.PublishOnce(context.Background())
	assert.Equal(t, 1, result.Retried)

	row := repo.Rows()[0]
	assert.Equal(t, outbox.StatusPending, row.Status)
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, clk.now.Add(time.Second), row.AvailableAt)
	assert.Contains(t, row.LastError, "stream broker unavailable")

	// Not due yet.
	assert.Equal(t, 0, publisher.PublishOnce(context.Background()).Claimed)

	for range 6 {
		clk.Advance(time.Minute)
		publisher.PublishOnce(context.Background())
	}

	row = repo.Rows()[0]
	assert.Equal(t, 7, row.Attempts)
	assert.Equal(t, clk.now.Add(30*time.Second), row.AvailableAt)

	sink.SetFail(false)
	clk.Advance(time.Minute)

	assert.Equal(t, 1, publisher.PublishOnce(context.Background()).Published)
	assert.Equal(t, outbox.StatusPublished, repo.Rows()[0].Status)
}

func TestPublishOnce_ReclaimsStaleLockAfterCrash(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	repo := outboxtest.NewMemoryRepository()
	repo.Now = clk.Now
	sink := &outboxtest.RecordingSink{}

	e := enqueue(t, repo, event.TypeStoryCompleted)

	// A worker claims the row and crashes before publishing.
	claimed, err := repo.Claim(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	publisher := newPublisher(t, repo, sink, outbox.WithLockTimeout(time.Minute))

	assert.Equal(t, 0, publisher.PublishOnce(context.Background()).Claimed, "lock is still fresh")

	clk.Advance(2 * time.Minute)

	result := publisher.PublishOnce(context.Background())
	assert.Equal(t, 1, result.Published)

	published := sink.Published()
	require.Len(t, published, 1)
	assert.Equal(t, e.EventID, published[0].Envelope.EventID)
}

type failingMarkRepository struct {
	*outboxtest.MemoryRepository
}

func (repo failingMarkRepository) MarkPublished(context.Context, int64, string) error {
	return errors.New("connection reset")
}

func TestPublishOnce_CountsStateUpdateFailures(t *testing.T) {
	repo := failingMarkRepository{outboxtest.NewMemoryRepository()}
	enqueue(t, repo.MemoryRepository, event.TypeGapReported)

	result := newPublisher(t, repo, &outboxtest.RecordingSink{}).PublishOnce(context.Background())

	assert.Equal(t, 1, result.Published)
	assert.Equal(t, 1, result.StateUpdateFailed)
}

func TestRetryDelay(t *testing.T) {
	publisher := newPublisher(t, outboxtest.NewMemoryRepository(), &outboxtest.RecordingSink{})

	assert.Equal(t, time.Second, publisher.RetryDelay(0))
	assert.Equal(t, 16*time.Second, publisher.RetryDelay(4))
	assert.Equal(t, 30*time.Second, publisher.RetryDelay(5))
	assert.Equal(t, 30*time.Second, publisher.RetryDelay(100))
}

func TestRunContext_StopsAndShutsDown(t *testing.T) {
	repo := outboxtest.NewMemoryRepository()
	sink := &outboxtest.RecordingSink{}
	enqueue(t, repo, event.TypeStoryStepCompleted)

	publisher := newPublisher(t, repo, sink, outbox.WithPublishInterval(10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- publisher.RunContext(context.Background(), nil) }()

	require.Eventually(t, func() bool { return len(sink.Published()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, publisher.Shutdown(ctx))
	require.NoError(t, <-done)
}

type signallingRepository struct {
	*outboxtest.MemoryRepository
	claimed chan struct{}
}

func (repo signallingRepository) Claim(ctx context.Context, limit int, lockTimeout time.Duration) ([]*outbox.Row, error) {
	select {
	case repo.claimed <- struct{}{}:
	default:
	}

	return repo.MemoryRepository.Claim(ctx, limit, lockTimeout)
}

func TestRunContext_RejectsConcurrentRun(t *testing.T) {
	repo := signallingRepository{MemoryRepository: outboxtest.NewMemoryRepository(), claimed: make(chan struct{}, 1)}
	publisher := newPublisher(t, repo, &outboxtest.RecordingSink{}, outbox.WithPublishInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- publisher.RunContext(ctx, nil) }()

	select {
	case <-repo.claimed:
	case <-time.After(time.Second):
		t.Fatal("publisher did not run its initial cycle")
	}

	require.ErrorIs(t, publisher.RunContext(ctx, nil), outbox.ErrPublisherRunning)

	cancel()
	require.NoError(t, <-done)
}
