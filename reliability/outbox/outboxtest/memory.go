// Package outboxtest provides an in-memory outbox repository and a recording
// stream sink for tests in packages that emit events.
package outboxtest

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
)

// MemoryRepository implements outbox.Repository with the same claim and
// transition rules as the Postgres store.
type MemoryRepository struct {
	mu     sync.Mutex
	rows   []*outbox.Row
	nextID int64
	// Now is the repository clock. Tests advance it to age locks.
	Now func() time.Time
	// EnqueueErr, when set, is returned by Enqueue.
	EnqueueErr error
}

var _ outbox.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty repository using the wall clock.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{Now: time.Now}
}

func (repo *MemoryRepository) now() time.Time {
	if repo.Now == nil {
		return time.Now().UTC()
	}

	return repo.Now().UTC()
}

// Enqueue stores row as pending. tx is accepted for contract parity and ignored.
func (repo *MemoryRepository) Enqueue(_ context.Context, _ outbox.Tx, row *outbox.Row) (bool, error) {
	if err := row.Validate(); err != nil {
		return false, err
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	if repo.EnqueueErr != nil {
		return false, repo.EnqueueErr
	}

	for _, existing := range repo.rows {
		if existing.EventID == row.EventID {
			return false, nil
		}
	}

	repo.nextID++

	now := repo.now()
	stored := *row
	stored.ID = repo.nextID
	stored.Status = outbox.StatusPending
	stored.AvailableAt = now
	stored.CreatedAt = now
	stored.UpdatedAt = now
	repo.rows = append(repo.rows, &stored)

	return true, nil
}

// Claim moves due pending rows, and processing rows whose lock is stale, to processing.
func (repo *MemoryRepository) Claim(_ context.Context, limit int, lockTimeout time.Duration) ([]*outbox.Row, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	now := repo.now()
	staleBefore := now.Add(-lockTimeout)

	sort.Slice(repo.rows, func(i, j int) bool { return repo.rows[i].ID < repo.rows[j].ID })

	var claimed []*outbox.Row

	for _, row := range repo.rows {
		if len(claimed) >= limit {
			break
		}

		due := row.Status == outbox.StatusPending && !row.AvailableAt.After(now)
		stale := row.Status == outbox.StatusProcessing && row.LockedAt != nil && row.LockedAt.Before(staleBefore)

		if !due && !stale {
			continue
		}

		lockedAt := now
		row.Status = outbox.StatusProcessing
		row.LockedAt = &lockedAt
		row.UpdatedAt = now

		copied := *row
		claimed = append(claimed, &copied)
	}

	return claimed, nil
}

// MarkPublished finalizes a processing row.
func (repo *MemoryRepository) MarkPublished(_ context.Context, id int64, streamMessageID string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	row, err := repo.processing(id)
	if err != nil {
		return err
	}

	now := repo.now()
	row.Status = outbox.StatusPublished
	row.StreamMessageID = streamMessageID
	row.PublishedAt = &now
	row.LockedAt = nil
	row.LastError = ""
	row.UpdatedAt = now

	return nil
}

// MarkRetry returns a processing row to pending after backoff.
func (repo *MemoryRepository) MarkRetry(_ context.Context, id int64, errMsg string, backoff time.Duration) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	row, err := repo.processing(id)
	if err != nil {
		return err
	}

	now := repo.now()
	row.Status = outbox.StatusPending
	row.Attempts++
	row.AvailableAt = now.Add(backoff)
	row.LockedAt = nil
	row.LastError = outbox.SanitizeErrorMessageForStorage(errMsg)
	row.UpdatedAt = now

	return nil
}

func (repo *MemoryRepository) processing(id int64) (*outbox.Row, error) {
	for _, row := range repo.rows {
		if row.ID != id {
			continue
		}

		if row.Status != outbox.StatusProcessing {
			return nil, outbox.ErrStateTransitionConflict
		}

		return row, nil
	}

	return nil, outbox.ErrStateTransitionConflict
}

// GetByEventID returns a copy of the row for eventID.
func (repo *MemoryRepository) GetByEventID(_ context.Context, eventID string) (*outbox.Row, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, row := range repo.rows {
		if row.EventID == eventID {
			copied := *row
			return &copied, nil
		}
	}

	return nil, outbox.ErrRowNotFound
}

// CountByStatus tallies rows per status.
func (repo *MemoryRepository) CountByStatus(_ context.Context) (outbox.Counts, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var counts outbox.Counts

	for _, row := range repo.rows {
		switch row.Status {
		case outbox.StatusPending:
			counts.Pending++
		case outbox.StatusProcessing:
			counts.Processing++
		case outbox.StatusPublished:
			counts.Published++
		}
	}

	return counts, nil
}

// Rows returns copies of every stored row in id order.
func (repo *MemoryRepository) Rows() []outbox.Row {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	out := make([]outbox.Row, 0, len(repo.rows))
	for _, row := range repo.rows {
		out = append(out, *row)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// ErrSinkDown is the default failure returned by a failing RecordingSink.
var ErrSinkDown = errors.New("stream broker unavailable")

// Published is one envelope received by a RecordingSink.
type Published struct {
	Stream    string
	MessageID string
	Envelope  event.Envelope
}

// RecordingSink implements outbox.Sink and records every publish.
type RecordingSink struct {
	mu        sync.Mutex
	published []Published
	seq       int
	// Fail makes every publish return ErrSinkDown (or FailErr when set).
	Fail    bool
	FailErr error
}

// Publish records e and returns a synthetic message id.
func (sink *RecordingSink) Publish(_ context.Context, stream string, e event.Envelope) (string, error) {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if sink.Fail {
		if sink.FailErr != nil {
			return "", sink.FailErr
		}

		return "", ErrSinkDown
	}

	sink.seq++
	id := strconv.Itoa(sink.seq) + "-0"
	sink.published = append(sink.published, Published{Stream: stream, MessageID: id, Envelope: e})

	return id, nil
}

// Published returns every recorded publish in order.
func (sink *RecordingSink) Published() []Published {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	return append([]Published(nil), sink.published...)
}

// SetFail toggles failure mode.
func (sink *RecordingSink) SetFail(fail bool) {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	sink.Fail = fail
}
