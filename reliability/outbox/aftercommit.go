package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
)

// ErrAfterCommitRequired is returned when an event emitted inside a
// transaction cannot be enqueued and no AfterCommit queue is attached to ctx.
var ErrAfterCommitRequired = errors.New("direct publish inside a transaction requires an after-commit queue")

type afterCommitKey struct{}

type pendingPublish struct {
	sink     Sink
	stream   string
	envelope event.Envelope
}

// AfterCommit holds direct publishes that must wait for the surrounding
// transaction to commit. The owner of the transaction calls Flush after a
// successful commit and drops the queue otherwise.
type AfterCommit struct {
	mu      sync.Mutex
	pending []pendingPublish
}

// WithAfterCommit attaches a fresh queue to ctx. An inner queue shadows any
// queue already attached by an outer caller.
func WithAfterCommit(ctx context.Context) (context.Context, *AfterCommit) {
	if ctx == nil {
		ctx = context.Background()
	}

	queue := &AfterCommit{}

	return context.WithValue(ctx, afterCommitKey{}, queue), queue
}

func afterCommitFrom(ctx context.Context) *AfterCommit {
	if ctx == nil {
		return nil
	}

	queue, _ := ctx.Value(afterCommitKey{}).(*AfterCommit)

	return queue
}

func (queue *AfterCommit) add(sink Sink, stream string, e event.Envelope) {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	queue.pending = append(queue.pending, pendingPublish{sink: sink, stream: stream, envelope: e})
}

// Len reports how many publishes are waiting.
func (queue *AfterCommit) Len() int {
	if queue == nil {
		return 0
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()

	return len(queue.pending)
}

// Flush publishes every queued event in emit order and empties the queue.
// A failed publish does not stop the rest; failures are joined.
func (queue *AfterCommit) Flush(ctx context.Context) error {
	if queue == nil {
		return nil
	}

	queue.mu.Lock()
	pending := queue.pending
	queue.pending = nil
	queue.mu.Unlock()

	var errs []error

	for _, p := range pending {
		if _, err := p.sink.Publish(ctx, p.stream, p.envelope); err != nil {
			errs = append(errs, fmt.Errorf("publish %s after commit: %w", p.envelope.EventID, err))
		}
	}

	return errors.Join(errs...)
}
