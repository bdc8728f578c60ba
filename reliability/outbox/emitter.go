package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

// EmitResult reports how an event left the emitter.
type EmitResult struct {
	EventID string
	// Durable is true when the event was enqueued in the outbox.
	Durable bool
	// Inserted is false when the event_id was already enqueued.
	Inserted bool
	// StreamMessageID is set when the event was published directly.
	StreamMessageID string
	// Deferred is true when the direct publish waits on the ctx AfterCommit queue.
	Deferred bool
}

// Emitter is the single entry point producers use to emit events.
//
// With a store and a transaction the event is enqueued in that transaction.
// Without a store, without a transaction, or when the store reports
// ErrStoreUnavailable, the event is published straight to the stream. That
// degraded path is not durable and loses the event if the broker is down.
//
// A direct publish for an event emitted inside a transaction is never sent
// before commit: it is queued on the AfterCommit attached to ctx, and Emit
// fails with ErrAfterCommitRequired when there is none.
type Emitter struct {
	store  Repository
	sink   Sink
	logger libLog.Logger
}

// NewEmitter builds an emitter. store may be nil for direct-publish only.
func NewEmitter(store Repository, sink Sink, logger libLog.Logger) (*Emitter, error) {
	if nilcheck.Interface(sink) {
		return nil, ErrSinkRequired
	}

	logger = libLog.OrNop(logger)

	if nilcheck.Interface(store) {
		store = nil
	}

	return &Emitter{store: store, sink: sink, logger: logger}, nil
}

// Emit records e for delivery on stream.
func (emitter *Emitter) Emit(ctx context.Context, tx Tx, stream string, e event.Envelope) (EmitResult, error) {
	if emitter == nil {
		return EmitResult{}, ErrSinkRequired
	}

	row, err := NewRow(stream, e)
	if err != nil {
		return EmitResult{}, err
	}

	result := EmitResult{EventID: e.EventID}

	if emitter.store != nil && tx != nil {
		inserted, enqueueErr := emitter.store.Enqueue(ctx, tx, row)
		if enqueueErr == nil {
			result.Durable = true
			result.Inserted = inserted

			return result, nil
		}

		if !errors.Is(enqueueErr, ErrStoreUnavailable) {
			return EmitResult{}, fmt.Errorf("enqueue outbox row: %w", enqueueErr)
		}

		emitter.logger.Log(ctx, libLog.LevelWarn, "outbox store unavailable; publishing directly after commit",
			libLog.EventID(e.EventID),
			libLog.String("event_type", e.EventType),
			libLog.String("error", sanitizeErrorForStorage(enqueueErr)),
		)
	} else {
		emitter.logger.Log(ctx, libLog.LevelWarn, "publishing event without outbox; delivery is not durable",
			libLog.EventID(e.EventID),
			libLog.String("event_type", e.EventType),
			libLog.Bool("has_store", emitter.store != nil),
			libLog.Bool("has_tx", tx != nil),
		)
	}

	if tx != nil {
		queue := afterCommitFrom(ctx)
		if queue == nil {
			return EmitResult{}, ErrAfterCommitRequired
		}

		queue.add(emitter.sink, row.Stream, e)

		result.Inserted = true
		result.Deferred = true

		return result, nil
	}

	messageID, err := emitter.sink.Publish(ctx, row.Stream, e)
	if err != nil {
		return EmitResult{}, fmt.Errorf("direct publish: %w", err)
	}

	result.Inserted = true
	result.StreamMessageID = messageID

	return result, nil
}
