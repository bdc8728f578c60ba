package eventlog

import (
	"context"
	"errors"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/stream"
)

var (
	ErrPublisherRequired = errors.New("stream publisher is required")
	ErrMirrorRequired    = errors.New("event log mirror is required")
)

// Mirror stores the outcome of a publish attempt. *Store satisfies it.
type Mirror interface {
	Upsert(ctx context.Context, stream string, e event.Envelope, messageID string, publishErr error) error
}

// MirroredPublisher publishes through next and records every attempt in the
// mirror. Mirror failures are logged and never change the publish result.
type MirroredPublisher struct {
	next   stream.Publisher
	mirror Mirror
	logger libLog.Logger
}

var _ stream.Publisher = (*MirroredPublisher)(nil)

// NewMirroredPublisher wraps next.
func NewMirroredPublisher(next stream.Publisher, mirror Mirror, logger libLog.Logger) (*MirroredPublisher, error) {
	if nilcheck.Interface(next) {
		return nil, ErrPublisherRequired
	}

	if nilcheck.Interface(mirror) {
		return nil, ErrMirrorRequired
	}

	logger = libLog.OrNop(logger)

	return &MirroredPublisher{next: next, mirror: mirror, logger: logger}, nil
}

// Publish implements stream.Publisher.
func (p *MirroredPublisher) Publish(ctx context.Context, streamName string, e event.Envelope) (string, error) {
	id, err := p.next.Publish(ctx, streamName, e)

	if mirrorErr := p.mirror.Upsert(ctx, streamName, e, id, err); mirrorErr != nil {
		p.logger.Log(ctx, libLog.LevelWarn, "event log mirror failed",
			libLog.EventID(e.EventID),
			libLog.Stream(streamName),
			libLog.Err(mirrorErr),
		)
	}

	return id, err
}
