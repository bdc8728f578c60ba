//go:build unit

package consumer_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/stream"
)

var errBrokerDown = errors.New("broker down")

type publishedFields struct {
	Stream string
	Fields map[string]any
}

// fakeBroker records publishes and acks. failStreams makes publishes to the
// named streams fail.
type fakeBroker struct {
	mu          sync.Mutex
	published   []publishedFields
	acked       []string
	failStreams map[string]bool
	batches     [][]stream.Message
	reads       []stream.ReadRequest
	seq         int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{failStreams: map[string]bool{}}
}

func (b *fakeBroker) failStream(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failStreams[name] = true
}

func (b *fakeBroker) EnsureGroup(context.Context, string, string) error {
	return nil
}

func (b *fakeBroker) ReadGroup(ctx context.Context, req stream.ReadRequest) ([]stream.Message, error) {
	b.mu.Lock()

	b.reads = append(b.reads, req)

	if len(b.batches) == 0 {
		b.mu.Unlock()

		if !req.Backlog {
			select {
			case <-ctx.Done():
			case <-time.After(req.Block):
			}
		}

		return nil, nil
	}

	batch := b.batches[0]
	b.batches = b.batches[1:]
	b.mu.Unlock()

	return batch, nil
}

func (b *fakeBroker) Ack(_ context.Context, _, _ string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.acked = append(b.acked, ids...)

	return nil
}

func (b *fakeBroker) PublishDelivery(ctx context.Context, name string, e event.Envelope, d event.Delivery) (string, error) {
	fields, err := event.Encode(e, d)
	if err != nil {
		return "", err
	}

	return b.PublishFields(ctx, name, fields)
}

func (b *fakeBroker) PublishFields(_ context.Context, name string, fields map[string]any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failStreams[name] {
		return "", errBrokerDown
	}

	b.seq++
	b.published = append(b.published, publishedFields{Stream: name, Fields: fields})

	return strconv.Itoa(b.seq) + "-0", nil
}

func (b *fakeBroker) publishedTo(name string) []publishedFields {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []publishedFields

	for _, p := range b.published {
		if p.Stream == name {
			out = append(out, p)
		}
	}

	return out
}

func (b *fakeBroker) ackedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.acked...)
}

func message(id string, e event.Envelope, d event.Delivery) stream.Message {
	fields, err := event.Encode(e, d)
	if err != nil {
		panic(err)
	}

	return stream.Message{ID: id, Values: fields}
}
