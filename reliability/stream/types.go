package stream

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
)

// Publisher appends an envelope to a stream and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, stream string, e event.Envelope) (string, error)
}

// ClientProvider hands out a live Redis client. *redis.Client from the
// reliability/redis package satisfies it.
type ClientProvider interface {
	GetClient(ctx context.Context) (redis.UniversalClient, error)
}

// FixedClient adapts an already connected go-redis client.
type FixedClient struct {
	Client redis.UniversalClient
}

// GetClient returns the wrapped client.
func (f FixedClient) GetClient(context.Context) (redis.UniversalClient, error) {
	if f.Client == nil {
		return nil, ErrClientRequired
	}

	return f.Client, nil
}

// Message is one stream entry.
type Message struct {
	ID     string
	Values map[string]any
}

// Time returns when the server appended the entry, read from the
// millisecond part of its "<ms>-<seq>" id.
func (m Message) Time() (time.Time, bool) {
	ms, _, _ := strings.Cut(m.ID, "-")

	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, false
	}

	return time.UnixMilli(n), true
}

// ReadRequest describes one XREADGROUP call.
type ReadRequest struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	// Block is the server-side wait. Zero or negative means return at once.
	Block time.Duration
	// Backlog reads this consumer's delivered but unacknowledged entries
	// instead of new ones.
	Backlog bool
}

// PendingEntry is one delivered but unacknowledged message of a group.
type PendingEntry struct {
	ID         string        `json:"message_id"`
	Consumer   string        `json:"consumer"`
	Idle       time.Duration `json:"-"`
	IdleMS     int64         `json:"idle_ms"`
	Deliveries int64         `json:"deliveries"`
}

func toMessages(in []redis.XMessage) []Message {
	out := make([]Message, 0, len(in))

	for _, msg := range in {
		out = append(out, Message{ID: msg.ID, Values: msg.Values})
	}

	return out
}
