package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
)

// DefaultMaxPayloadBytes caps a single serialized envelope.
const DefaultMaxPayloadBytes = 1 << 20

// Row is one outbox entry. Rows are never deleted; published rows stay as
// an audit trail.
type Row struct {
	ID              int64
	EventID         string
	Stream          string
	Payload         []byte
	Status          Status
	Attempts        int
	AvailableAt     time.Time
	LockedAt        *time.Time
	LastError       string
	StreamMessageID string
	PublishedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewRow validates the envelope and serializes it into a pending row.
func NewRow(stream string, e event.Envelope) (*Row, error) {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return nil, ErrStreamRequired
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}

	if len(payload) > DefaultMaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	now := time.Now().UTC()

	return &Row{
		EventID:     e.EventID,
		Stream:      stream,
		Payload:     payload,
		Status:      StatusPending,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Validate checks a row before insertion.
func (row *Row) Validate() error {
	if row == nil {
		return ErrRowRequired
	}

	if strings.TrimSpace(row.Stream) == "" {
		return ErrStreamRequired
	}

	if len(row.Payload) == 0 {
		return ErrPayloadRequired
	}

	if len(row.Payload) > DefaultMaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	if !json.Valid(row.Payload) {
		return ErrPayloadNotJSON
	}

	return nil
}

// Envelope decodes the stored payload.
func (row *Row) Envelope() (event.Envelope, error) {
	if row == nil {
		return event.Envelope{}, ErrRowRequired
	}

	var e event.Envelope
	if err := json.Unmarshal(row.Payload, &e); err != nil {
		return event.Envelope{}, fmt.Errorf("decode outbox payload: %w", err)
	}

	return e, nil
}
