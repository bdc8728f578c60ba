package consumer

import (
	"context"
	"encoding/json"
	"maps"
	"strconv"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
)

// Dead-letter record fields.
const (
	FieldDLQEvent    = "event"
	FieldDLQError    = "error"
	FieldDLQFailedAt = "failed_at"
)

// deadLetterFields builds the {event, error, failed_at} record. payload is
// the decoded message without transport fields.
func deadLetterFields(payload map[string]any, cause error, now time.Time) map[string]any {
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte("{}")
	}

	var msg string
	if cause != nil {
		msg = outbox.SanitizeErrorMessageForStorage(cause.Error())
	}

	return map[string]any{
		FieldDLQEvent:    string(encoded),
		FieldDLQError:    msg,
		FieldDLQFailedAt: strconv.FormatFloat(float64(now.UnixNano())/1e9, 'f', 6, 64),
	}
}

// messagePayload returns the decoded message with transport fields removed.
func messagePayload(values map[string]any) map[string]any {
	payload := event.DecodeMap(maps.Clone(values))

	for _, key := range []string{
		event.FieldRetry, event.FieldLastError, event.FieldRetryDelaySeconds,
		"traceparent", "tracestate", "baggage",
	} {
		delete(payload, key)
	}

	return payload
}

// DeadLetterPublisher appends raw dead-letter records.
type DeadLetterPublisher interface {
	PublishFields(ctx context.Context, stream string, fields map[string]any) (string, error)
}
