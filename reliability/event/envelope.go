package event

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical event record. It is treated as immutable: the
// With* helpers return modified copies and never touch the receiver.
type Envelope struct {
	EventID       string
	EventType     string
	UserID        string
	Timestamp     string
	SourceService string
	Version       string

	SessionID string
	RunID     string
	RequestID string
	StoryCode string

	Metadata map[string]any
	// Extra carries type-specific top-level fields, such as negotiation_id.
	Extra map[string]any
}

// Option customizes an envelope built by New.
type Option func(*Envelope)

// WithEventID overrides the generated event id.
func WithEventID(id string) Option {
	return func(e *Envelope) { e.EventID = id }
}

// WithSession sets session_id.
func WithSession(sessionID string) Option {
	return func(e *Envelope) { e.SessionID = sessionID }
}

// WithRun sets run_id.
func WithRun(runID string) Option {
	return func(e *Envelope) { e.RunID = runID }
}

// WithRequest sets request_id.
func WithRequest(requestID string) Option {
	return func(e *Envelope) { e.RequestID = requestID }
}

// WithStory sets story_code.
func WithStory(code string) Option {
	return func(e *Envelope) { e.StoryCode = code }
}

// WithMeta sets the metadata map. The map is copied.
func WithMeta(metadata map[string]any) Option {
	return func(e *Envelope) { e.Metadata = maps.Clone(metadata) }
}

// WithField sets a type-specific top-level field.
func WithField(key string, value any) Option {
	return func(e *Envelope) {
		if e.Extra == nil {
			e.Extra = map[string]any{}
		}

		e.Extra[key] = value
	}
}

// New builds a version 1 envelope with a fresh uuid and a UTC timestamp.
func New(eventType, userID, sourceService string, opts ...Option) Envelope {
	if strings.TrimSpace(sourceService) == "" {
		sourceService = DefaultSourceService
	}

	e := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		UserID:        userID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		SourceService: sourceService,
		Version:       SchemaVersion,
		Metadata:      map[string]any{},
	}

	for _, opt := range opts {
		opt(&e)
	}

	return e
}

// Validate checks the required fields. user_id may be empty for anonymous
// actors but the remaining required strings must not be blank.
func (e Envelope) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"event_id", e.EventID},
		{"event_type", e.EventType},
		{"timestamp", e.Timestamp},
		{"source_service", e.SourceService},
		{"version", e.Version},
	}

	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%w: empty field: %s", ErrInvalidEvent, field.name)
		}
	}

	return nil
}

// Clone returns a deep-enough copy: maps are copied, nested values are shared.
func (e Envelope) Clone() Envelope {
	out := e
	out.Metadata = maps.Clone(e.Metadata)
	out.Extra = maps.Clone(e.Extra)

	return out
}

// WithMetadata returns a copy with the given metadata keys merged in.
func (e Envelope) WithMetadata(values map[string]any) Envelope {
	out := e.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, len(values))
	}

	maps.Copy(out.Metadata, values)

	return out
}

// Field returns a type-specific field, the zero value when absent.
func (e Envelope) Field(key string) any {
	return e.Extra[key]
}

var reservedKeys = map[string]struct{}{
	"event_id": {}, "event_type": {}, "user_id": {}, "timestamp": {},
	"source_service": {}, "version": {}, "session_id": {}, "run_id": {},
	"request_id": {}, "story_code": {}, "metadata": {},
}

// Map renders the envelope as the flat JSON object used in outbox payloads
// and dead-letter records. Optional fields are omitted when empty.
func (e Envelope) Map() map[string]any {
	out := make(map[string]any, len(e.Extra)+11)

	for k, v := range e.Extra {
		if _, reserved := reservedKeys[k]; !reserved {
			out[k] = v
		}
	}

	out["event_id"] = e.EventID
	out["event_type"] = e.EventType
	out["user_id"] = e.UserID
	out["timestamp"] = e.Timestamp
	out["source_service"] = e.SourceService
	out["version"] = e.Version

	setIfNotEmpty(out, "session_id", e.SessionID)
	setIfNotEmpty(out, "run_id", e.RunID)
	setIfNotEmpty(out, "request_id", e.RequestID)
	setIfNotEmpty(out, "story_code", e.StoryCode)

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	out["metadata"] = metadata

	return out
}

func setIfNotEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// FromMap builds an envelope from a decoded JSON object. Unknown keys land
// in Extra. Non-string values in string fields are rendered with %v.
func FromMap(m map[string]any) (Envelope, error) {
	e := Envelope{
		EventID:       stringValue(m["event_id"]),
		EventType:     stringValue(m["event_type"]),
		UserID:        stringValue(m["user_id"]),
		Timestamp:     stringValue(m["timestamp"]),
		SourceService: stringValue(m["source_service"]),
		Version:       stringValue(m["version"]),
		SessionID:     stringValue(m["session_id"]),
		RunID:         stringValue(m["run_id"]),
		RequestID:     stringValue(m["request_id"]),
		StoryCode:     stringValue(m["story_code"]),
	}

	if e.Version == "" {
		e.Version = SchemaVersion
	}

	switch meta := m["metadata"].(type) {
	case nil:
		e.Metadata = map[string]any{}
	case map[string]any:
		e.Metadata = maps.Clone(meta)
	default:
		return Envelope{}, fmt.Errorf("%w: metadata must be an object", ErrInvalidEvent)
	}

	for k, v := range m {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}

		if e.Extra == nil {
			e.Extra = map[string]any{}
		}

		e.Extra[k] = v
	}

	return e, nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// MarshalJSON encodes the flat object produced by Map.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}

// UnmarshalJSON decodes a flat envelope object.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	decoded, err := FromMap(raw)
	if err != nil {
		return err
	}

	*e = decoded

	return nil
}
