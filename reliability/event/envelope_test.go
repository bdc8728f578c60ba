//go:build unit

package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FillsRequiredFields(t *testing.T) {
	e := New(TypeStoryStepCompleted, "user-1", "",
		WithSession("session-1"),
		WithStory("story-42"),
		WithMeta(map[string]any{"step_index": 2}),
		WithField("action", "user.input"),
	)

	_, err := uuid.Parse(e.EventID)
	require.NoError(t, err)

	_, err = time.Parse(time.RFC3339Nano, e.Timestamp)
	require.NoError(t, err)

	assert.Equal(t, DefaultSourceService, e.SourceService)
	assert.Equal(t, SchemaVersion, e.Version)
	assert.Equal(t, "session-1", e.SessionID)
	assert.Equal(t, "story-42", e.StoryCode)
	assert.Equal(t, 2, e.Metadata["step_index"])
	assert.Equal(t, "user.input", e.Field("action"))
	assert.NoError(t, e.Validate())
}

func TestValidate(t *testing.T) {
	base := New(TypeAASCreated, "", "aas-service")

	tests := []struct {
		name    string
		mutate  func(*Envelope)
		wantErr string
	}{
		{name: "anonymous user is allowed", mutate: func(*Envelope) {}},
		{name: "blank event id", mutate: func(e *Envelope) { e.EventID = "  " }, wantErr: "invalid event: empty field: event_id"},
		{name: "missing type", mutate: func(e *Envelope) { e.EventType = "" }, wantErr: "invalid event: empty field: event_type"},
		{name: "missing timestamp", mutate: func(e *Envelope) { e.Timestamp = "" }, wantErr: "invalid event: empty field: timestamp"},
		{name: "missing source", mutate: func(e *Envelope) { e.SourceService = "" }, wantErr: "invalid event: empty field: source_service"},
		{name: "missing version", mutate: func(e *Envelope) { e.Version = "" }, wantErr: "invalid event: empty field: version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base.Clone()
			tt.mutate(&e)

			err := e.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrInvalidEvent)
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestWithMetadata_DoesNotMutateReceiver(t *testing.T) {
	original := New(TypeGapReported, "user-1", "svc", WithMeta(map[string]any{"a": 1}))

	updated := original.WithMetadata(map[string]any{"replayed_from_dlq": true})

	assert.Equal(t, map[string]any{"a": 1}, original.Metadata)
	assert.Equal(t, true, updated.Metadata["replayed_from_dlq"])
	assert.Equal(t, 1, updated.Metadata["a"])
}

func TestJSONRoundTripKeepsExtraFlat(t *testing.T) {
	e := New(TypeEDCNegotiationCompleted, "user-1", "edc-simulator",
		WithRun("run-9"),
		WithField("negotiation_id", "neg-1"),
	)

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "neg-1", flat["negotiation_id"])
	assert.Equal(t, "run-9", flat["run_id"])
	assert.NotContains(t, flat, "session_id")

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, e.EventID, decoded.EventID)
	assert.Equal(t, "neg-1", decoded.Field("negotiation_id"))
}

func TestFromMap_RejectsNonObjectMetadata(t *testing.T) {
	_, err := FromMap(map[string]any{"event_id": "e1", "metadata": []any{"x"}})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestUnmarshalJSON_Garbage(t *testing.T) {
	var e Envelope
	require.ErrorIs(t, json.Unmarshal([]byte(`"not an object"`), &e), ErrInvalidEvent)
}
