package steps

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Result statuses.
const (
	StatusSuccess       = "success"
	StatusError         = "error"
	StatusUnknownAction = "unknown_action"
)

// Key identifies one receipt.
type Key struct {
	SessionID      string
	StoryCode      string
	StepIndex      int
	IdempotencyKey string
}

// String renders the key for advisory locking.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d:%s", k.SessionID, k.StoryCode, k.StepIndex, k.IdempotencyKey)
}

// Request is one step execution.
type Request struct {
	SessionID string
	StoryCode string
	StepIndex int
	Action    string
	// IdempotencyKey enables receipt lookup. Empty means execute every time.
	IdempotencyKey string
	Params         map[string]any
	Payload        map[string]any

	UserID    string
	RunID     string
	RequestID string
}

// Key returns the receipt key of r.
func (r Request) Key() Key {
	return Key{
		SessionID:      r.SessionID,
		StoryCode:      r.StoryCode,
		StepIndex:      r.StepIndex,
		IdempotencyKey: r.IdempotencyKey,
	}
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.SessionID) == "":
		return ErrSessionRequired
	case strings.TrimSpace(r.StoryCode) == "":
		return ErrStoryRequired
	case r.StepIndex < 0:
		return ErrInvalidStepIndex
	case strings.TrimSpace(r.Action) == "":
		return ErrActionRequired
	}

	return nil
}

// Result is what an action produced.
type Result struct {
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (r Result) failed() bool {
	return r.Status == StatusError || r.Status == StatusUnknownAction
}

// Response is the executor's answer.
type Response struct {
	Result
	Action           string `json:"action"`
	IdempotentReplay bool   `json:"idempotent_replay"`
	// EventID is the emitted story_step_completed event, when any.
	EventID string `json:"event_id,omitempty"`
}

// Receipt is a stored step outcome.
type Receipt struct {
	Key       Key
	Action    string
	Result    Result
	CreatedAt time.Time
}

// ActionContext is handed to a handler.
type ActionContext struct {
	Request Request
	// Tx is the executor's open transaction. Handlers that write must use it
	// so their changes commit or roll back together with the receipt.
	Tx *sql.Tx
}

// Handler runs one action. A returned error aborts the execution without
// storing a receipt.
type Handler interface {
	Execute(ctx context.Context, params, payload map[string]any, actx ActionContext) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params, payload map[string]any, actx ActionContext) (Result, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, params, payload map[string]any, actx ActionContext) (Result, error) {
	return f(ctx, params, payload, actx)
}
