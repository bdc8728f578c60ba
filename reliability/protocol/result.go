package protocol

import "fmt"

// RejectionKind classifies why a transition was refused.
type RejectionKind string

const (
	RejectInvalidTransition RejectionKind = "invalid_transition"
	RejectPolicyDenied      RejectionKind = "policy_denied"
	RejectUnknownAction     RejectionKind = "unknown_action"
	RejectNotFound          RejectionKind = "not_found"
)

// Rejection reports a refused transition. No state was mutated.
type Rejection struct {
	Kind    RejectionKind `json:"kind"`
	Message string        `json:"message"`
	Action  string        `json:"action,omitempty"`
	Current State         `json:"current_state,omitempty"`
	Target  State         `json:"target_state,omitempty"`
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

// Result holds either the updated entity or a rejection.
type Result[T any] struct {
	Value     T
	Rejection *Rejection
}

// Accepted wraps a successful outcome.
func Accepted[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Rejected wraps a refusal.
func Rejected[T any](r Rejection) Result[T] {
	return Result[T]{Rejection: &r}
}

// OK reports whether the transition was applied.
func (r Result[T]) OK() bool {
	return r.Rejection == nil
}
