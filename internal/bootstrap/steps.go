package bootstrap

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/protocol"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/steps"
)

// Step actions backed by the local protocol services.
const (
	ActionNegotiate = "edc.negotiate"
	ActionTransfer  = "edc.transfer"
)

// The drivers run inside the step executor's transaction so the protocol
// change commits together with the step receipt.
type negotiationDriver interface {
	CreateTx(ctx context.Context, tx *sql.Tx, in protocol.CreateNegotiation) (*protocol.Negotiation, error)
	TransitionTx(ctx context.Context, tx *sql.Tx, id, action string, in protocol.TransitionInput) (protocol.Result[*protocol.Negotiation], error)
}

type transferDriver interface {
	CreateTx(ctx context.Context, tx *sql.Tx, in protocol.CreateTransfer) (*protocol.Transfer, error)
	TransitionTx(ctx context.Context, tx *sql.Tx, id, action string, in protocol.TransitionInput) (protocol.Result[*protocol.Transfer], error)
}

// protocolStepInput is the step body shared by both protocol actions. With
// an id the action verb is applied, without one the entity is created.
type protocolStepInput struct {
	ID      string `json:"id"`
	Action  string `json:"action"`
	Purpose string `json:"purpose"`
}

// registerProtocolSteps adds the edc.* actions to registry.
func registerProtocolSteps(registry *steps.Registry, negotiations negotiationDriver, transfers transferDriver) error {
	if err := registry.Register(ActionNegotiate, negotiateStep(negotiations)); err != nil {
		return fmt.Errorf("register %s: %w", ActionNegotiate, err)
	}

	if err := registry.Register(ActionTransfer, transferStep(transfers)); err != nil {
		return fmt.Errorf("register %s: %w", ActionTransfer, err)
	}

	return nil
}

func negotiateStep(svc negotiationDriver) steps.HandlerFunc {
	return func(ctx context.Context, params, payload map[string]any, actx steps.ActionContext) (steps.Result, error) {
		body := steps.RequestPayload(params, payload)

		var in protocolStepInput
		if err := decodeInto(body, &in); err != nil {
			return errorResult(err), nil
		}

		if in.ID == "" {
			var create protocol.CreateNegotiation
			if err := decodeInto(body, &create); err != nil {
				return errorResult(err), nil
			}

			create.Actor = actorOf(actx.Request)

			n, err := svc.CreateTx(ctx, actx.Tx, create)
			if err != nil {
				return protocolFailure(err)
			}

			return entityResult(n)
		}

		res, err := svc.TransitionTx(ctx, actx.Tx, in.ID, in.Action, transitionInputOf(in, actx.Request))
		if err != nil {
			return protocolFailure(err)
		}

		if !res.OK() {
			return rejectionResult(res.Rejection), nil
		}

		return entityResult(res.Value)
	}
}

func transferStep(svc transferDriver) steps.HandlerFunc {
	return func(ctx context.Context, params, payload map[string]any, actx steps.ActionContext) (steps.Result, error) {
		body := steps.RequestPayload(params, payload)

		var in protocolStepInput
		if err := decodeInto(body, &in); err != nil {
			return errorResult(err), nil
		}

		if in.ID == "" {
			var create protocol.CreateTransfer
			if err := decodeInto(body, &create); err != nil {
				return errorResult(err), nil
			}

			create.Actor = actorOf(actx.Request)

			t, err := svc.CreateTx(ctx, actx.Tx, create)
			if err != nil {
				return protocolFailure(err)
			}

			return entityResult(t)
		}

		res, err := svc.TransitionTx(ctx, actx.Tx, in.ID, in.Action, transitionInputOf(in, actx.Request))
		if err != nil {
			return protocolFailure(err)
		}

		if !res.OK() {
			return rejectionResult(res.Rejection), nil
		}

		return entityResult(res.Value)
	}
}

func actorOf(req steps.Request) protocol.Actor {
	return protocol.Actor{UserID: req.UserID, SessionID: req.SessionID, RunID: req.RunID}
}

func transitionInputOf(in protocolStepInput, req steps.Request) protocol.TransitionInput {
	return protocol.TransitionInput{Purpose: in.Purpose, UserID: req.UserID, RequestID: req.RequestID}
}

// protocolFailure turns caller mistakes into a stored error result and
// aborts the step on anything else.
func protocolFailure(err error) (steps.Result, error) {
	if errors.Is(err, protocol.ErrInvalidInput) || errors.Is(err, protocol.ErrNotFound) {
		return errorResult(err), nil
	}

	return steps.Result{}, err
}

func errorResult(err error) steps.Result {
	return steps.Result{Status: steps.StatusError, Error: err.Error()}
}

func rejectionResult(r *protocol.Rejection) steps.Result {
	return steps.Result{
		Status: steps.StatusError,
		Error:  r.String(),
		Output: map[string]any{"rejection": string(r.Kind), "current_state": string(r.Current)},
	}
}

func entityResult(entity any) (steps.Result, error) {
	var output map[string]any
	if err := decodeInto(entity, &output); err != nil {
		return steps.Result{}, err
	}

	return steps.Result{Status: steps.StatusSuccess, Output: output}, nil
}

func decodeInto(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode step body: %w", err)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode step body: %w", err)
	}

	return nil
}
