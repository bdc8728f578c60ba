package http

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/dlq"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/eventlog"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/protocol"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/steps"
)

// HeaderIdempotencyKey enables step receipts.
const HeaderIdempotencyKey = "Idempotency-Key"

// StreamAdmin is satisfied by *dlq.Admin.
type StreamAdmin interface {
	Status(ctx context.Context) dlq.StatusReport
	Pending(ctx context.Context, limit int) dlq.PendingReport
	List(ctx context.Context, limit, offset int) (dlq.Page, error)
	Replay(ctx context.Context, req dlq.ReplayRequest) (dlq.ReplayReport, error)
	Trim(ctx context.Context) dlq.TrimReport
}

// RuleInvalidator is satisfied by *rules.Cache.
type RuleInvalidator interface {
	Invalidate()
}

// NegotiationAPI is satisfied by *protocol.NegotiationService.
type NegotiationAPI interface {
	Create(ctx context.Context, in protocol.CreateNegotiation) (*protocol.Negotiation, error)
	Get(ctx context.Context, id string) (*protocol.Negotiation, error)
	Transition(ctx context.Context, id, action string, in protocol.TransitionInput) (protocol.Result[*protocol.Negotiation], error)
}

// TransferAPI is satisfied by *protocol.TransferService.
type TransferAPI interface {
	Create(ctx context.Context, in protocol.CreateTransfer) (*protocol.Transfer, error)
	Get(ctx context.Context, id string) (*protocol.Transfer, error)
	Transition(ctx context.Context, id, action string, in protocol.TransitionInput) (protocol.Result[*protocol.Transfer], error)
}

// StepExecutor is satisfied by *steps.Executor.
type StepExecutor interface {
	Execute(ctx context.Context, req steps.Request) (steps.Response, error)
}

// EventLog is satisfied by *eventlog.Store.
type EventLog interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]eventlog.Record, error)
	ListByRun(ctx context.Context, runID string, limit int) ([]eventlog.Record, error)
}

// Handlers groups the mounted surfaces. Nil members are not routed.
type Handlers struct {
	Streams      StreamAdmin
	Rules        RuleInvalidator
	Negotiations NegotiationAPI
	Transfers    TransferAPI
	Steps        StepExecutor
	Events       EventLog
	Health       map[string]HealthCheck
}

// Register mounts every configured route on router.
func Register(router fiber.Router, h Handlers) {
	router.Get("/health", Health(h.Health))

	if h.Streams != nil {
		admin := router.Group("/admin")
		admin.Get("/stream-status", streamStatus(h.Streams))
		admin.Get("/stream/pending", streamPending(h.Streams))
		admin.Get("/stream/dlq", listDeadLetters(h.Streams))
		admin.Post("/stream/dlq/replay", replayDeadLetters(h.Streams))
		admin.Post("/stream/trim", trimStreams(h.Streams))
	}

	if h.Rules != nil {
		router.Post("/admin/rules/invalidate", invalidateRules(h.Rules))
	}

	if h.Negotiations != nil {
		router.Post("/negotiations", createEntity(h.Negotiations.Create))
		router.Get("/negotiations/:id", getEntity(h.Negotiations.Get))
		router.Post("/negotiations/:id/:action", transitionEntity(h.Negotiations.Transition))
	}

	if h.Transfers != nil {
		router.Post("/transfers", createEntity(h.Transfers.Create))
		router.Get("/transfers/:id", getEntity(h.Transfers.Get))
		router.Post("/transfers/:id/:action", transitionEntity(h.Transfers.Transition))
	}

	if h.Steps != nil {
		router.Post("/sessions/:session_id/stories/:code/steps/:idx/execute", executeStep(h.Steps))
	}

	if h.Events != nil {
		router.Get("/sessions/:session_id/events", listEvents(h.Events.ListBySession, "session_id"))
		router.Get("/runs/:run_id/events", listEvents(h.Events.ListByRun, "run_id"))
	}
}

func streamStatus(admin StreamAdmin) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return OK(c, admin.Status(c.UserContext()))
	}
}

func streamPending(admin StreamAdmin) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := queryInt(c, "limit")
		if err != nil {
			return err
		}

		return OK(c, admin.Pending(c.UserContext(), limit))
	}
}

func listDeadLetters(admin StreamAdmin) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := queryInt(c, "limit")
		if err != nil {
			return err
		}

		offset, err := queryInt(c, "offset")
		if err != nil {
			return err
		}

		page, err := admin.List(c.UserContext(), limit, offset)
		if err != nil {
			return err
		}

		return OK(c, page)
	}
}

func replayDeadLetters(admin StreamAdmin) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req dlq.ReplayRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}

		report, err := admin.Replay(c.UserContext(), req)
		if err != nil {
			return err
		}

		return OK(c, report)
	}
}

func trimStreams(admin StreamAdmin) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return OK(c, admin.Trim(c.UserContext()))
	}
}

func invalidateRules(cache RuleInvalidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cache.Invalidate()

		return OK(c, fiber.Map{"invalidated": true})
	}
}

func createEntity[In, E any](create func(context.Context, In) (E, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in In
		if err := decodeBody(c, &in); err != nil {
			return err
		}

		entity, err := create(c.UserContext(), in)
		if err != nil {
			return err
		}

		return Created(c, entity)
	}
}

func getEntity[E any](get func(context.Context, string) (E, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		entity, err := get(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}

		return OK(c, entity)
	}
}

func transitionEntity[E any](
	transition func(context.Context, string, string, protocol.TransitionInput) (protocol.Result[E], error),
) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in protocol.TransitionInput
		if err := decodeBody(c, &in); err != nil {
			return err
		}

		ctx := c.UserContext()

		if in.RequestID == "" {
			_, _, in.RequestID = reliability.NewTrackingFromContext(ctx)
		}

		result, err := transition(ctx, c.Params("id"), c.Params("action"), in)
		if err != nil {
			return err
		}

		if !result.OK() {
			return RenderRejection(c, *result.Rejection)
		}

		return OK(c, result.Value)
	}
}

type stepBody struct {
	Action         string         `json:"action"`
	Params         map[string]any `json:"params"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
	UserID         string         `json:"user_id"`
	RunID          string         `json:"run_id"`
}

func executeStep(executor StepExecutor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		idx, err := strconv.Atoi(c.Params("idx"))
		if err != nil {
			return fmt.Errorf("%w: step index %q", ErrInvalidParam, c.Params("idx"))
		}

		var body stepBody
		if err := decodeBody(c, &body); err != nil {
			return err
		}

		key := strings.TrimSpace(c.Get(HeaderIdempotencyKey))
		if key == "" {
			key = strings.TrimSpace(body.IdempotencyKey)
		}

		ctx := c.UserContext()
		_, _, requestID := reliability.NewTrackingFromContext(ctx)

		resp, err := executor.Execute(ctx, steps.Request{
			SessionID:      c.Params("session_id"),
			StoryCode:      c.Params("code"),
			StepIndex:      idx,
			Action:         body.Action,
			IdempotencyKey: key,
			Params:         body.Params,
			Payload:        body.Payload,
			UserID:         body.UserID,
			RunID:          body.RunID,
			RequestID:      requestID,
		})
		if err != nil {
			return err
		}

		if resp.Status == steps.StatusUnknownAction {
			return Respond(c, fiber.StatusNotFound, ErrorResponse{
				Code:    strconv.Itoa(fiber.StatusNotFound),
				Title:   steps.StatusUnknownAction,
				Message: resp.Error,
				Details: map[string]any{"action": resp.Action},
			})
		}

		return OK(c, resp)
	}
}

func listEvents(list func(context.Context, string, int) ([]eventlog.Record, error), param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := queryInt(c, "limit")
		if err != nil {
			return err
		}

		records, err := list(c.UserContext(), c.Params(param), limit)
		if err != nil {
			return err
		}

		return OK(c, fiber.Map{"items": records, "count": len(records)})
	}
}

// queryInt returns 0 when the parameter is absent.
func queryInt(c *fiber.Ctx, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidParam, name, raw)
	}

	return v, nil
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(c *fiber.Ctx, dest any) error {
	body := c.Body()
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}

	return nil
}
