package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/dlq"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/eventlog"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/protocol"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/steps"
)

var (
	ErrInvalidBody  = errors.New("invalid request body")
	ErrInvalidParam = errors.New("invalid path or query parameter")
)

var badRequestErrors = []error{
	ErrInvalidBody,
	ErrInvalidParam,
	protocol.ErrInvalidInput,
	steps.ErrSessionRequired,
	steps.ErrStoryRequired,
	steps.ErrInvalidStepIndex,
	steps.ErrActionRequired,
	eventlog.ErrFilterRequired,
}

// RejectionStatus maps a rejection kind to its HTTP status.
func RejectionStatus(kind protocol.RejectionKind) int {
	switch kind {
	case protocol.RejectInvalidTransition:
		return fiber.StatusConflict
	case protocol.RejectPolicyDenied:
		return fiber.StatusForbidden
	case protocol.RejectUnknownAction, protocol.RejectNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusUnprocessableEntity
	}
}

// RenderRejection writes a rejected transition.
func RenderRejection(c *fiber.Ctx, r protocol.Rejection) error {
	status := RejectionStatus(r.Kind)

	details := map[string]any{}
	if r.Action != "" {
		details["action"] = r.Action
	}

	if r.Current != "" {
		details["current_state"] = r.Current
	}

	if r.Target != "" {
		details["target_state"] = r.Target
	}

	return Respond(c, status, ErrorResponse{
		Code:    strconv.Itoa(status),
		Title:   string(r.Kind),
		Message: r.Message,
		Details: details,
	})
}

// RenderError maps err to a response. Unrecognized errors become a generic
// 500 and are logged with the request's logger.
func RenderError(c *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	var inputErr *protocol.InputError
	if errors.As(err, &inputErr) {
		return Respond(c, fiber.StatusBadRequest, ErrorResponse{
			Code:    strconv.Itoa(fiber.StatusBadRequest),
			Title:   "invalid_input",
			Message: inputErr.Error(),
			Details: map[string]any{"fields": inputErr.Fields},
		})
	}

	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return BadRequestError(c, "invalid_input", err.Error())
		}
	}

	if errors.Is(err, dlq.ErrReplayInProgress) {
		return RespondError(c, fiber.StatusConflict, "replay_in_progress", err.Error())
	}

	if errors.Is(err, protocol.ErrNotFound) {
		return NotFoundError(c, "not_found", "resource not found")
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return RespondError(c, fe.Code, "request_failed", fe.Message)
	}

	ctx := c.UserContext()
	logger, _, _ := reliability.NewTrackingFromContext(ctx)

	libLog.SafeError(logger, ctx, "request failed", err, false)

	return SimpleInternalServerError(c)
}

// FiberErrorHandler is installed as fiber.Config.ErrorHandler.
func FiberErrorHandler(c *fiber.Ctx, err error) error {
	if span := trace.SpanFromContext(c.UserContext()); span.IsRecording() {
		libOpentelemetry.HandleSpanError(span, "handler error", err)
	}

	return RenderError(c, err)
}
