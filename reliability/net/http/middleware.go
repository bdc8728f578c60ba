package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

// HeaderRequestID carries the correlation id in and out.
const HeaderRequestID = "X-Request-Id"

// WithRequestContext attaches the logger, tracer and correlation id to the
// request's user context and writes one access log line per request.
func WithRequestContext(logger libLog.Logger, tracer trace.Tracer) fiber.Handler {
	logger = libLog.OrNop(logger)

	if nilcheck.Interface(tracer) {
		tracer = otel.Tracer("reliability/net/http")
	}

	return func(c *fiber.Ctx) error {
		requestID := strings.TrimSpace(c.Get(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(HeaderRequestID, requestID)

		reqLogger := logger.With(libLog.String("request_id", requestID))

		ctx := reliability.ContextWithHeaderID(c.UserContext(), requestID)
		ctx = reliability.ContextWithLogger(ctx, reqLogger)
		ctx = reliability.ContextWithTracer(ctx, tracer)

		ctx, span := tracer.Start(ctx, "http "+c.Method())
		defer span.End()

		c.SetUserContext(ctx)

		start := time.Now()
		err := c.Next()

		if err != nil {
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		reqLogger.Log(ctx, libLog.LevelInfo, "http request",
			libLog.String("method", c.Method()),
			libLog.String("path", c.Path()),
			libLog.Int("status", c.Response().StatusCode()),
			libLog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)

		return nil
	}
}
