package http

import (
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"

	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

const defaultBodyLimit = 2 << 20

// NewApp builds a Fiber app with the pipeline error handler, request
// context middleware and every configured route.
func NewApp(h Handlers, logger libLog.Logger, tracer trace.Tracer) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "event-reliability-pipeline",
		BodyLimit:             defaultBodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          FiberErrorHandler,
	})

	app.Use(WithRequestContext(logger, tracer))

	Register(app, h)

	return app
}
