package http

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthReport is the /health body.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health runs every check and answers 200 when all pass, 503 otherwise.
// With no checks it behaves as a plain liveness ping.
func Health(checks map[string]HealthCheck) fiber.Handler {
	names := make([]string, 0, len(checks))
	for name, check := range checks {
		if check != nil {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
		defer cancel()

		report := HealthReport{Status: "ok"}
		if len(names) > 0 {
			report.Checks = make(map[string]string, len(names))
		}

		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger, _, _ := reliability.NewTrackingFromContext(ctx)
				logger.Log(ctx, libLog.LevelWarn, "health check failed",
					libLog.String("check", name),
					libLog.Err(err),
				)

				report.Status = "degraded"
				report.Checks[name] = "down"

				continue
			}

			report.Checks[name] = "up"
		}

		if report.Status != "ok" {
			return Respond(c, fiber.StatusServiceUnavailable, report)
		}

		return OK(c, report)
	}
}
