package instrument

import (
	"math/rand"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"rocket-cms/internal/authz"
	"rocket-cms/internal/config"
)

// Middleware starts a trace for each sampled request, propagating the
// X-Trace-ID header, and wraps the handler chain in a root http span.
func Middleware(cfg config.InstrumentationConfig, sink Sink) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Enabled || sink == nil {
			return c.Next()
		}
		if cfg.SamplingRate < 1.0 && rand.Float64() > cfg.SamplingRate {
			return c.Next()
		}

		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx, span := StartSpan(Begin(c.UserContext(), traceID, sink), "http", "request")
		span.Annotate("method", c.Method())
		span.Annotate("path", c.Path())
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		// The auth middleware runs downstream, so the actor is only known now.
		if actor, ok := c.Locals("user").(*authz.Actor); ok && actor != nil {
			span.SetActor(actor.ID)
		}

		// Errors are rendered later by the app's error handler, so the
		// response status is only meaningful when err is nil.
		if err != nil {
			span.Annotate("error", err.Error())
			span.Fail()
		} else {
			status := c.Response().StatusCode()
			span.Annotate("status_code", status)
			if status >= 400 {
				span.Fail()
			}
		}
		span.End()

		return err
	}
}
