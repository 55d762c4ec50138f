package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medgrid/medgrid/internal/platform/auth"
)

// Logger emits one structured line per request. Tenant and user are included
// when resolved so a clinician's activity can be traced across hospitals.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			if tid, ok := c.Get("tenant_id").(string); ok && tid != "" {
				evt = evt.Str("tenant_id", tid)
			}
			if ident := auth.IdentityFromContext(c.Request().Context()); ident != nil {
				evt = evt.Str("user_id", ident.UserID).Str("role", ident.Role.String())
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
