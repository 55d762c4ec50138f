package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medgrid/medgrid/internal/platform/auth"
)

// breakGlassRateLimit tracks per-user override counts within a rolling window.
type breakGlassRateLimit struct {
	mu      sync.Mutex
	entries map[string][]time.Time // userID -> override timestamps
}

func newBreakGlassRateLimit() *breakGlassRateLimit {
	return &breakGlassRateLimit{
		entries: make(map[string][]time.Time),
	}
}

// allow checks whether the user is under the break-glass rate limit. It keeps
// only timestamps within the last hour and enforces a maximum of maxPerHour
// overrides. If the override is allowed, the current timestamp is recorded.
// The caller supplies the current time so tests can inject a deterministic
// clock.
func (rl *breakGlassRateLimit) allow(userID string, now time.Time, maxPerHour int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-1 * time.Hour)

	existing := rl.entries[userID]
	pruned := existing[:0]
	for _, ts := range existing {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= maxPerHour {
		rl.entries[userID] = pruned
		return false
	}

	rl.entries[userID] = append(pruned, now)
	return true
}

// cleanup drops all entries older than one hour so the map does not grow
// without bound. Called periodically from a background goroutine.
func (rl *breakGlassRateLimit) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-1 * time.Hour)
	for userID, timestamps := range rl.entries {
		pruned := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				pruned = append(pruned, ts)
			}
		}
		if len(pruned) == 0 {
			delete(rl.entries, userID)
		} else {
			rl.entries[userID] = pruned
		}
	}
}

const (
	breakGlassMaxPerHour    = 10
	breakGlassCleanupPeriod = 5 * time.Minute
)

// isPatientDataPath returns true if the request path carries patient data.
func isPatientDataPath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

// BreakGlass returns Echo middleware implementing the emergency override for
// patient-data access. When a request includes the X-Break-Glass header with
// a non-empty reason string, the middleware:
//
//  1. Verifies the caller is authenticated.
//  2. Enforces a per-user rate limit (10 overrides per hour).
//  3. Elevates the identity to the admin role so downstream role gates pass.
//  4. Marks the request context so the access resolver grants read-level
//     access and the audit trail records the override.
//  5. Emits a WARN-level structured log entry.
//
// The middleware only activates on /api/v1/* paths. It must sit AFTER
// authentication and BEFORE the audit middleware in the chain.
func BreakGlass(logger zerolog.Logger) echo.MiddlewareFunc {
	rl := newBreakGlassRateLimit()

	go func() {
		ticker := time.NewTicker(breakGlassCleanupPeriod)
		defer ticker.Stop()
		for range ticker.C {
			rl.cleanup(time.Now())
		}
	}()

	return breakGlassMiddleware(logger, rl, time.Now)
}

// breakGlassMiddleware is the internal constructor that accepts a clock
// function and a pre-built rate limiter for testing determinism.
func breakGlassMiddleware(logger zerolog.Logger, rl *breakGlassRateLimit, nowFn func() time.Time) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isPatientDataPath(path) {
				return next(c)
			}

			reason := strings.TrimSpace(req.Header.Get("X-Break-Glass"))
			if reason == "" {
				return next(c)
			}

			ident := auth.IdentityFromContext(req.Context())
			if ident == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "break-glass requires authentication")
			}

			now := nowFn()
			if !rl.allow(ident.UserID, now, breakGlassMaxPerHour) {
				return echo.NewHTTPError(http.StatusTooManyRequests,
					"break-glass rate limit exceeded: maximum 10 overrides per user per hour")
			}

			// Elevate a copy so the original identity is untouched.
			elevated := *ident
			elevated.Role = auth.RoleAdmin

			ctx := auth.WithBreakGlass(req.Context(), reason)
			ctx = auth.WithIdentity(ctx, &elevated)
			c.SetRequest(req.WithContext(ctx))

			logger.Warn().
				Str("type", "break_glass").
				Str("user_id", ident.UserID).
				Str("original_role", ident.Role.String()).
				Str("break_glass_reason", reason).
				Str("path", path).
				Str("method", req.Method).
				Str("remote_ip", c.RealIP()).
				Time("timestamp", now).
				Msg("break_glass_override")

			return next(c)
		}
	}
}
