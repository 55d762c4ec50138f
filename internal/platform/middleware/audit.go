package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medgrid/medgrid/internal/platform/auth"
)

// AuditEntry captures who accessed what, when, from where, and how it ended.
type AuditEntry struct {
	UserID       string
	Role         string
	ResourceType string
	PatientID    string
	Action       string
	IPAddress    string
	UserAgent    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder persists audit entries. The middleware stays decoupled from
// the audit domain so tests can substitute a mock.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// Audit records every /api/v1 request that touches patient data. Entries go
// to the recorder when one is provided, and are always emitted as structured
// logs so the trail survives a storage outage.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			// Run the handler first so the entry carries the response status.
			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Action:     httpMethodToAction(req.Method),
			}

			if ident := auth.IdentityFromContext(req.Context()); ident != nil {
				entry.UserID = ident.UserID
				entry.Role = ident.Role.String()
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			entry.ResourceType = extractResourceType(path)
			entry.PatientID = extractPatientID(c)
			if auth.IsBreakGlass(req.Context()) {
				entry.Action = "emergency_" + entry.Action
			}

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(req.Context(), entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if reason := auth.BreakGlassReason(req.Context()); reason != "" {
				evt = logger.Warn().Str("break_glass_reason", reason)
			}
			evt.
				Str("type", "data_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("resource_type", entry.ResourceType).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("patient_data_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResourceType takes the first path segment after the API prefix:
// /api/v1/patient/grants -> patient, /api/v1/records/123 -> records.
func extractResourceType(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// extractPatientID finds a patient identifier in the request path or query.
func extractPatientID(c echo.Context) string {
	path := c.Request().URL.Path

	for _, prefix := range []string{"/api/v1/patients/", "/api/v1/doctor/patients/"} {
		if strings.HasPrefix(path, prefix) {
			segments := strings.Split(strings.TrimPrefix(path, prefix), "/")
			if len(segments) > 0 {
				if _, err := uuid.Parse(segments[0]); err == nil {
					return segments[0]
				}
			}
		}
	}

	if pid := c.QueryParam("patient_id"); pid != "" {
		return pid
	}
	return ""
}
