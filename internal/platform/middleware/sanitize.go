package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize caps any single header value.
const maxHeaderValueSize = 8192 // 8KB

var (
	// SQL patterns are logged, not blocked: queries are parameterized, so a
	// match is recon worth knowing about rather than a working exploit.
	sqlPatterns = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	// Script injection blocks outright.
	scriptPatterns = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize screens incoming requests for common attack patterns in the path,
// headers, and query parameters. Blocked requests get a 400.
func Sanitize() echo.MiddlewareFunc {
	return SanitizeWithLogger(zerolog.Nop())
}

// SanitizeWithLogger is Sanitize with a logger for the non-blocking SQL
// pattern warnings.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = path
			}

			if containsPathTraversal(path) || containsPathTraversal(rawPath) {
				return rejectRequest(c, "Path traversal detected")
			}
			if containsNullByte(path) || containsNullByte(rawPath) {
				return rejectRequest(c, "Null byte injection detected")
			}
			if reason := checkHeaders(req.Header); reason != "" {
				return rejectRequest(c, reason)
			}
			if reason := checkQuery(c, logger, path); reason != "" {
				return rejectRequest(c, reason)
			}

			return next(c)
		}
	}
}

// checkHeaders rejects oversized values and CRLF injection. Returns the
// rejection reason, or empty to continue.
func checkHeaders(headers http.Header) string {
	for name, values := range headers {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "Header value exceeds maximum size: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "Header injection detected: " + name
			}
		}
	}
	return ""
}

// checkQuery screens query parameters. Script injection and null bytes
// block; SQL-looking values only log.
func checkQuery(c echo.Context, logger zerolog.Logger, path string) string {
	for key, values := range c.Request().URL.Query() {
		for _, v := range values {
			if containsNullByte(v) || containsNullByte(key) {
				return "Null byte injection detected in query parameter"
			}
			if sqlPatterns.MatchString(v) {
				logger.Warn().
					Str("param", key).
					Str("path", path).
					Str("remote_ip", c.RealIP()).
					Msg("potential SQL injection pattern detected in query parameter")
			}
			if scriptPatterns.MatchString(v) || scriptPatterns.MatchString(key) {
				return "Script injection detected in query parameter"
			}
		}
	}
	return ""
}

// containsPathTraversal matches dot-dot sequences in raw and percent-encoded
// forms, including double encoding.
func containsPathTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	if strings.ContainsRune(s, '\x00') {
		return true
	}
	return strings.Contains(strings.ToLower(s), "%00")
}

func rejectRequest(c echo.Context, reason string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": reason,
	})
}

// SanitizeString strips null bytes and control characters (except \n, \r,
// \t) and trims surrounding whitespace. Handlers use it on free-text fields
// like diagnosis notes before they reach storage.
func SanitizeString(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\x00' {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
