package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that admits requests whose identity holds
// one of the given roles. Admin passes every role gate.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident := IdentityFromContext(c.Request().Context())
			if ident == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if ident.Role == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if ident.Role == required {
					return next(c)
				}
			}

			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = r.String()
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}
