package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/autoheaven/auth-service/internal/models"
	"github.com/autoheaven/auth-service/internal/repo"
	"github.com/autoheaven/auth-service/internal/tokens"
)

const userContextKey = "auth.user"

type Middleware struct {
	Issuer *tokens.Issuer
	Repo   *repo.UserRepo
}

// Protect requires a bearer access token and loads the account it names
// into the request context.
func (m *Middleware) Protect(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "not authorized, no access token")
		}

		claims, err := m.Issuer.VerifyAccess(tokenStr)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "not authorized, invalid or expired access token")
		}

		user, err := m.Repo.FindByID(c.Request().Context(), claims.Subject)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
		if user == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "not authorized, invalid or expired access token")
		}

		c.Set(userContextKey, user)
		return next(c)
	}
}

// Authorize is the one role gate in the system: allow when the
// authenticated account's role is in the given set, deny otherwise.
// Must run after Protect.
func Authorize(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := UserFromContext(c)
			if user == nil {
				return echo.NewHTTPError(http.StatusForbidden, "not authorized for this action")
			}
			for _, role := range roles {
				if user.Role == role {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "not authorized for this action")
		}
	}
}

func UserFromContext(c echo.Context) *models.User {
	if u, ok := c.Get(userContextKey).(*models.User); ok {
		return u
	}
	return nil
}
