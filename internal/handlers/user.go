package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	authmw "github.com/autoheaven/auth-service/internal/middleware/auth"
	"github.com/autoheaven/auth-service/internal/repo"
)

type UserHandler struct {
	Repo *repo.UserRepo
}

// Me returns the authenticated account's public profile.
func (h *UserHandler) Me(c echo.Context) error {
	user := authmw.UserFromContext(c)
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authorized")
	}
	return c.JSON(http.StatusOK, user)
}

// ListUsers is the admin surface; the role gate sits in the router.
func (h *UserHandler) ListUsers(c echo.Context) error {
	users, err := h.Repo.ListUsers(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, users)
}
