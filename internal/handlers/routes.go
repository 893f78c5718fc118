package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	authmw "github.com/autoheaven/auth-service/internal/middleware/auth"
	"github.com/autoheaven/auth-service/internal/models"
)

type Deps struct {
	AuthHandler *AuthHandler
	UserHandler *UserHandler
	AuthMW      *authmw.Middleware
}

func Register(e *echo.Echo, d *Deps) {
	e.Validator = NewRequestValidator()

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	auth := e.Group("/auth")
	auth.POST("/register", d.AuthHandler.Register)
	auth.GET("/verify-email/:code", d.AuthHandler.VerifyEmail)
	auth.POST("/login", d.AuthHandler.Login)
	auth.POST("/logout", d.AuthHandler.Logout)
	auth.POST("/forgot-password", d.AuthHandler.ForgotPassword)
	auth.POST("/reset-password/:code", d.AuthHandler.ResetPassword)
	auth.POST("/refresh-token", d.AuthHandler.RefreshToken)

	users := e.Group("/users", d.AuthMW.Protect)
	users.GET("/me", d.UserHandler.Me)

	admin := e.Group("/admin", d.AuthMW.Protect, authmw.Authorize(models.RoleAdmin))
	admin.GET("/users", d.UserHandler.ListUsers)
}
