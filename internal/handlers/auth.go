package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	autherr "github.com/autoheaven/auth-service/internal/errors"
	"github.com/autoheaven/auth-service/internal/logging"
	"github.com/autoheaven/auth-service/internal/pending"
	"github.com/autoheaven/auth-service/internal/service"
)

type AuthHandler struct {
	Svc          *service.AuthService
	CookieSecure bool
}

type registerRequest struct {
	Name           string `json:"name" validate:"required"`
	Surname        string `json:"surname" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=6"`
	ContactDetails string `json:"contactDetails"`
	Role           string `json:"role" validate:"omitempty,oneof=buyer seller admin"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

func (h *AuthHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return err
	}

	err := h.Svc.Register(ctx, pending.Registration{
		Name:           req.Name,
		Surname:        req.Surname,
		Email:          req.Email,
		Password:       req.Password,
		ContactDetails: req.ContactDetails,
		Role:           req.Role,
	})
	if err != nil {
		switch {
		case errors.Is(err, autherr.ErrDuplicateAccount):
			return echo.NewHTTPError(http.StatusBadRequest, autherr.ErrDuplicateAccount.Error())
		case errors.Is(err, autherr.ErrEmailDeliveryFailed):
			return echo.NewHTTPError(http.StatusInternalServerError, autherr.ErrEmailDeliveryFailed.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "Verification email sent. Please check your inbox.",
	})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	ctx := c.Request().Context()

	res, err := h.Svc.VerifyEmail(ctx, c.Param("code"))
	if err != nil {
		switch {
		case errors.Is(err, autherr.ErrInvalidOrExpiredToken):
			return echo.NewHTTPError(http.StatusBadRequest, autherr.ErrInvalidOrExpiredToken.Error())
		case errors.Is(err, autherr.ErrDuplicateAccount):
			return echo.NewHTTPError(http.StatusBadRequest, autherr.ErrDuplicateAccount.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate authentication token")
		}
	}

	c.SetCookie(createCookie(refreshCookieName, res.RefreshToken, res.RefreshExp, h.CookieSecure))

	return c.JSON(http.StatusOK, echo.Map{
		"message":      "Email verified successfully",
		"accessToken":  res.AccessToken,
		"refreshToken": res.RefreshToken,
		"_id":          res.User.ID,
		"name":         res.User.Name,
		"surname":      res.User.Surname,
		"email":        res.User.Email,
		"role":         res.User.Role,
	})
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req loginRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	res, err := h.Svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, autherr.ErrInvalidCredentials) {
			// Same status and message whether the account is missing or
			// the password is wrong.
			return echo.NewHTTPError(http.StatusBadRequest, autherr.ErrInvalidCredentials.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	c.SetCookie(createCookie(refreshCookieName, res.RefreshToken, res.RefreshExp, h.CookieSecure))

	return c.JSON(http.StatusOK, echo.Map{
		"accessToken":  res.AccessToken,
		"refreshToken": res.RefreshToken,
		"_id":          res.User.ID,
		"name":         res.User.Name,
		"surname":      res.User.Surname,
		"email":        res.User.Email,
		"role":         res.User.Role,
		"message":      "Login successful",
	})
}

func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()

	var presented string
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		presented = cookie.Value
	}
	if err := h.Svc.Logout(ctx, presented); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	c.SetCookie(deleteCookie(refreshCookieName, h.CookieSecure))
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Logged out successfully",
	})
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_forgot_password")

	var req forgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("forgot_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.Svc.ForgotPassword(ctx, req.Email); err != nil {
		switch {
		case errors.Is(err, autherr.ErrAccountNotFound):
			return echo.NewHTTPError(http.StatusBadRequest, autherr.ErrAccountNotFound.Error())
		case errors.Is(err, autherr.ErrEmailDeliveryFailed):
			return echo.NewHTTPError(http.StatusInternalServerError, autherr.ErrEmailDeliveryFailed.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "Password reset email sent successfully",
	})
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	ctx := c.Request().Context()

	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.Svc.ResetPassword(ctx, c.Param("code"), req.Password); err != nil {
		if errors.Is(err, autherr.ErrInvalidOrExpiredToken) {
			return echo.NewHTTPError(http.StatusBadRequest, autherr.ErrInvalidOrExpiredToken.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "Password reset successful, you can now log in",
	})
}

func (h *AuthHandler) RefreshToken(c echo.Context) error {
	ctx := c.Request().Context()

	presented := ""
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		presented = cookie.Value
	}
	if presented == "" {
		presented = c.Request().Header.Get("X-Refresh-Token")
	}
	if presented == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, autherr.ErrNoToken.Error())
	}

	access, _, err := h.Svc.Refresh(ctx, presented)
	if err != nil {
		if errors.Is(err, autherr.ErrInvalidRefreshToken) {
			return echo.NewHTTPError(http.StatusForbidden, autherr.ErrInvalidRefreshToken.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"accessToken": access,
	})
}
