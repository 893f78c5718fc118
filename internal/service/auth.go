package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	autherr "github.com/autoheaven/auth-service/internal/errors"
	"github.com/autoheaven/auth-service/internal/events"
	"github.com/autoheaven/auth-service/internal/hash"
	"github.com/autoheaven/auth-service/internal/logging"
	"github.com/autoheaven/auth-service/internal/mail"
	"github.com/autoheaven/auth-service/internal/models"
	"github.com/autoheaven/auth-service/internal/pending"
	"github.com/autoheaven/auth-service/internal/repo"
	"github.com/autoheaven/auth-service/internal/tokens"
)

// AuthService composes the hasher, token issuer, pending ledger, account
// store and mailer into the account/session lifecycle. Every operation
// runs to completion within one request; the only internal recovery is
// the reset-material rollback when a forgot-password email fails.
type AuthService struct {
	Repo        *repo.UserRepo
	Issuer      *tokens.Issuer
	Pending     pending.Store
	Mailer      mail.Sender
	Events      events.Publisher
	FrontendURL string
	ResetTTL    time.Duration
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

type AuthResult struct {
	User *models.User
	TokenPair
}

// Register stores the payload in the pending ledger and mails the
// verification link. No durable record exists yet; a duplicate check
// here only covers already-created accounts.
func (s *AuthService) Register(ctx context.Context, reg pending.Registration) error {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	existing, err := s.Repo.FindByEmail(ctx, reg.Email)
	if err != nil {
		l.Error("register_failed", "reason", "db_error", "error", err)
		return err
	}
	if existing != nil {
		l.Warn("register_failed", "reason", "user_exists")
		return autherr.ErrDuplicateAccount
	}

	if reg.Role == "" {
		reg.Role = models.RoleBuyer
	}

	code, err := s.Pending.Put(reg)
	if err != nil {
		l.Error("register_failed", "reason", "cannot store pending registration", "error", err)
		return err
	}

	verifyURL := fmt.Sprintf("%s/verify-email/%s", s.FrontendURL, code)
	body := fmt.Sprintf("Welcome to AutoHeaven! Please verify your email by clicking on the link: %s", verifyURL)
	if err := s.Mailer.Send(reg.Email, "Verify Your Email - AutoHeaven", body); err != nil {
		// The pending entry stays; the user can re-register to get a
		// fresh code, and the TTL reclaims abandoned ones.
		l.Error("register_failed", "reason", "email_error", "error", err)
		return autherr.ErrEmailDeliveryFailed
	}

	s.publish(ctx, reg.Email, map[string]any{"type": "user_registered", "email": reg.Email})
	l.Info("register_success")
	return nil
}

// VerifyEmail consumes the code at most once, creates the durable
// verified account and starts its first session. The password is hashed
// only now; it never rests durably in plaintext.
func (s *AuthService) VerifyEmail(ctx context.Context, code string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.verify_email")

	reg, ok := s.Pending.Take(code)
	if !ok {
		l.Warn("verify_failed", "reason", "unknown_or_expired_code")
		return nil, autherr.ErrInvalidOrExpiredToken
	}

	pwHash, err := hash.HashPassword(reg.Password)
	if err != nil {
		l.Error("verify_failed", "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	user := models.User{
		Name:           reg.Name,
		Surname:        reg.Surname,
		Email:          reg.Email,
		PasswordHash:   pwHash,
		ContactDetails: reg.ContactDetails,
		Role:           reg.Role,
		IsVerified:     true,
	}
	if err := s.Repo.Create(ctx, &user); err != nil {
		// Two pending entries for the same email race here; the unique
		// index picks the winner and the loser's code is spent.
		l.Warn("verify_failed", "reason", "create_error", "error", err)
		return nil, err
	}

	pair, err := s.startSession(ctx, &user)
	if err != nil {
		l.Error("verify_failed", "reason", "token_error", "error", err)
		return nil, err
	}

	s.publish(ctx, user.ID, map[string]any{"type": "user_verified", "user_id": user.ID, "email": user.Email})
	l.Info("verify_success", "user_id", user.ID)
	return &AuthResult{User: &user, TokenPair: *pair}, nil
}

// Login authenticates and replaces any previous session. Missing account
// and wrong password are deliberately the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	user, err := s.Repo.FindByEmail(ctx, email)
	if err != nil {
		l.Error("login_failed", "reason", "db_error", "error", err)
		return nil, err
	}
	if user == nil || !hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("login_failed", "reason", "invalid email or password")
		return nil, autherr.ErrInvalidCredentials
	}

	pair, err := s.startSession(ctx, user)
	if err != nil {
		l.Error("login_failed", "reason", "token_error", "error", err)
		return nil, err
	}

	s.publish(ctx, user.ID, map[string]any{"type": "user_logged_in", "user_id": user.ID})
	l.Info("login_success", "user_id", user.ID)
	return &AuthResult{User: user, TokenPair: *pair}, nil
}

// Refresh mints a new access token for a presented refresh token. The
// token must verify and exactly match the stored one; a superseded token
// fails even though its signature is still good.
func (s *AuthService) Refresh(ctx context.Context, presented string) (string, time.Time, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := s.Issuer.VerifyRefresh(presented)
	if err != nil {
		l.Warn("refresh_failed", "reason", "verify_error", "error", err)
		return "", time.Time{}, autherr.ErrInvalidRefreshToken
	}

	user, err := s.Repo.FindByID(ctx, claims.Subject)
	if err != nil {
		l.Error("refresh_failed", "reason", "db_error", "error", err)
		return "", time.Time{}, err
	}
	if user == nil || user.RefreshToken != presented {
		l.Warn("refresh_failed", "reason", "token_superseded_or_unknown")
		return "", time.Time{}, autherr.ErrInvalidRefreshToken
	}

	access, exp, err := s.Issuer.IssueAccess(user.ID, user.Role)
	if err != nil {
		l.Error("refresh_failed", "reason", "cannot create token", "error", err)
		return "", time.Time{}, err
	}
	l.Info("refresh_success", "user_id", user.ID)
	return access, exp, nil
}

// Logout clears the stored refresh token, if any account holds the
// presented one. Always succeeds.
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout")
	if presented == "" {
		return nil
	}
	if err := s.Repo.ClearRefreshToken(ctx, presented); err != nil {
		l.Error("logout_failed", "reason", "db_error", "error", err)
		return err
	}
	l.Info("logout_success")
	return nil
}

// ForgotPassword stores a hashed single-use reset code with an expiry
// and mails the plaintext code. A second request overwrites the first,
// so only the latest emailed link is valid.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	l := logging.FromContext(ctx).With("svc", "auth.forgot_password")

	user, err := s.Repo.FindByEmail(ctx, email)
	if err != nil {
		l.Error("forgot_failed", "reason", "db_error", "error", err)
		return err
	}
	if user == nil {
		l.Warn("forgot_failed", "reason", "user_not_found")
		return autherr.ErrAccountNotFound
	}

	code, err := newSecretCode()
	if err != nil {
		l.Error("forgot_failed", "reason", "cannot generate code", "error", err)
		return err
	}
	expires := time.Now().Add(s.ResetTTL)
	if err := s.Repo.SetResetToken(ctx, user.ID, sha256Hex(code), expires); err != nil {
		l.Error("forgot_failed", "reason", "db_error", "error", err)
		return err
	}

	resetURL := fmt.Sprintf("%s/reset-password/%s", s.FrontendURL, code)
	body := fmt.Sprintf("Click the link below to reset your password:\n\n%s\n\nThis link expires in %d minutes.", resetURL, int(s.ResetTTL.Minutes()))
	if err := s.Mailer.Send(user.Email, "Password Reset Request", body); err != nil {
		// Roll the stored material back so no reset window lingers for a
		// link the user never received.
		if clearErr := s.Repo.ClearResetToken(ctx, user.ID); clearErr != nil {
			l.Error("forgot_rollback_failed", "error", clearErr)
		}
		l.Error("forgot_failed", "reason", "email_error", "error", err)
		return autherr.ErrEmailDeliveryFailed
	}

	l.Info("forgot_success", "user_id", user.ID)
	return nil
}

// ResetPassword consumes an unexpired reset code. Clearing the digest in
// the same write as the password update makes the code single-use.
func (s *AuthService) ResetPassword(ctx context.Context, code, newPassword string) error {
	l := logging.FromContext(ctx).With("svc", "auth.reset_password")

	user, err := s.Repo.FindByResetDigest(ctx, sha256Hex(code), time.Now())
	if err != nil {
		l.Error("reset_failed", "reason", "db_error", "error", err)
		return err
	}
	if user == nil {
		l.Warn("reset_failed", "reason", "unknown_or_expired_code")
		return autherr.ErrInvalidOrExpiredToken
	}

	pwHash, err := hash.HashPassword(newPassword)
	if err != nil {
		l.Error("reset_failed", "reason", "cannot hash the password", "error", err)
		return err
	}
	if err := s.Repo.UpdatePasswordAndClearReset(ctx, user.ID, pwHash); err != nil {
		l.Error("reset_failed", "reason", "db_error", "error", err)
		return err
	}

	s.publish(ctx, user.ID, map[string]any{"type": "password_reset", "user_id": user.ID})
	l.Info("reset_success", "user_id", user.ID)
	return nil
}

// startSession issues the token pair and persists the refresh token,
// overwriting whatever session existed. Last login wins.
func (s *AuthService) startSession(ctx context.Context, user *models.User) (*TokenPair, error) {
	access, accessExp, err := s.Issuer.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.Issuer.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.SaveRefreshToken(ctx, user.ID, refresh); err != nil {
		return nil, err
	}
	user.RefreshToken = refresh
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (s *AuthService) publish(ctx context.Context, key string, event map[string]any) {
	if s.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Events.PublishEvent(ctx, key, event); err != nil {
		logging.FromContext(ctx).Error("event_publish_failed", "type", event["type"], "error", err)
	}
}

func newSecretCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
