package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	autherr "github.com/autoheaven/auth-service/internal/errors"
	"github.com/autoheaven/auth-service/internal/hash"
	"github.com/autoheaven/auth-service/internal/models"
	"github.com/autoheaven/auth-service/internal/pending"
	"github.com/autoheaven/auth-service/internal/repo"
	"github.com/autoheaven/auth-service/internal/service"
	"github.com/autoheaven/auth-service/internal/tokens"
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	mu       sync.Mutex
	sent     []sentMail
	failNext bool
}

func (m *fakeMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "expected at least one sent mail")
	return m.sent[len(m.sent)-1]
}

type recordedEvent struct {
	Key   string
	Event any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) PublishEvent(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Key: key, Event: event})
	return nil
}

func newTestService(t *testing.T) (*service.AuthService, *fakeMailer, *repo.UserRepo) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	store := pending.NewInMemory(time.Hour)
	t.Cleanup(store.Close)

	mailer := &fakeMailer{}
	userRepo := &repo.UserRepo{DB: db}

	svc := &service.AuthService{
		Repo:        userRepo,
		Issuer:      tokens.NewIssuer([]byte("access-secret"), []byte("refresh-secret"), 15*time.Minute, 7*24*time.Hour),
		Pending:     store,
		Mailer:      mailer,
		FrontendURL: "http://localhost:3000",
		ResetTTL:    10 * time.Minute,
	}
	return svc, mailer, userRepo
}

// codeAfter extracts the path segment following marker from an email body.
func codeAfter(t *testing.T, body, marker string) string {
	t.Helper()
	i := strings.Index(body, marker)
	require.GreaterOrEqual(t, i, 0, "marker %q not found in mail body", marker)
	rest := body[i+len(marker):]
	if j := strings.IndexAny(rest, " \n"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func registerAndVerify(t *testing.T, svc *service.AuthService, mailer *fakeMailer, email, password string) *service.AuthResult {
	t.Helper()
	ctx := context.Background()

	err := svc.Register(ctx, pending.Registration{
		Name: "Ann", Surname: "Lee", Email: email, Password: password,
	})
	require.NoError(t, err)

	code := codeAfter(t, mailer.last(t).Body, "/verify-email/")
	res, err := svc.VerifyEmail(ctx, code)
	require.NoError(t, err)
	return res
}

func TestRegisterAndVerifyEmail(t *testing.T) {
	svc, mailer, userRepo := newTestService(t)
	ctx := context.Background()

	err := svc.Register(ctx, pending.Registration{
		Name: "Ann", Surname: "Lee", Email: "a@x.com", Password: "secret1",
	})
	require.NoError(t, err)

	// No durable record yet.
	user, err := userRepo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Nil(t, user)

	m := mailer.last(t)
	require.Equal(t, "a@x.com", m.To)
	require.Equal(t, "Verify Your Email - AutoHeaven", m.Subject)
	code := codeAfter(t, m.Body, "/verify-email/")
	require.Len(t, code, 64)

	res, err := svc.VerifyEmail(ctx, code)
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.NotEmpty(t, res.User.ID)
	require.True(t, res.User.IsVerified)
	require.Equal(t, models.RoleBuyer, res.User.Role)

	stored, err := userRepo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotEqual(t, "secret1", stored.PasswordHash)
	require.True(t, hash.CheckPassword(stored.PasswordHash, "secret1"))
	require.Equal(t, res.RefreshToken, stored.RefreshToken)

	// At-most-once: the code is spent.
	_, err = svc.VerifyEmail(ctx, code)
	require.ErrorIs(t, err, autherr.ErrInvalidOrExpiredToken)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()

	registerAndVerify(t, svc, mailer, "a@x.com", "secret1")

	err := svc.Register(ctx, pending.Registration{
		Name: "Bob", Surname: "Ray", Email: "a@x.com", Password: "other",
	})
	require.ErrorIs(t, err, autherr.ErrDuplicateAccount)
}

func TestRegisterEmailFailure(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()

	mailer.failNext = true
	err := svc.Register(ctx, pending.Registration{
		Name: "Ann", Surname: "Lee", Email: "a@x.com", Password: "secret1",
	})
	require.ErrorIs(t, err, autherr.ErrEmailDeliveryFailed)

	// The user can simply register again.
	err = svc.Register(ctx, pending.Registration{
		Name: "Ann", Surname: "Lee", Email: "a@x.com", Password: "secret1",
	})
	require.NoError(t, err)
}

func TestVerifyEmailDuplicateRace(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()

	// Two independent pending entries for the same email.
	require.NoError(t, svc.Register(ctx, pending.Registration{Name: "A", Surname: "A", Email: "a@x.com", Password: "secret1"}))
	firstCode := codeAfter(t, mailer.last(t).Body, "/verify-email/")
	require.NoError(t, svc.Register(ctx, pending.Registration{Name: "A", Surname: "A", Email: "a@x.com", Password: "secret2"}))
	secondCode := codeAfter(t, mailer.last(t).Body, "/verify-email/")
	require.NotEqual(t, firstCode, secondCode)

	_, err := svc.VerifyEmail(ctx, firstCode)
	require.NoError(t, err)

	// The unique email constraint decides the winner.
	_, err = svc.VerifyEmail(ctx, secondCode)
	require.ErrorIs(t, err, autherr.ErrDuplicateAccount)
}

func TestLoginUniformError(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()

	registerAndVerify(t, svc, mailer, "a@x.com", "secret1")

	_, errWrongPassword := svc.Login(ctx, "a@x.com", "wrong")
	_, errNoAccount := svc.Login(ctx, "nobody@x.com", "secret1")

	require.ErrorIs(t, errWrongPassword, autherr.ErrInvalidCredentials)
	require.ErrorIs(t, errNoAccount, autherr.ErrInvalidCredentials)
	require.Equal(t, errWrongPassword.Error(), errNoAccount.Error())
}

func TestLoginSupersedesPreviousSession(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()

	verified := registerAndVerify(t, svc, mailer, "a@x.com", "secret1")

	_, err := svc.Login(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)

	res, err := svc.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEqual(t, verified.RefreshToken, res.RefreshToken)

	// The verification-step refresh token is now superseded.
	_, _, err = svc.Refresh(ctx, verified.RefreshToken)
	require.ErrorIs(t, err, autherr.ErrInvalidRefreshToken)

	// The latest one still works.
	access, exp, err := svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.True(t, exp.After(time.Now()))
}

func TestConcurrentLoginLastWriteWins(t *testing.T) {
	svc, mailer, userRepo := newTestService(t)
	ctx := context.Background()

	registerAndVerify(t, svc, mailer, "a@x.com", "secret1")

	const logins = 4
	var wg sync.WaitGroup
	results := make([]*service.AuthResult, logins)
	errs := make([]error, logins)
	start := make(chan struct{})

	for i := 0; i < logins; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.Login(ctx, "a@x.com", "secret1")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < logins; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
	}

	// The stored token is exactly one of the issued ones, uncorrupted.
	user, err := userRepo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	winners := 0
	for _, res := range results {
		if res.RefreshToken == user.RefreshToken {
			winners++
		}
	}
	require.Equal(t, 1, winners, "stored refresh token must match exactly one login")

	// Only the last-written session survives; the rest are superseded.
	for _, res := range results {
		_, _, err := svc.Refresh(ctx, res.RefreshToken)
		if res.RefreshToken == user.RefreshToken {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, autherr.ErrInvalidRefreshToken)
		}
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()

	res := registerAndVerify(t, svc, mailer, "a@x.com", "secret1")

	_, _, err := svc.Refresh(ctx, res.RefreshToken+"x")
	require.ErrorIs(t, err, autherr.ErrInvalidRefreshToken)

	_, _, err = svc.Refresh(ctx, "not-a-jwt")
	require.ErrorIs(t, err, autherr.ErrInvalidRefreshToken)

	// An access token presented as a refresh token is rejected too.
	_, _, err = svc.Refresh(ctx, res.AccessToken)
	require.ErrorIs(t, err, autherr.ErrInvalidRefreshToken)
}

func TestLogoutIdempotent(t *testing.T) {
	svc, mailer, userRepo := newTestService(t)
	ctx := context.Background()

	res := registerAndVerify(t, svc, mailer, "a@x.com", "secret1")

	require.NoError(t, svc.Logout(ctx, res.RefreshToken))

	user, err := userRepo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Empty(t, user.RefreshToken)

	_, _, err = svc.Refresh(ctx, res.RefreshToken)
	require.ErrorIs(t, err, autherr.ErrInvalidRefreshToken)

	// Logging out again, or with a token nobody holds, still succeeds.
	require.NoError(t, svc.Logout(ctx, res.RefreshToken))
	require.NoError(t, svc.Logout(ctx, ""))
}

func TestForgotAndResetPassword(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()

	registerAndVerify(t, svc, mailer, "a@x.com", "secret1")

	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com"))
	m := mailer.last(t)
	require.Equal(t, "Password Reset Request", m.Subject)
	code := codeAfter(t, m.Body, "/reset-password/")
	require.Len(t, code, 64)

	require.NoError(t, svc.ResetPassword(ctx, code, "newsecret"))

	_, err := svc.Login(ctx, "a@x.com", "secret1")
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "a@x.com", "newsecret")
	require.NoError(t, err)

	// The code is single-use.
	err = svc.ResetPassword(ctx, code, "another")
	require.ErrorIs(t, err, autherr.ErrInvalidOrExpiredToken)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.ForgotPassword(context.Background(), "nobody@x.com")
	require.ErrorIs(t, err, autherr.ErrAccountNotFound)
}

func TestForgotPasswordTwiceOnlyLatestCodeValid(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()

	registerAndVerify(t, svc, mailer, "a@x.com", "secret1")

	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com"))
	firstCode := codeAfter(t, mailer.last(t).Body, "/reset-password/")
	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com"))
	secondCode := codeAfter(t, mailer.last(t).Body, "/reset-password/")
	require.NotEqual(t, firstCode, secondCode)

	err := svc.ResetPassword(ctx, firstCode, "newsecret")
	require.ErrorIs(t, err, autherr.ErrInvalidOrExpiredToken)

	require.NoError(t, svc.ResetPassword(ctx, secondCode, "newsecret"))
}

func TestForgotPasswordEmailFailureRollsBack(t *testing.T) {
	svc, mailer, userRepo := newTestService(t)
	ctx := context.Background()

	registerAndVerify(t, svc, mailer, "a@x.com", "secret1")

	mailer.failNext = true
	err := svc.ForgotPassword(ctx, "a@x.com")
	require.ErrorIs(t, err, autherr.ErrEmailDeliveryFailed)

	user, err := userRepo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Empty(t, user.ResetTokenDigest, "reset material must be rolled back")
	require.Nil(t, user.ResetTokenExpires)
}

func TestResetPasswordExpiredCode(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()

	registerAndVerify(t, svc, mailer, "a@x.com", "secret1")

	// Expiry in the past at the moment it is stored.
	svc.ResetTTL = -time.Minute
	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com"))
	code := codeAfter(t, mailer.last(t).Body, "/reset-password/")

	err := svc.ResetPassword(ctx, code, "newsecret")
	require.ErrorIs(t, err, autherr.ErrInvalidOrExpiredToken)
}

func TestLifecycleEventsPublished(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	pub := &fakePublisher{}
	svc.Events = pub
	ctx := context.Background()

	registerAndVerify(t, svc, mailer, "a@x.com", "secret1")
	_, err := svc.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)

	types := make([]string, 0, len(pub.events))
	for _, e := range pub.events {
		m, ok := e.Event.(map[string]any)
		require.True(t, ok)
		types = append(types, m["type"].(string))
	}
	require.Equal(t, []string{"user_registered", "user_verified", "user_logged_in"}, types)
}
