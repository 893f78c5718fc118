package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestIssuer(accessTTL, refreshTTL time.Duration) *Issuer {
	return NewIssuer([]byte("access-secret"), []byte("refresh-secret"), accessTTL, refreshTTL)
}

func TestIssueAndVerifyAccess(t *testing.T) {
	iss := newTestIssuer(15*time.Minute, 7*24*time.Hour)

	token, exp, err := iss.IssueAccess("user-1", "buyer")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := iss.VerifyAccess(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "buyer", claims.Role)
}

func TestIssueAndVerifyRefresh(t *testing.T) {
	iss := newTestIssuer(15*time.Minute, 7*24*time.Hour)

	token, _, err := iss.IssueRefresh("user-1")
	require.NoError(t, err)

	claims, err := iss.VerifyRefresh(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.NotEmpty(t, claims.ID, "refresh tokens carry a jti")

	second, _, err := iss.IssueRefresh("user-1")
	require.NoError(t, err)
	require.NotEqual(t, token, second)
}

func TestVerifyExpired(t *testing.T) {
	iss := newTestIssuer(-time.Minute, -time.Minute)

	access, _, err := iss.IssueAccess("user-1", "buyer")
	require.NoError(t, err)
	refresh, _, err := iss.IssueRefresh("user-1")
	require.NoError(t, err)

	_, err = iss.VerifyAccess(access)
	require.ErrorIs(t, err, ErrExpired)
	_, err = iss.VerifyRefresh(refresh)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyTampered(t *testing.T) {
	iss := newTestIssuer(15*time.Minute, 7*24*time.Hour)

	token, _, err := iss.IssueAccess("user-1", "buyer")
	require.NoError(t, err)

	_, err = iss.VerifyAccess(token + "x")
	require.ErrorIs(t, err, ErrInvalid)

	other := NewIssuer([]byte("other"), []byte("other"), time.Minute, time.Minute)
	_, err = other.VerifyAccess(token)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestKindConfusionRejected(t *testing.T) {
	// Same secret for both kinds, so only the typ claim separates them.
	iss := NewIssuer([]byte("shared"), []byte("shared"), time.Minute, time.Minute)

	access, _, err := iss.IssueAccess("user-1", "buyer")
	require.NoError(t, err)
	refresh, _, err := iss.IssueRefresh("user-1")
	require.NoError(t, err)

	_, err = iss.VerifyRefresh(access)
	require.ErrorIs(t, err, ErrInvalid)
	_, err = iss.VerifyAccess(refresh)
	require.ErrorIs(t, err, ErrInvalid)
}
