package errors

import "errors"

var (
	// ErrDuplicateAccount is returned by Register when a durable account
	// with the same email already exists. Pending registrations do not
	// count; duplicates among those are resolved at creation time.
	ErrDuplicateAccount = errors.New("user already exists")

	// ErrInvalidCredentials covers both "no such account" and "wrong
	// password". The two must stay indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidOrExpiredToken covers verification codes and reset codes,
	// whether absent, consumed or past expiry.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrNoToken             = errors.New("no refresh token provided")
	ErrAccountNotFound     = errors.New("user not found")
	ErrEmailDeliveryFailed = errors.New("email could not be sent")
)
