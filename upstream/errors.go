package upstream

import "errors"

var (
	// ErrNotConnected is returned when the user has no stored token pair
	ErrNotConnected = errors.New("user is not connected to the provider")

	// ErrInvalidState is returned when the stored connection is present
	// but unusable (missing or unparseable expiry)
	ErrInvalidState = errors.New("stored connection is in an invalid state")

	// ErrInvalidRefreshToken is returned when the provider rejects the
	// refresh token as malformed (HTTP 400)
	ErrInvalidRefreshToken = errors.New("refresh token rejected by provider")

	// ErrConnectionExpired is returned when the refresh token itself has
	// been revoked or expired (HTTP 401); the user must reconnect
	ErrConnectionExpired = errors.New("provider connection expired")

	// ErrSigningKey is returned when the configured private key cannot
	// sign a client assertion
	ErrSigningKey = errors.New("assertion signing key is invalid")

	// ErrUnavailable is returned when the provider keeps failing after
	// the retry policy is exhausted
	ErrUnavailable = errors.New("provider unavailable")
)
