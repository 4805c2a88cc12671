package keys

import "errors"

var (
	// ErrLimitExceeded is returned when a user already holds the maximum
	// number of active keys
	ErrLimitExceeded = errors.New("active key limit exceeded")

	// ErrNotFound is returned when the user has no key with the given id
	ErrNotFound = errors.New("api key not found")

	// ErrAlreadyInactive is returned when revoking a key that has
	// already been revoked
	ErrAlreadyInactive = errors.New("api key already inactive")

	// ErrKeyExpired is returned when revoking a key that is past its
	// expiry; expired keys are removed by the reaper, not revoked
	ErrKeyExpired = errors.New("api key expired")
)
