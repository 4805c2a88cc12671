package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when a user email is already taken
	ErrDuplicateEmail = errors.New("email already exists")

	// ErrActiveKeyLimit is returned when a conditional key insert finds
	// the user already at the active-key cap at write time
	ErrActiveKeyLimit = errors.New("active key limit reached")

	// ErrKeyInactive is returned when a conditional deactivation finds
	// the key already inactive at write time
	ErrKeyInactive = errors.New("api key is not active")

	// ErrVersionConflict is returned when a compare-and-swap write finds
	// the token version changed since it was read
	ErrVersionConflict = errors.New("token version conflict")
)
