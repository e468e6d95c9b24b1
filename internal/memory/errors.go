package memory

import "errors"

// Error taxonomy surfaced to callers. Not-found is represented as a
// nil record or false return, never as an error.
var (
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrEncryptionUnavailable is returned when an encrypted operation
	// is requested before the key manager holds a master secret.
	ErrEncryptionUnavailable = errors.New("encryption unavailable: key manager not initialized")
	// ErrUnauthorized is returned when the acting agent lacks the
	// required permission.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStorageFailure wraps ledger-level failures after internal
	// retries are exhausted.
	ErrStorageFailure = errors.New("storage failure")
)
