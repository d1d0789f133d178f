package secretstore

import "errors"

var (
	// ErrInvalidVaultURL is returned when the configured vault address is not an absolute https URL.
	ErrInvalidVaultURL = errors.New("secret store URL must be an absolute https URL")
	// ErrCredentialUnavailable is returned when no ambient credential could be obtained.
	ErrCredentialUnavailable = errors.New("secret store credential unavailable")
	// ErrFetchFailed is returned when the secret store could not be read.
	ErrFetchFailed = errors.New("secret store fetch failed")
)
