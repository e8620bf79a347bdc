package domain

import "errors"

var (
	// ErrNoCredentials is returned by CredentialStore.Load when storage is empty.
	ErrNoCredentials = errors.New("no stored credentials")
	// ErrLoginSuperseded is returned when a login completes after a logout
	// already won; the login result is discarded.
	ErrLoginSuperseded = errors.New("login superseded by logout")
	// ErrNotActive is returned for sync operations issued while anonymous.
	ErrNotActive = errors.New("notification sync is not active")
)
