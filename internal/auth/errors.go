package auth

import "errors"

var (
	// Credential / signup errors.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateAccount   = errors.New("account already registered")
	ErrInvalidCode        = errors.New("invalid verification code")

	// External-flow errors.
	ErrOAuthCancelled = errors.New("oauth flow cancelled")

	// Missing-state errors.
	ErrNoActiveSession    = errors.New("no active session")
	ErrNoSessionToRefresh = errors.New("no session to refresh")
	ErrNoBiometricSession = errors.New("no biometric session saved")

	// Capability errors.
	ErrNotImplemented            = errors.New("not implemented by provider")
	ErrRequiresElevatedPrivilege = errors.New("operation requires elevated privilege")

	// ErrTransport wraps opaque network or storage I/O failures. The cause
	// is preserved; match with errors.Is(err, ErrTransport).
	ErrTransport = errors.New("transport error")
)
