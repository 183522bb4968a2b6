package credo

import "errors"

var (
	// ErrInvalidCredentials is returned by Login and Authenticate for both an
	// unknown username and a wrong password. The two cases are deliberately
	// indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCredentialNotFound is the sentinel CredentialStore implementations
	// must return when no matching record exists.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrInvalidTokenFormat is returned when a recovery code is not exactly
	// six decimal digits.
	ErrInvalidTokenFormat = errors.New("recovery code must be exactly 6 digits")
	// ErrWeakPassword is returned when a new password is shorter than the
	// configured minimum.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrTokenInvalidOrExpired is returned when a recovery code matches no
	// pending token, has expired, or was already consumed.
	ErrTokenInvalidOrExpired = errors.New("recovery code invalid or expired")
	// ErrRecoveryInvalid is returned for malformed recovery requests, such as
	// an empty email address.
	ErrRecoveryInvalid = errors.New("invalid recovery request")
	// ErrLoginRateLimited is an exported constant used by the credential engine.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRecoveryRateLimited is an exported constant used by the credential engine.
	ErrRecoveryRateLimited = errors.New("recovery rate limited")
	// ErrLoginUnavailable is returned when the login throttle backend cannot
	// be reached.
	ErrLoginUnavailable = errors.New("login backend unavailable")
	// ErrRecoveryUnavailable is returned when the recovery throttle backend
	// cannot be reached.
	ErrRecoveryUnavailable = errors.New("recovery backend unavailable")
	// ErrStoreUnavailable is returned when the CredentialStore fails for any
	// reason other than a missing record.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrEntropyUnavailable is returned when the secure random source cannot
	// be read.
	ErrEntropyUnavailable = errors.New("secure random source unavailable")
	// ErrSigningFailure is returned when access-token signing fails. It is
	// fatal to the request and never retried.
	ErrSigningFailure = errors.New("access token signing failed")
	// ErrEngineNotReady is returned when an Engine is used before Build wired
	// its dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
)
