package auth

import "errors"

// Error taxonomy of the security core. The HTTP layer maps these onto uniform
// user-facing responses; the distinctions exist for logs, metrics and tests.
var (
	// ErrInvalidCredentials covers unknown principal, inactive principal and
	// secret mismatch alike, so responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrTokenNotFound = errors.New("auth: refresh token not found")
	ErrTokenRevoked  = errors.New("auth: refresh token revoked")
	ErrTokenExpired  = errors.New("auth: refresh token expired")

	// ErrRotationConflict means a concurrent rotation won the conditional
	// update. Callers treat it exactly like ErrTokenRevoked.
	ErrRotationConflict = errors.New("auth: refresh token already rotated")

	// ErrStoreUnavailable marks infrastructure failures. It must never be
	// downgraded to "no permissions" or "invalid token".
	ErrStoreUnavailable = errors.New("auth: credential store unavailable")

	// ErrInvalidToken indicates an access token failed signature or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")
)
