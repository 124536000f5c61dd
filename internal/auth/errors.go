package auth

import "errors"

var (
	// ErrInvalidToken covers every verification failure (malformed, expired,
	// bad signature, unknown role). Callers must not learn which one it was.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnauthorized indicates an authenticated caller lacks the required
	// role or ownership.
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrUnknownRole indicates a role value outside the closed set.
	ErrUnknownRole = errors.New("auth: unknown role")
)
