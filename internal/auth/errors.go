package auth

import "errors"

// Token errors
var (
	ErrSecretRequired  = errors.New("JWT_SECRET is required to issue tokens")
	ErrSubjectRequired = errors.New("user ID is required")
	ErrInvalidTTL      = errors.New("token lifetime must be positive")
)
