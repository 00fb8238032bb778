package domain

import "errors"

// Login errors
var (
	ErrValidation        = errors.New("identifier and password are required")
	ErrAccountNotFound   = errors.New("account not found")
	ErrEmailNotVerified  = errors.New("email not verified")
	ErrAccountLocked     = errors.New("account locked due to too many failed login attempts")
	ErrIncorrectPassword = errors.New("incorrect password")
	ErrAccountExists     = errors.New("account already exists")

	ErrInvalidHashIterations = errors.New("hash iterations must be between 1 and 10")
)

// Two-factor errors
var (
	ErrTwoFactorRejected = errors.New("invalid two-factor code")
	ErrNoPendingLogin    = errors.New("no login awaiting two-factor verification")
)

// Session and token errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTokenNotFound   = errors.New("authentication token not found")
	ErrInvalidToken    = errors.New("invalid token")
)

// IsCredentialError reports whether err is an expected credential
// rejection rather than an infrastructure failure.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrEmailNotVerified) ||
		errors.Is(err, ErrAccountLocked) ||
		errors.Is(err, ErrIncorrectPassword)
}
