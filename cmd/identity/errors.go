package identity

import "errors"

// Sentinel errors (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput       = errors.New("invalid_input")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrPasswordPolicy     = errors.New("password_policy")
)

// IsInvalidCredentials reports whether err represents ErrInvalidCredentials.
func IsInvalidCredentials(err error) bool { return errors.Is(err, ErrInvalidCredentials) }

// IsPasswordPolicy reports whether err represents ErrPasswordPolicy.
func IsPasswordPolicy(err error) bool { return errors.Is(err, ErrPasswordPolicy) }
