package password

import "errors"

var (
	// ErrPasswordTooShort and ErrPasswordTooLong are length policy rejections
	// from Hash and Validate.
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")

	// ErrInvalidHash means the encoded hash handed to Verify is malformed,
	// uses an unsupported algorithm or version, or carries cost parameters
	// beyond the configured ceiling.
	ErrInvalidHash = errors.New("invalid password hash")
)
