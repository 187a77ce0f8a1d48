package errors

import (
	"errors"
	"fmt"
)

// Common error types for the billing console session layer
var (
	// Credential errors
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrNoAccessToken  = errors.New("no access token")

	// Remote errors
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRemoteLogoutFailed = errors.New("remote logout failed; other sessions may still be signed in")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid request")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
