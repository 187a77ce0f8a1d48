package authapi

import (
	"fmt"
	"net/http"

	apperrors "github.com/jrsteele09/billing-console/internal/errors"
)

// Error is a non-2xx response decoded from the API's JSON error envelope.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth api: %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("auth api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is lets callers match API errors against the shared sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case apperrors.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case apperrors.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case apperrors.ErrInvalid:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

// IsUnauthorized reports whether err is a 401 from the Auth API.
func IsUnauthorized(err error) bool {
	return apperrors.Is(err, apperrors.ErrUnauthorized)
}
