package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jrsteele09/billing-console/internal/errors"
)

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.code) }

func TestWrapf(t *testing.T) {
	assert.NoError(t, apperrors.Wrapf(nil, "write %s", "refreshToken"))

	err := apperrors.Wrapf(apperrors.ErrStorageUnavailable, "write %s", "refreshToken")
	require.Error(t, err)
	assert.Equal(t, "write refreshToken: storage unavailable", err.Error())
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageUnavailable))
}

func TestAs(t *testing.T) {
	err := apperrors.Wrapf(&statusError{code: 401}, "login")

	var target *statusError
	require.True(t, apperrors.As(err, &target))
	assert.Equal(t, 401, target.code)
	assert.False(t, apperrors.Is(err, apperrors.ErrNotFound))
}
