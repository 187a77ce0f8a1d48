package session_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jrsteele09/billing-console/authapi"
	apperrors "github.com/jrsteele09/billing-console/internal/errors"
	"github.com/jrsteele09/billing-console/session"
)

func mintToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func TestTokenSourceReusesFreshToken(t *testing.T) {
	f := setupTestFixture(t)
	a := f.openTab(t)
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	access := mintToken(t, expiry)
	a.creds.SetAccessToken(access)

	tok, err := a.controller.TokenSource().Token()
	require.NoError(t, err)
	assert.Equal(t, access, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, expiry.Equal(tok.Expiry))
}

func TestTokenSourceRefreshesNearExpiry(t *testing.T) {
	f := setupTestFixture(t)
	a := f.openTab(t)
	a.creds.SetAccessToken(mintToken(t, time.Now().Add(10*time.Second)))
	a.creds.SetRefreshToken(f.ctx, "rt-1")

	fresh := mintToken(t, time.Now().Add(time.Hour))
	a.api.EXPECT().Refresh(gomock.Any(), "rt-1").Return(&authapi.Credentials{Token: fresh, RefreshToken: "rt-2", SessionID: "s-1"}, nil)

	tok, err := a.controller.TokenSource().Token()
	require.NoError(t, err)
	assert.Equal(t, fresh, tok.AccessToken)
	at, _ := a.creds.AccessToken()
	assert.Equal(t, fresh, at)
}

func TestTokenSourceOpaqueTokenNeverExpires(t *testing.T) {
	f := setupTestFixture(t)
	a := f.openTab(t)
	a.creds.SetAccessToken("opaque")

	tok, err := a.controller.TokenSource().Token()
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok.AccessToken)
	assert.True(t, tok.Expiry.IsZero())
}

func TestTokenSourceWithoutRefreshToken(t *testing.T) {
	f := setupTestFixture(t)
	a := f.openTab(t)

	_, err := a.controller.TokenSource().Token()
	assert.ErrorIs(t, err, apperrors.ErrNoRefreshToken)
}

func TestTokenSourceSignsOutOnRejectedRefresh(t *testing.T) {
	f := setupTestFixture(t)
	a := f.openTab(t)
	b := f.openTab(t)
	f.signIn(t, a)
	a.creds.SetAccessToken("")

	a.api.EXPECT().Refresh(gomock.Any(), "rt-1").Return(nil, &authapi.Error{StatusCode: http.StatusUnauthorized, Code: "invalid_token"})

	_, err := a.controller.TokenSource().Token()
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assertSignedOut(t, a)
	assertSignedOut(t, b)
}

func TestTokenSourceKeepsSessionOnTransientFailure(t *testing.T) {
	f := setupTestFixture(t)
	a := f.openTab(t)
	f.signIn(t, a)
	a.creds.SetAccessToken("")

	a.api.EXPECT().Refresh(gomock.Any(), "rt-1").Return(nil, errNetwork)

	_, err := a.controller.TokenSource().Token()
	assert.ErrorIs(t, err, errNetwork)
	assert.True(t, a.controller.State().IsAuthenticated)
	assert.Equal(t, session.PhaseAuthenticated, a.controller.Phase())
}

func TestBoundTokenSource(t *testing.T) {
	var bound session.BoundTokenSource
	_, err := bound.Token()
	assert.ErrorIs(t, err, apperrors.ErrNoAccessToken)

	f := setupTestFixture(t)
	a := f.openTab(t)
	a.creds.SetAccessToken("opaque")
	bound.Bind(a.controller.TokenSource())

	tok, err := bound.Token()
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok.AccessToken)
}
