package authapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/billing-console/authapi"
	"github.com/jrsteele09/billing-console/authapi/fakeserver"
	apperrors "github.com/jrsteele09/billing-console/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "Secret123"
	testTenantID = "tenant-1"
)

// bearer is a mutable oauth2.TokenSource for tests.
type bearer struct{ token string }

func (b *bearer) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: b.token}, nil
}

type testFixture struct {
	fake   *fakeserver.Server
	client *authapi.Client
	bearer *bearer
	userID string
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	fake := fakeserver.New()
	userID, err := fake.SeedUser(testEmail, testPassword, fakeserver.RoleAdmin, testTenantID)
	require.NoError(t, err)

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b := &bearer{}
	client, err := authapi.New(srv.URL, authapi.WithTokenSource(b), authapi.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	return &testFixture{fake: fake, client: client, bearer: b, userID: userID}
}

func (f *testFixture) login(t *testing.T) *authapi.LoginResponse {
	t.Helper()
	resp, err := f.client.Login(context.Background(), authapi.LoginRequest{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	f.bearer.token = resp.Token
	return resp
}

func TestLogin(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("returns the full bundle", func(t *testing.T) {
		resp := f.login(t)
		assert.NotEmpty(t, resp.Token)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.NotEmpty(t, resp.SessionID)
		assert.Equal(t, f.userID, resp.UserID)
		assert.Equal(t, testTenantID, resp.TenantID)
		assert.Equal(t, "ADMIN", resp.Role)
		assert.Positive(t, resp.ExpiresIn)
		assert.Positive(t, resp.RefreshExpiresIn)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		_, err := f.client.Login(context.Background(), authapi.LoginRequest{Email: testEmail, Password: "nope"})
		require.Error(t, err)
		assert.True(t, authapi.IsUnauthorized(err))

		var apiErr *authapi.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "invalid_credentials", apiErr.Code)
	})
}

func TestRefreshRotatesToken(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	first := f.login(t)

	creds, err := f.client.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, creds.RefreshToken)
	assert.Equal(t, first.SessionID, creds.SessionID)
	assert.NotEmpty(t, creds.Token)

	_, err = f.client.Refresh(ctx, first.RefreshToken)
	assert.True(t, authapi.IsUnauthorized(err), "a used refresh token must be rejected")
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	req := authapi.RegisterRequest{
		TenantName:    "Acme",
		AdminEmail:    "owner@acme.test",
		AdminPassword: "Str0ngPass",
		AdminName:     "Owner",
	}
	resp, err := f.client.Register(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.TenantID)

	login, err := f.client.Login(ctx, authapi.LoginRequest{Email: req.AdminEmail, Password: req.AdminPassword})
	require.NoError(t, err)
	assert.Equal(t, resp.TenantID, login.TenantID)

	t.Run("duplicate email conflicts", func(t *testing.T) {
		_, err := f.client.Register(ctx, req)
		var apiErr *authapi.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	})

	t.Run("weak password is invalid", func(t *testing.T) {
		weak := req
		weak.AdminEmail = "other@acme.test"
		weak.AdminPassword = "short"
		_, err := f.client.Register(ctx, weak)
		assert.ErrorIs(t, err, apperrors.ErrInvalid)
	})
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	older := f.login(t)
	current := f.login(t)

	sessions, err := f.client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.NotEmpty(t, sessions[0].DeviceInfo)
	assert.NotEmpty(t, sessions[0].IPAddress)

	require.NoError(t, f.client.TerminateSession(ctx, older.SessionID))
	sessions, err = f.client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, current.SessionID, sessions[0].ID)

	err = f.client.TerminateSession(ctx, "does-not-exist")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLogoutRevokesSession(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	resp := f.login(t)

	require.NoError(t, f.client.Logout(ctx))

	_, err := f.client.ListSessions(ctx)
	assert.True(t, authapi.IsUnauthorized(err))
	_, err = f.client.Refresh(ctx, resp.RefreshToken)
	assert.True(t, authapi.IsUnauthorized(err))
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	other := f.login(t)
	f.login(t)

	require.NoError(t, f.client.LogoutAll(ctx))

	_, err := f.client.Refresh(ctx, other.RefreshToken)
	assert.True(t, authapi.IsUnauthorized(err))
}

func TestInjectedFault(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.fake.FailNext(authapi.RouteLogout, http.StatusServiceUnavailable)

	err := f.client.Logout(context.Background())
	var apiErr *authapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, 1, f.fake.Calls(authapi.RouteLogout))
}

func TestErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client, err := authapi.New(srv.URL)
	require.NoError(t, err)

	_, err = client.Login(context.Background(), authapi.LoginRequest{Email: testEmail, Password: testPassword})
	var apiErr *authapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Code)
}

func TestSessionCallsNeedATokenSource(t *testing.T) {
	client, err := authapi.New("http://127.0.0.1:1")
	require.NoError(t, err)
	assert.Error(t, client.Logout(context.Background()))
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := authapi.New("/auth")
	assert.Error(t, err)
}
