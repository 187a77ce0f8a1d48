package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/billing-console/authapi"
	apperrors "github.com/jrsteele09/billing-console/internal/errors"
)

// TokenSource returns an oauth2.TokenSource for calls to other services.
// It hands out the in-memory access token while it is outside the refresh
// leeway of its expiry and refreshes it otherwise. A refresh rejected as
// unauthorized signs this instance out.
func (c *Controller) TokenSource() oauth2.TokenSource {
	return &tokenSource{c: c}
}

type tokenSource struct {
	c *Controller
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	c := ts.c
	if access, ok := c.creds.AccessToken(); ok {
		expiry := accessTokenExpiry(access)
		if expiry.IsZero() || c.nowTime().Add(c.leeway).Before(expiry) {
			return bearer(access, expiry), nil
		}
	}

	// oauth2.TokenSource has no context; the refresh runs under the
	// transport's request lifetime.
	ctx := context.Background()
	refreshToken, ok := c.creds.RefreshToken(ctx)
	if !ok {
		return nil, apperrors.ErrNoRefreshToken
	}
	creds, err := c.refresh(ctx, refreshToken)
	if err != nil {
		if authapi.IsUnauthorized(err) {
			c.log.Warn().Err(err).Msg("refresh rejected, signing out locally")
			c.signOutLocally(ctx)
		}
		return nil, pkgerrors.Wrap(err, "[session.TokenSource] refresh")
	}
	return bearer(creds.Token, accessTokenExpiry(creds.Token)), nil
}

func bearer(access string, expiry time.Time) *oauth2.Token {
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer", Expiry: expiry}
}

// accessTokenExpiry reads exp without verifying the signature; the token is
// only inspected to decide when to refresh. Opaque or exp-less tokens yield
// the zero time.
func accessTokenExpiry(access string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// BoundTokenSource is an oauth2.TokenSource whose target is set after
// construction. The Auth API client needs a token source before the
// Controller that refreshes its tokens exists; bind the two once both are
// built.
type BoundTokenSource struct {
	target atomic.Pointer[oauth2.TokenSource]
}

// Bind directs Token calls to ts.
func (b *BoundTokenSource) Bind(ts oauth2.TokenSource) {
	b.target.Store(&ts)
}

func (b *BoundTokenSource) Token() (*oauth2.Token, error) {
	ts := b.target.Load()
	if ts == nil {
		return nil, apperrors.ErrNoAccessToken
	}
	return (*ts).Token()
}
