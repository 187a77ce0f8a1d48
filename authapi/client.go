// Package authapi is the HTTP client for the billing Auth API.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	tracerName     = "github.com/jrsteele09/billing-console/authapi"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 64 << 10

	DefaultUserAgent = "billing-console/1.0"
)

// Client calls the Auth API. Calls that act on the current session are
// authorized with a bearer token taken from the configured token source.
type Client struct {
	baseURL *url.URL
	plain   *http.Client
	authed  *http.Client
	tokens  oauth2.TokenSource
	timeout time.Duration
	agent   string
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.plain = hc
	}
}

// WithTokenSource sets where bearer tokens for session calls come from.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent header; the API records it as the
// session's device description.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.agent = ua
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[authapi.New] parse base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("[authapi.New] base URL must be absolute")
	}

	c := &Client{
		baseURL: u,
		timeout: defaultTimeout,
		agent:   DefaultUserAgent,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.plain == nil {
		c.plain = &http.Client{Timeout: c.timeout}
	}

	base := c.plain.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.authed = &http.Client{
		Timeout:   c.plain.Timeout,
		Transport: &oauth2.Transport{Source: c.tokenSource(), Base: base},
	}
	return c, nil
}

func (c *Client) tokenSource() oauth2.TokenSource {
	if c.tokens != nil {
		return c.tokens
	}
	return tokenSourceFunc(func() (*oauth2.Token, error) {
		return nil, errors.New("authapi: no token source configured")
	})
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, c.plain, http.MethodPost, RouteLogin, req, &resp); err != nil {
		return nil, pkgerrors.Wrap(err, "[authapi.Login]")
	}
	return &resp, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.do(ctx, c.plain, http.MethodPost, RouteRegister, req, &resp); err != nil {
		return nil, pkgerrors.Wrap(err, "[authapi.Register]")
	}
	return &resp, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	var resp Credentials
	if err := c.do(ctx, c.plain, http.MethodPost, RouteRefresh, RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, pkgerrors.Wrap(err, "[authapi.Refresh]")
	}
	return &resp, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return pkgerrors.Wrap(c.do(ctx, c.authed, http.MethodPost, RouteLogout, nil, nil), "[authapi.Logout]")
}

func (c *Client) LogoutAll(ctx context.Context) error {
	return pkgerrors.Wrap(c.do(ctx, c.authed, http.MethodPost, RouteLogoutAll, nil, nil), "[authapi.LogoutAll]")
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var resp sessionsEnvelope
	if err := c.do(ctx, c.authed, http.MethodGet, RouteSessions, nil, &resp); err != nil {
		return nil, pkgerrors.Wrap(err, "[authapi.ListSessions]")
	}
	return resp.Sessions, nil
}

func (c *Client) TerminateSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("[authapi.TerminateSession] session id is required")
	}
	path := strings.Replace(RouteTerminateSession, "{sessionId}", url.PathEscape(sessionID), 1)
	return pkgerrors.Wrap(c.do(ctx, c.authed, http.MethodPost, path, nil, nil), "[authapi.TerminateSession]")
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "authapi "+method+" "+path, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return pkgerrors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return pkgerrors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.agent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(raw) == 0 || json.Unmarshal(raw, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(err, "decode response")
	}
	return nil
}
