// Package session owns the authentication state machine of one client
// instance: bootstrap, login, logout, credential refresh, and mirroring
// sign-in/sign-out events from sibling instances.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/billing-console/authapi"
	"github.com/jrsteele09/billing-console/broadcast"
	"github.com/jrsteele09/billing-console/credentials"
	apperrors "github.com/jrsteele09/billing-console/internal/errors"
	"github.com/jrsteele09/billing-console/internal/metrics"
)

const (
	flightInitialize = "initialize"
	flightRefresh    = "refresh"

	defaultRefreshLeeway = 30 * time.Second
	localCleanupTimeout  = 5 * time.Second

	logoutSingle = "single"
	logoutAll    = "all"
)

// Controller is the session state machine for one instance. Construct one
// per instance with New; it is safe for concurrent use.
type Controller struct {
	api     AuthAPI
	creds   *credentials.Store
	bus     Bus
	log     zerolog.Logger
	metrics *metrics.Metrics
	leeway  time.Duration
	nowTime func() time.Time

	flights singleflight.Group

	mu        sync.RWMutex
	state     State
	observers map[int]func(State)
	nextID    int

	unsubscribe func()
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithRefreshLeeway sets how close to expiry an access token may get
// before TokenSource refreshes it.
func WithRefreshLeeway(d time.Duration) Option {
	return func(c *Controller) {
		c.leeway = d
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Controller) {
		c.nowTime = nowFunc
	}
}

// New creates a Controller and subscribes it to bus.
func New(api AuthAPI, creds *credentials.Store, bus Bus, opts ...Option) (*Controller, error) {
	if api == nil {
		return nil, errors.New("[session.New] api is required")
	}
	if creds == nil {
		return nil, errors.New("[session.New] credential store is required")
	}
	if bus == nil {
		return nil, errors.New("[session.New] bus is required")
	}

	c := &Controller{
		api:       api,
		creds:     creds,
		bus:       bus,
		log:       log.With().Str("component", "session").Logger(),
		leeway:    defaultRefreshLeeway,
		nowTime:   time.Now,
		observers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.unsubscribe = bus.Subscribe(c.onSync)
	return c, nil
}

// Close stops mirroring other instances.
func (c *Controller) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Phase
}

// Subscribe registers fn to be called with the new state after every
// transition.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Initialize runs the bootstrap sequence. Concurrent callers share one
// execution. It always completes with IsInitialized set; an unusable
// refresh token lands the instance in the unauthenticated state instead of
// returning an error.
func (c *Controller) Initialize(ctx context.Context) {
	_, _, _ = c.flights.Do(flightInitialize, func() (any, error) {
		c.initialize(ctx)
		return nil, nil
	})
}

func (c *Controller) initialize(ctx context.Context) {
	c.dispatch(initStarted{})

	refreshToken, ok := c.creds.RefreshToken(ctx)
	if !ok {
		c.creds.Clear(ctx)
		c.dispatch(signedOut{}, initFinished{})
		c.log.Debug().Msg("bootstrap: no refresh token")
		return
	}

	if c.creds.HasAccessToken() {
		c.dispatch(c.restoredSignIn(ctx), initFinished{})
		return
	}

	if _, err := c.refresh(ctx, refreshToken); err != nil {
		c.log.Warn().Err(err).Msg("bootstrap: refresh failed, signing out locally")
		cleanupCtx, cancel := detached(ctx)
		defer cancel()
		c.creds.Clear(cleanupCtx)
		c.creds.RemoveEmail(cleanupCtx)
		c.creds.SetTenantID(cleanupCtx, "")
		c.dispatch(signedOut{}, initFinished{})
		return
	}
	c.dispatch(c.restoredSignIn(ctx), initFinished{})
}

// Login authenticates with email and password. On failure the error from
// the Auth API is returned as is and no state changes.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	resp, err := c.api.Login(ctx, authapi.LoginRequest{Email: email, Password: password})
	c.metrics.ObserveLogin(err)
	if err != nil {
		return err
	}

	c.creds.SetAccessToken(resp.Token)
	c.creds.SetRefreshToken(ctx, resp.RefreshToken)
	c.creds.SetSessionID(ctx, resp.SessionID)
	c.creds.SetUserID(ctx, resp.UserID)
	c.creds.SetRole(ctx, resp.Role)
	c.creds.SetEmail(ctx, email)
	c.creds.SetTenantID(ctx, resp.TenantID)

	c.dispatch(signedIn{
		user:     projectUser(resp.UserID, email, resp.Role, resp.TenantID),
		tenantID: resp.TenantID,
	})
	c.bus.Broadcast(ctx, broadcast.SignedIn(broadcast.SignedInPayload{
		UserID:   resp.UserID,
		Role:     resp.Role,
		Email:    email,
		TenantID: resp.TenantID,
	}))
	c.log.Info().Str("user_id", resp.UserID).Str("tenant_id", resp.TenantID).Msg("signed in")
	return nil
}

// Register creates a tenant and its admin, then signs in as that admin.
// A login failure after a successful registration is returned as is.
func (c *Controller) Register(ctx context.Context, req authapi.RegisterRequest) error {
	if _, err := c.api.Register(ctx, req); err != nil {
		return err
	}
	return c.Login(ctx, req.AdminEmail, req.AdminPassword)
}

// Logout ends the session. The remote call is best effort: local state is
// cleared and other instances are told to sign out whatever it returns.
func (c *Controller) Logout(ctx context.Context) {
	var remoteErr error
	defer func() {
		c.metrics.ObserveLogout(logoutSingle, remoteErr)
		c.signOutLocally(ctx)
	}()

	if remoteErr = c.api.Logout(ctx); remoteErr != nil {
		c.log.Warn().Err(remoteErr).Msg("remote logout failed")
	}
}

// LogoutAll ends every session of the user. Local cleanup is unconditional,
// as with Logout. A failed remote call is returned wrapped in
// ErrRemoteLogoutFailed so callers can warn that other devices may still be
// signed in.
func (c *Controller) LogoutAll(ctx context.Context) (err error) {
	defer func() {
		c.metrics.ObserveLogout(logoutAll, err)
		c.signOutLocally(ctx)
	}()

	if remoteErr := c.api.LogoutAll(ctx); remoteErr != nil {
		c.log.Warn().Err(remoteErr).Msg("remote logout-all failed")
		return fmt.Errorf("%w: %w", apperrors.ErrRemoteLogoutFailed, remoteErr)
	}
	return nil
}

// SetUser injects an identity known by other means. Credentials are left
// untouched.
func (c *Controller) SetUser(u User) {
	c.dispatch(userSet{user: u})
}

// SetTenantID persists the selected tenant and updates local state. Tenant
// selection is local to this instance and is not broadcast.
func (c *Controller) SetTenantID(ctx context.Context, tenantID string) {
	c.creds.SetTenantID(ctx, tenantID)
	c.dispatch(tenantSelected{tenantID: tenantID})
}

func (c *Controller) HasAccessToken() bool {
	return c.creds.HasAccessToken()
}

// Refresh exchanges the stored refresh token for a new credential bundle.
// Errors from the Auth API are returned as is.
func (c *Controller) Refresh(ctx context.Context) error {
	refreshToken, ok := c.creds.RefreshToken(ctx)
	if !ok {
		return apperrors.ErrNoRefreshToken
	}
	_, err := c.refresh(ctx, refreshToken)
	return err
}

// refresh performs one remote refresh at a time; concurrent callers share
// its result. The result is not persisted when the stored refresh token
// changed while the call was in flight, so a newer login is never replaced
// by the rotated tokens of the session it superseded.
func (c *Controller) refresh(ctx context.Context, refreshToken string) (*authapi.Credentials, error) {
	v, err, _ := c.flights.Do(flightRefresh, func() (any, error) {
		creds, err := c.api.Refresh(ctx, refreshToken)
		c.metrics.ObserveRefresh(err)
		if err != nil {
			return nil, err
		}
		if current, _ := c.creds.RefreshToken(ctx); current != refreshToken {
			c.log.Debug().Msg("refresh superseded by a newer session, discarding result")
			return creds, nil
		}
		c.creds.SetAccessToken(creds.Token)
		c.creds.SetRefreshToken(ctx, creds.RefreshToken)
		c.creds.SetSessionID(ctx, creds.SessionID)
		return creds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*authapi.Credentials), nil
}

func (c *Controller) ListSessions(ctx context.Context) ([]authapi.SessionInfo, error) {
	return c.api.ListSessions(ctx)
}

// TerminateSession ends one server-side session. Ending this instance's own
// session also signs out locally.
func (c *Controller) TerminateSession(ctx context.Context, sessionID string) error {
	if err := c.api.TerminateSession(ctx, sessionID); err != nil {
		return err
	}
	if current, ok := c.creds.SessionID(ctx); ok && current == sessionID {
		c.signOutLocally(ctx)
	}
	return nil
}

// signOutLocally must complete even when ctx is already done: the caller's
// deadline often is the reason the remote call failed.
func (c *Controller) signOutLocally(ctx context.Context) {
	ctx, cancel := detached(ctx)
	defer cancel()

	c.creds.Clear(ctx)
	c.creds.RemoveEmail(ctx)
	c.dispatch(signedOut{})
	c.bus.Broadcast(ctx, broadcast.SignedOut())
	c.log.Info().Msg("signed out")
}

// detached keeps ctx's values but not its cancellation, bounded by
// localCleanupTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), localCleanupTimeout)
}

func (c *Controller) restoredSignIn(ctx context.Context) signedIn {
	userID, _ := c.creds.UserID(ctx)
	role, _ := c.creds.Role(ctx)
	email, _ := c.creds.Email(ctx)
	tenantID, _ := c.creds.TenantID(ctx)
	return signedIn{user: projectUser(userID, email, role, tenantID), tenantID: tenantID}
}

// onSync mirrors a message from another instance. Durable fields are
// already shared through storage, so only in-memory state changes.
func (c *Controller) onSync(msg broadcast.Message) {
	switch msg.Kind {
	case broadcast.KindSignedIn:
		if msg.Payload == nil {
			c.log.Warn().Str("id", msg.ID).Msg("sign-in message without payload")
			return
		}
		p := msg.Payload
		c.dispatch(signedIn{user: projectUser(p.UserID, p.Email, p.Role, p.TenantID), tenantID: p.TenantID})
	case broadcast.KindSignedOut:
		// The access token is private to this instance and now belongs to
		// a revoked session.
		c.creds.SetAccessToken("")
		c.dispatch(signedOut{})
	default:
		c.log.Debug().Str("kind", string(msg.Kind)).Msg("ignoring unknown sync message")
		return
	}
	c.metrics.ObserveSyncReceived(strings.ToLower(string(msg.Kind)))
}

func (c *Controller) dispatch(events ...event) {
	c.mu.Lock()
	c.state = reduce(c.state, events...)
	snapshot := c.state.clone()
	observers := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}
