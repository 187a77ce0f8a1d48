// Package fakeserver is an in-memory implementation of the Auth API. It
// backs the client tests and the console's --fake mode.
package fakeserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/billing-console/authapi"
)

const issuer = "billing-fake-auth"

type session struct {
	info         authapi.SessionInfo
	userID       string
	refreshToken string
	revoked      bool
}

// Server implements every Auth API route against in-memory state.
type Server struct {
	router     chi.Router
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger

	mu       sync.RWMutex
	users    map[string]*user // by email
	tenants  map[string]*tenant
	sessions map[string]*session
	refresh  map[string]string // refresh token -> session id
	faults   map[string]int    // route -> status to return once
	calls    map[string]int
}

// Option configures a Server.
type Option func(*Server)

func WithAccessTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = d
	}
}

func WithRefreshTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.refreshTTL = d
	}
}

// WithNowTime sets the clock (primarily for testing)
func WithNowTime(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func WithSigningKey(key []byte) Option {
	return func(s *Server) {
		s.signingKey = key
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		signingKey: []byte(uuid.NewString()),
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
		log:        log.With().Str("component", "fakeserver").Logger(),
		users:      make(map[string]*user),
		tenants:    make(map[string]*tenant),
		sessions:   make(map[string]*session),
		refresh:    make(map[string]string),
		faults:     make(map[string]int),
		calls:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.logRequests, s.recoverPanics)
	r.Post(authapi.RouteLogin, s.handleLogin)
	r.Post(authapi.RouteRegister, s.handleRegister)
	r.Post(authapi.RouteRefresh, s.handleRefresh)
	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Post(authapi.RouteLogout, s.handleLogout)
		r.Post(authapi.RouteLogoutAll, s.handleLogoutAll)
		r.Get(authapi.RouteSessions, s.handleListSessions)
		r.Post(authapi.RouteTerminateSession, s.handleTerminateSession)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.URL.Path
	if strings.HasPrefix(route, "/auth/sessions/") && strings.HasSuffix(route, "/logout") {
		route = authapi.RouteTerminateSession
	}

	s.mu.Lock()
	s.calls[route]++
	status, faulted := s.faults[route]
	delete(s.faults, route)
	s.mu.Unlock()

	if faulted {
		s.log.Debug().Str("route", route).Int("status", status).Msg("injecting fault")
		writeError(w, status, "injected_fault", "injected failure")
		return
	}
	s.router.ServeHTTP(w, r)
}

// FailNext makes the next call to route answer with status.
func (s *Server) FailNext(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = status
}

// Calls reports how many requests reached route.
func (s *Server) Calls(route string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[route]
}

// SeedUser adds a user, creating its tenant when tenantID is new.
func (s *Server) SeedUser(email, password, role, tenantID string) (userID string, err error) {
	hash, err := hashPassword(password)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if tenantID != "" {
		if _, ok := s.tenants[tenantID]; !ok {
			s.tenants[tenantID] = &tenant{ID: tenantID, Name: tenantID}
		}
	}
	u := &user{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		Role:         role,
		TenantID:     tenantID,
	}
	s.users[u.Email] = u
	return u.ID, nil
}

// RevokeAll revokes every session, as a server-side password reset would.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		s.revokeLocked(sess)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authapi.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(req.Email)]
	if !ok || !checkPasswordHash(req.Password, u.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	creds, err := s.openSessionLocked(u, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, authapi.LoginResponse{
		Credentials: *creds,
		UserID:      u.ID,
		TenantID:    u.TenantID,
		Role:        u.Role,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authapi.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TenantName == "" || req.AdminEmail == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant name and admin email are required")
		return
	}
	if err := validatePasswordStrength(req.AdminPassword); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
		return
	}
	hash, err := hashPassword(req.AdminPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(req.AdminEmail)
	if _, exists := s.users[email]; exists {
		writeError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
		return
	}
	t := &tenant{ID: uuid.NewString(), Name: req.TenantName, Slug: req.TenantSlug}
	u := &user{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         req.AdminName,
		PasswordHash: hash,
		Role:         RoleAdmin,
		TenantID:     t.ID,
	}
	s.tenants[t.ID] = t
	s.users[email] = u
	writeJSON(w, http.StatusCreated, authapi.RegisterResponse{TenantID: t.ID, UserID: u.ID})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authapi.RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessionForRefreshLocked(req.RefreshToken)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token is invalid or expired")
		return
	}
	u := s.userByIDLocked(sess.userID)
	if u == nil {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "user no longer exists")
		return
	}

	// Rotate: the presented refresh token is single use.
	delete(s.refresh, sess.refreshToken)
	rt, err := newRefreshToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	at, err := s.issueAccessToken(u, sess.info.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	now := s.now()
	sess.refreshToken = rt
	sess.info.LastActiveAt = now
	sess.info.ExpiresAt = now.Add(s.refreshTTL)
	s.refresh[rt] = sess.info.ID

	writeJSON(w, http.StatusOK, authapi.Credentials{
		Token:            at,
		RefreshToken:     rt,
		SessionID:        sess.info.ID,
		ExpiresIn:        seconds(s.accessTTL),
		RefreshExpiresIn: seconds(s.refreshTTL),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	s.mu.Lock()
	if sess, ok := s.sessions[claims.SessionID]; ok {
		s.revokeLocked(sess)
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	s.mu.Lock()
	for _, sess := range s.sessions {
		if sess.userID == claims.Subject {
			s.revokeLocked(sess)
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	now := s.now()

	s.mu.RLock()
	list := make([]authapi.SessionInfo, 0)
	for _, sess := range s.sessions {
		if sess.userID == claims.Subject && !sess.revoked && now.Before(sess.info.ExpiresAt) {
			list = append(list, sess.info)
		}
	}
	s.mu.RUnlock()

	sortSessions(list)
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	id := chi.URLParam(r, "sessionId")

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.userID != claims.Subject {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}
	s.revokeLocked(sess)
	w.WriteHeader(http.StatusNoContent)
}

type claimsKey struct{}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := s.parseAccessToken(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", err.Error())
			return
		}

		s.mu.RLock()
		sess, ok := s.sessions[claims.SessionID]
		active := ok && !sess.revoked
		s.mu.RUnlock()
		if !active {
			writeError(w, http.StatusUnauthorized, "session_revoked", "session is no longer active")
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func (s *Server) openSessionLocked(u *user, r *http.Request) (*authapi.Credentials, error) {
	now := s.now()
	sess := &session{
		info: authapi.SessionInfo{
			ID:           uuid.NewString(),
			DeviceInfo:   describeDevice(r.UserAgent()),
			IPAddress:    clientIP(r),
			CreatedAt:    now,
			LastActiveAt: now,
			ExpiresAt:    now.Add(s.refreshTTL),
		},
		userID: u.ID,
	}
	rt, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	at, err := s.issueAccessToken(u, sess.info.ID)
	if err != nil {
		return nil, err
	}
	sess.refreshToken = rt
	s.sessions[sess.info.ID] = sess
	s.refresh[rt] = sess.info.ID

	return &authapi.Credentials{
		Token:            at,
		RefreshToken:     rt,
		SessionID:        sess.info.ID,
		ExpiresIn:        seconds(s.accessTTL),
		RefreshExpiresIn: seconds(s.refreshTTL),
	}, nil
}

func (s *Server) sessionForRefreshLocked(token string) *session {
	id, ok := s.refresh[token]
	if !ok {
		return nil
	}
	sess, ok := s.sessions[id]
	if !ok || sess.revoked || !s.now().Before(sess.info.ExpiresAt) {
		return nil
	}
	return sess
}

func (s *Server) userByIDLocked(id string) *user {
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (s *Server) revokeLocked(sess *session) {
	sess.revoked = true
	delete(s.refresh, sess.refreshToken)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("fakeserver: encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, authapi.Error{Code: code, Message: message})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var errNoClaims = errors.New("no claims in context")
