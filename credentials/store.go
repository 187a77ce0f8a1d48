// Package credentials owns credential persistence for one client instance.
//
// The access token lives only in process memory. Every other field is
// written to the origin's durable storage so it survives a restart and is
// visible to sibling instances of the same origin.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	apperrors "github.com/jrsteele09/billing-console/internal/errors"
	"github.com/jrsteele09/billing-console/storage"
)

// Durable storage keys.
const (
	KeyRefreshToken = "refreshToken"
	KeySessionID    = "sessionId"
	KeyUserID       = "userId"
	KeyRole         = "role"
	KeyUserEmail    = "userEmail"
	KeyTenantID     = "selectedTenantId"
)

// clearedKeys are the durable fields owned and wiped by Clear.
var clearedKeys = []string{KeyRefreshToken, KeySessionID, KeyUserID, KeyRole}

// Change is delivered to same-instance subscribers after a durable write.
// Cleared is set (and Key empty) when Clear wiped the store.
type Change struct {
	Key     string
	Value   string
	Cleared bool
}

// Store holds the access token in memory and the rest of the credential
// bundle in durable storage. A nil durable storage behaves as unavailable
// storage: writes are dropped and reads report absent.
type Store struct {
	durable storage.Storage
	log     zerolog.Logger

	mu          sync.RWMutex
	accessToken string

	watchMu  sync.Mutex
	watchers map[int]func(Change)
	nextID   int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used to report storage failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New creates a Store backed by durable.
func New(durable storage.Storage, opts ...Option) *Store {
	s := &Store{
		durable:  durable,
		log:      log.With().Str("component", "credentials").Logger(),
		watchers: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAccessToken keeps token in memory only. An empty token clears it.
func (s *Store) SetAccessToken(token string) {
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
}

// AccessToken reads memory exclusively; it never consults durable storage.
func (s *Store) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken, s.accessToken != ""
}

func (s *Store) HasAccessToken() bool {
	_, ok := s.AccessToken()
	return ok
}

// Token implements oauth2.TokenSource over the in-memory access token.
func (s *Store) Token() (*oauth2.Token, error) {
	at, ok := s.AccessToken()
	if !ok {
		return nil, apperrors.ErrNoAccessToken
	}
	return &oauth2.Token{AccessToken: at, TokenType: "Bearer"}, nil
}

func (s *Store) SetRefreshToken(ctx context.Context, token string) {
	s.write(ctx, KeyRefreshToken, token)
}

func (s *Store) RefreshToken(ctx context.Context) (string, bool) {
	return s.read(ctx, KeyRefreshToken)
}

func (s *Store) SetSessionID(ctx context.Context, id string) {
	s.write(ctx, KeySessionID, id)
}

func (s *Store) SessionID(ctx context.Context) (string, bool) {
	return s.read(ctx, KeySessionID)
}

func (s *Store) SetUserID(ctx context.Context, id string) {
	s.write(ctx, KeyUserID, id)
}

func (s *Store) UserID(ctx context.Context) (string, bool) {
	return s.read(ctx, KeyUserID)
}

func (s *Store) SetRole(ctx context.Context, role string) {
	s.write(ctx, KeyRole, role)
}

func (s *Store) Role(ctx context.Context) (string, bool) {
	return s.read(ctx, KeyRole)
}

// SetEmail stores the signed-in email. It is not owned by Clear; callers
// remove it explicitly with RemoveEmail.
func (s *Store) SetEmail(ctx context.Context, email string) {
	s.write(ctx, KeyUserEmail, email)
}

func (s *Store) Email(ctx context.Context) (string, bool) {
	return s.read(ctx, KeyUserEmail)
}

func (s *Store) RemoveEmail(ctx context.Context) {
	s.write(ctx, KeyUserEmail, "")
}

// SetTenantID stores the selected tenant. Like the email it survives Clear.
func (s *Store) SetTenantID(ctx context.Context, tenantID string) {
	s.write(ctx, KeyTenantID, tenantID)
}

func (s *Store) TenantID(ctx context.Context) (string, bool) {
	return s.read(ctx, KeyTenantID)
}

// Clear wipes the access token and every durable field the store owns.
// It never fails; unavailable storage only loses the durable half.
func (s *Store) Clear(ctx context.Context) {
	s.SetAccessToken("")
	if s.durable != nil {
		if err := s.durable.Delete(ctx, clearedKeys...); err != nil {
			s.log.Warn().Err(err).Msg("clear: durable delete failed")
		}
	}
	s.notify(Change{Cleared: true})
}

// Subscribe registers fn for durable changes made through this store.
// Changes made by sibling instances are not reported here.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) write(ctx context.Context, key, value string) {
	if s.durable == nil {
		return
	}
	var err error
	if value == "" {
		err = s.durable.Delete(ctx, key)
	} else {
		err = s.durable.Set(ctx, key, value)
	}
	if err != nil {
		s.log.Warn().Err(apperrors.Wrapf(err, "write %s", key)).Msg("durable write failed")
		return
	}
	s.notify(Change{Key: key, Value: value})
}

// Check reports ErrStorageUnavailable when durable fields can be neither
// read nor written. The store keeps working either way; this only lets
// callers tell the user their sign-in will not survive a restart.
func (s *Store) Check(ctx context.Context) error {
	if s.durable == nil {
		return apperrors.ErrStorageUnavailable
	}
	if _, err := s.durable.Get(ctx, KeyRefreshToken); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string) (string, bool) {
	if s.durable == nil {
		return "", false
	}
	v, err := s.durable.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("durable read failed")
		}
		return "", false
	}
	return v, v != ""
}

func (s *Store) notify(c Change) {
	s.watchMu.Lock()
	list := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		list = append(list, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range list {
		fn(c)
	}
}
