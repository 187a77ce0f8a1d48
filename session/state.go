package session

import "strings"

// Phase is the position of the authentication state machine.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseAuthenticated
	PhaseUnauthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseUnauthenticated:
		return "unauthenticated"
	default:
		return "uninitialized"
	}
}

type TenantMembership struct {
	TenantID string `json:"tenantId"`
	Role     string `json:"role"`
}

// User is the identity projection held while signed in. Name is empty when
// the projection was rebuilt from storage or from another instance, since
// the display name is never persisted.
type User struct {
	ID      string             `json:"id"`
	Email   string             `json:"email"`
	Name    string             `json:"name"`
	Role    string             `json:"role"`
	Tenants []TenantMembership `json:"tenants,omitempty"`
}

// State is one instance's view of the session. IsAuthenticated is true
// exactly when User is set.
type State struct {
	User            *User
	TenantID        string
	IsAuthenticated bool
	IsInitialized   bool
	Phase           Phase
}

func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		u.Tenants = append([]TenantMembership(nil), s.User.Tenants...)
		s.User = &u
	}
	return s
}

// projectUser builds the identity projection from persisted or broadcast
// fields. Roles are normalised to lower case.
func projectUser(id, email, role, tenantID string) User {
	role = strings.ToLower(role)
	u := User{ID: id, Email: email, Role: role}
	if tenantID != "" {
		u.Tenants = []TenantMembership{{TenantID: tenantID, Role: role}}
	}
	return u
}

// event is a state transition. Direct calls and messages from other
// instances go through the same events.
type event interface {
	apply(State) State
}

type initStarted struct{}

func (initStarted) apply(s State) State {
	if !s.IsInitialized {
		s.Phase = PhaseInitializing
	}
	return s
}

type initFinished struct{}

func (initFinished) apply(s State) State {
	s.IsInitialized = true
	if s.IsAuthenticated {
		s.Phase = PhaseAuthenticated
	} else {
		s.Phase = PhaseUnauthenticated
	}
	return s
}

type signedIn struct {
	user     User
	tenantID string
}

func (e signedIn) apply(s State) State {
	u := e.user
	s.User = &u
	s.TenantID = e.tenantID
	s.IsAuthenticated = true
	s.Phase = PhaseAuthenticated
	return s
}

type signedOut struct{}

func (signedOut) apply(s State) State {
	s.User = nil
	s.TenantID = ""
	s.IsAuthenticated = false
	s.Phase = PhaseUnauthenticated
	return s
}

type userSet struct {
	user User
}

func (e userSet) apply(s State) State {
	u := e.user
	s.User = &u
	s.IsAuthenticated = true
	s.Phase = PhaseAuthenticated
	return s
}

type tenantSelected struct {
	tenantID string
}

func (e tenantSelected) apply(s State) State {
	s.TenantID = e.tenantID
	return s
}

// reduce folds events over s.
func reduce(s State, events ...event) State {
	for _, e := range events {
		s = e.apply(s)
	}
	return s
}
