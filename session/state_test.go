package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceBootstrapPaths(t *testing.T) {
	s := reduce(State{}, initStarted{})
	assert.Equal(t, PhaseInitializing, s.Phase)
	assert.False(t, s.IsInitialized)

	out := reduce(s, signedOut{}, initFinished{})
	assert.Equal(t, PhaseUnauthenticated, out.Phase)
	assert.True(t, out.IsInitialized)

	in := reduce(s, signedIn{user: projectUser("u-1", "a@b.com", "ADMIN", "t-1"), tenantID: "t-1"}, initFinished{})
	assert.Equal(t, PhaseAuthenticated, in.Phase)
	assert.True(t, in.IsAuthenticated)
	require.NotNil(t, in.User)
	assert.Equal(t, "t-1", in.TenantID)
}

func TestReinitialisingKeepsInitializedFlag(t *testing.T) {
	s := reduce(State{}, initStarted{}, signedIn{user: User{ID: "u-1"}}, initFinished{})

	again := reduce(s, initStarted{})
	assert.True(t, again.IsInitialized)
	assert.Equal(t, PhaseAuthenticated, again.Phase, "a second pass must not regress the phase")
}

func TestSignedOutClearsIdentity(t *testing.T) {
	s := reduce(State{}, signedIn{user: User{ID: "u-1"}, tenantID: "t-1"}, signedOut{})
	assert.Nil(t, s.User)
	assert.Empty(t, s.TenantID)
	assert.False(t, s.IsAuthenticated)
	assert.Equal(t, PhaseUnauthenticated, s.Phase)
}

func TestUserSetAndTenantSelected(t *testing.T) {
	s := reduce(State{TenantID: "t-1"}, userSet{user: User{ID: "u-9", Name: "Ada"}})
	assert.True(t, s.IsAuthenticated)
	assert.Equal(t, "Ada", s.User.Name)
	assert.Equal(t, "t-1", s.TenantID, "setting the user keeps the tenant")

	s = reduce(s, tenantSelected{tenantID: "t-2"})
	assert.Equal(t, "t-2", s.TenantID)
	assert.True(t, s.IsAuthenticated)
}

func TestProjectUser(t *testing.T) {
	u := projectUser("u-1", "a@b.com", "ADMIN", "t-1")
	assert.Equal(t, "admin", u.Role)
	assert.Empty(t, u.Name)
	assert.Equal(t, []TenantMembership{{TenantID: "t-1", Role: "admin"}}, u.Tenants)

	assert.Empty(t, projectUser("u-1", "", "member", "").Tenants)
}

func TestCloneDetachesUser(t *testing.T) {
	s := reduce(State{}, signedIn{user: projectUser("u-1", "a@b.com", "admin", "t-1")})
	c := s.clone()
	c.User.Email = "changed"
	c.User.Tenants[0].TenantID = "changed"

	assert.Equal(t, "a@b.com", s.User.Email)
	assert.Equal(t, "t-1", s.User.Tenants[0].TenantID)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "uninitialized", PhaseUninitialized.String())
	assert.Equal(t, "initializing", PhaseInitializing.String())
	assert.Equal(t, "authenticated", PhaseAuthenticated.String())
	assert.Equal(t, "unauthenticated", PhaseUnauthenticated.String())
}
