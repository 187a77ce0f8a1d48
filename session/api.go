package session

import (
	"context"

	"github.com/jrsteele09/billing-console/authapi"
	"github.com/jrsteele09/billing-console/broadcast"
)

//go:generate mockgen -source=api.go -destination=mocks/mocks.go -package=mocks

// AuthAPI is the remote authentication service.
type AuthAPI interface {
	Login(ctx context.Context, req authapi.LoginRequest) (*authapi.LoginResponse, error)
	Register(ctx context.Context, req authapi.RegisterRequest) (*authapi.RegisterResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*authapi.Credentials, error)
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) error
	ListSessions(ctx context.Context) ([]authapi.SessionInfo, error)
	TerminateSession(ctx context.Context, sessionID string) error
}

// Bus carries sync messages between instances of the same origin.
type Bus interface {
	Subscribe(fn func(broadcast.Message)) (unsubscribe func())
	Broadcast(ctx context.Context, msg broadcast.Message)
}

var (
	_ AuthAPI = (*authapi.Client)(nil)
	_ Bus     = (*broadcast.Broadcaster)(nil)
)
