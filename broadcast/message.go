package broadcast

import (
	"context"

	"github.com/google/uuid"
)

// Kind discriminates sync messages.
type Kind string

const (
	KindSignedIn  Kind = "LOGIN"
	KindSignedOut Kind = "LOGOUT"
)

// SyncKey is the durable key used as the storage-fallback relay.
const SyncKey = "auth-sync-event"

// SignedInPayload identifies who signed in. Tokens are never broadcast.
type SignedInPayload struct {
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	Email    string `json:"email"`
	TenantID string `json:"tenantId,omitempty"`
}

// Message is the unit exchanged between instances of one origin.
type Message struct {
	ID      string           `json:"id"`
	Kind    Kind             `json:"type"`
	Payload *SignedInPayload `json:"payload,omitempty"`
}

func SignedIn(p SignedInPayload) Message {
	return Message{ID: uuid.NewString(), Kind: KindSignedIn, Payload: &p}
}

func SignedOut() Message {
	return Message{ID: uuid.NewString(), Kind: KindSignedOut}
}

// Channel is a direct, best-effort channel to every other instance
// listening on the same name. A channel never delivers a message back to
// the instance that posted it.
type Channel interface {
	Post(ctx context.Context, msg Message) error
	Listen(fn func(Message)) (stop func())
	Close() error
}
