package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("storage: key not found")

// Event describes a change made to an origin through another handle.
type Event struct {
	Key     string
	Value   string
	Deleted bool
}

// Storage is one handle onto a durable per-origin key space. Many handles
// may share the same origin; each is the equivalent of one tab.
//
// Watch callbacks fire only for changes written through OTHER handles of the
// same origin, never for the handle's own writes.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Watch(fn func(Event)) (cancel func())
}
