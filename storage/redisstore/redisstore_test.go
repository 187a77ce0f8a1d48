//go:build integration

package redisstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/billing-console/internal/testutil/containers"
	"github.com/jrsteele09/billing-console/storage"
	"github.com/jrsteele09/billing-console/storage/redisstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	client := containers.NewRedisClient(t)

	a, err := redisstore.New(client, "billing")
	require.NoError(t, err)
	b, err := redisstore.New(client, "billing")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	var (
		mu     sync.Mutex
		seenA  []storage.Event
		seenB  []storage.Event
		gotTwo = make(chan struct{})
	)
	a.Watch(func(ev storage.Event) {
		mu.Lock()
		seenA = append(seenA, ev)
		mu.Unlock()
	})
	b.Watch(func(ev storage.Event) {
		mu.Lock()
		seenB = append(seenB, ev)
		if len(seenB) == 2 {
			close(gotTwo)
		}
		mu.Unlock()
	})

	t.Run("values are shared across handles", func(t *testing.T) {
		require.NoError(t, a.Set(ctx, "refreshToken", "rt-1"))
		v, err := b.Get(ctx, "refreshToken")
		require.NoError(t, err)
		assert.Equal(t, "rt-1", v)
	})

	t.Run("deleted keys report not found", func(t *testing.T) {
		require.NoError(t, a.Delete(ctx, "refreshToken"))
		_, err := b.Get(ctx, "refreshToken")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("changes reach only the other handle", func(t *testing.T) {
		select {
		case <-gotTwo:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for relayed changes")
		}
		mu.Lock()
		defer mu.Unlock()
		assert.Empty(t, seenA)
		assert.Equal(t, storage.Event{Key: "refreshToken", Value: "rt-1"}, seenB[0])
		assert.Equal(t, storage.Event{Key: "refreshToken", Deleted: true}, seenB[1])
	})
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := redisstore.New(nil, "billing")
	require.Error(t, err)
}
