package memstore_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/billing-console/storage"
	"github.com/jrsteele09/billing-console/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlesShareValues(t *testing.T) {
	ctx := context.Background()
	origin := memstore.NewOrigin()
	a, b := origin.Open(), origin.Open()

	require.NoError(t, a.Set(ctx, "refreshToken", "rt-1"))

	v, err := b.Get(ctx, "refreshToken")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", v)

	require.NoError(t, b.Delete(ctx, "refreshToken"))
	_, err = a.Get(ctx, "refreshToken")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWatchFiresOnlyInOtherHandles(t *testing.T) {
	ctx := context.Background()
	origin := memstore.NewOrigin()
	a, b := origin.Open(), origin.Open()

	var seenA, seenB []storage.Event
	a.Watch(func(ev storage.Event) { seenA = append(seenA, ev) })
	b.Watch(func(ev storage.Event) { seenB = append(seenB, ev) })

	require.NoError(t, a.Set(ctx, "role", "ADMIN"))
	require.NoError(t, a.Delete(ctx, "role", "missing"))

	assert.Empty(t, seenA)
	require.Len(t, seenB, 2)
	assert.Equal(t, storage.Event{Key: "role", Value: "ADMIN"}, seenB[0])
	assert.Equal(t, storage.Event{Key: "role", Deleted: true}, seenB[1])
}

func TestWatchCancelAndClose(t *testing.T) {
	ctx := context.Background()
	origin := memstore.NewOrigin()
	a, b, c := origin.Open(), origin.Open(), origin.Open()

	var countB, countC int
	cancel := b.Watch(func(storage.Event) { countB++ })
	c.Watch(func(storage.Event) { countC++ })

	require.NoError(t, a.Set(ctx, "k", "1"))
	cancel()
	require.NoError(t, c.Close())
	require.NoError(t, a.Set(ctx, "k", "2"))

	assert.Equal(t, 1, countB)
	assert.Equal(t, 1, countC)
	assert.Equal(t, map[string]string{"k": "2"}, origin.Snapshot())
}
