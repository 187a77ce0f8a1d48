//go:build integration

package redischannel_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/billing-console/broadcast"
	"github.com/jrsteele09/billing-console/broadcast/redischannel"
	"github.com/jrsteele09/billing-console/internal/testutil/containers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisChannel(t *testing.T) {
	ctx := context.Background()
	client := containers.NewRedisClient(t)

	a, err := redischannel.Open(ctx, client, "billing-auth")
	require.NoError(t, err)
	b, err := redischannel.Open(ctx, client, "billing-auth")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	self := make(chan broadcast.Message, 1)
	peer := make(chan broadcast.Message, 1)
	a.Listen(func(m broadcast.Message) { self <- m })
	b.Listen(func(m broadcast.Message) { peer <- m })

	msg := broadcast.SignedIn(broadcast.SignedInPayload{UserID: "u-1", Role: "ADMIN", Email: "a@b.com"})
	require.NoError(t, a.Post(ctx, msg))

	select {
	case got := <-peer:
		assert.Equal(t, msg, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for peer delivery")
	}

	select {
	case <-self:
		t.Fatal("channel delivered a message back to its sender")
	case <-time.After(200 * time.Millisecond):
	}
}
