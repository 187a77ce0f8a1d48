package localchannel_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/billing-console/broadcast"
	"github.com/jrsteele09/billing-console/broadcast/localchannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostReachesPeersOnly(t *testing.T) {
	ctx := context.Background()
	hub := localchannel.NewHub()
	a, b, other := hub.Open("billing-auth"), hub.Open("billing-auth"), hub.Open("elsewhere")

	var gotA, gotB, gotOther []broadcast.Message
	a.Listen(func(m broadcast.Message) { gotA = append(gotA, m) })
	b.Listen(func(m broadcast.Message) { gotB = append(gotB, m) })
	other.Listen(func(m broadcast.Message) { gotOther = append(gotOther, m) })

	msg := broadcast.SignedIn(broadcast.SignedInPayload{UserID: "u-1", Role: "ADMIN"})
	require.NoError(t, a.Post(ctx, msg))

	assert.Empty(t, gotA)
	assert.Empty(t, gotOther)
	require.Len(t, gotB, 1)
	assert.Equal(t, msg, gotB[0])
	assert.NotSame(t, msg.Payload, gotB[0].Payload)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	hub := localchannel.NewHub()
	a, b := hub.Open("billing-auth"), hub.Open("billing-auth")

	var count int
	b.Listen(func(broadcast.Message) { count++ })

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.NoError(t, a.Post(ctx, broadcast.SignedOut()))
	assert.Zero(t, count)
	assert.ErrorIs(t, b.Post(ctx, broadcast.SignedOut()), localchannel.ErrClosed)
}
