// Package redischannel implements a broadcast.Channel over Redis pub/sub so
// instances in different processes share one named channel.
package redischannel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/billing-console/broadcast"
)

type envelope struct {
	Source  string            `json:"source"`
	Message broadcast.Message `json:"message"`
}

var _ broadcast.Channel = (*Channel)(nil)

type Channel struct {
	client *redis.Client
	name   string
	id     string
	log    zerolog.Logger

	mu        sync.Mutex
	listeners map[int]func(broadcast.Message)
	nextID    int
	pubsub    *redis.PubSub
	done      chan struct{}
}

// Open subscribes to the channel called name.
func Open(ctx context.Context, client *redis.Client, name string) (*Channel, error) {
	if client == nil {
		return nil, errors.New("[redischannel.Open] client is required")
	}
	c := &Channel{
		client:    client,
		name:      name,
		id:        uuid.NewString(),
		log:       log.With().Str("component", "redischannel").Str("channel", name).Logger(),
		listeners: make(map[int]func(broadcast.Message)),
		done:      make(chan struct{}),
	}
	c.pubsub = client.Subscribe(ctx, name)
	if _, err := c.pubsub.Receive(ctx); err != nil {
		_ = c.pubsub.Close()
		return nil, pkgerrors.Wrap(err, "[redischannel.Open] subscribe")
	}
	go c.run(c.pubsub.Channel())
	return c, nil
}

func (c *Channel) Post(ctx context.Context, msg broadcast.Message) error {
	payload, err := json.Marshal(envelope{Source: c.id, Message: msg})
	if err != nil {
		return pkgerrors.Wrap(err, "[redischannel.Post] marshal")
	}
	return pkgerrors.Wrap(c.client.Publish(ctx, c.name, payload).Err(), "[redischannel.Post] publish")
}

func (c *Channel) Listen(fn func(broadcast.Message)) (stop func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Channel) Close() error {
	c.mu.Lock()
	ps := c.pubsub
	c.pubsub = nil
	c.listeners = make(map[int]func(broadcast.Message))
	c.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-c.done
	return pkgerrors.Wrap(err, "[redischannel.Close] pubsub.Close")
}

func (c *Channel) run(messages <-chan *redis.Message) {
	defer close(c.done)
	for m := range messages {
		var env envelope
		if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed message")
			continue
		}
		if env.Source == c.id {
			continue
		}
		c.mu.Lock()
		list := make([]func(broadcast.Message), 0, len(c.listeners))
		for _, fn := range c.listeners {
			list = append(list, fn)
		}
		c.mu.Unlock()
		for _, fn := range list {
			fn(env.Message)
		}
	}
}
