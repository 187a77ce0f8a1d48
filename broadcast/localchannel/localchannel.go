// Package localchannel provides named in-process channels: every Channel
// opened under the same name on a Hub receives what the others post.
package localchannel

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/billing-console/broadcast"
)

var ErrClosed = errors.New("localchannel: channel closed")

// Hub routes messages between channels of the same name.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Channel]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*Channel]struct{})}
}

// Open joins the channel called name.
func (h *Hub) Open(name string) *Channel {
	c := &Channel{hub: h, name: name, listeners: make(map[int]func(broadcast.Message))}
	h.mu.Lock()
	if _, ok := h.channels[name]; !ok {
		h.channels[name] = make(map[*Channel]struct{})
	}
	h.channels[name][c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) peers(c *Channel) []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := make([]*Channel, 0, len(h.channels[c.name]))
	for p := range h.channels[c.name] {
		if p != c {
			peers = append(peers, p)
		}
	}
	return peers
}

func (h *Hub) leave(c *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels[c.name], c)
	if len(h.channels[c.name]) == 0 {
		delete(h.channels, c.name)
	}
}

var _ broadcast.Channel = (*Channel)(nil)

type Channel struct {
	hub  *Hub
	name string

	mu        sync.Mutex
	listeners map[int]func(broadcast.Message)
	nextID    int
	closed    bool
}

// Post delivers msg synchronously to every other channel of the same name.
func (c *Channel) Post(_ context.Context, msg broadcast.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	for _, peer := range c.hub.peers(c) {
		peer.deliver(clone(msg))
	}
	return nil
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
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.listeners = make(map[int]func(broadcast.Message))
	c.mu.Unlock()
	c.hub.leave(c)
	return nil
}

func (c *Channel) deliver(msg broadcast.Message) {
	c.mu.Lock()
	list := make([]func(broadcast.Message), 0, len(c.listeners))
	for _, fn := range c.listeners {
		list = append(list, fn)
	}
	c.mu.Unlock()

	for _, fn := range list {
		fn(msg)
	}
}

// clone gives each receiver its own payload, as a structured copy would.
func clone(msg broadcast.Message) broadcast.Message {
	if msg.Payload != nil {
		p := *msg.Payload
		msg.Payload = &p
	}
	return msg
}
