// Package broadcast delivers session lifecycle events to the other
// instances of an origin.
//
// Each message travels two ways: through a direct Channel when one is
// configured, and through the origin's durable storage by writing SyncKey
// and deleting it shortly afterwards. Storage change events only fire in
// other handles, so the sending instance never sees its own message.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/billing-console/internal/metrics"
	"github.com/jrsteele09/billing-console/storage"
)

const (
	defaultCleanupDelay = 100 * time.Millisecond
	recentIDCapacity    = 128

	pathChannel = "channel"
	pathStorage = "storage"
)

type Broadcaster struct {
	channel      Channel
	store        storage.Storage
	cleanupDelay time.Duration
	log          zerolog.Logger
	metrics      *metrics.Metrics

	mu          sync.Mutex
	subscribers map[int]func(Message)
	nextID      int
	recent      *recentIDs
	timers      map[*time.Timer]struct{}
	stop        []func()
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithChannel sets the direct channel. Without one, delivery relies on
// storage alone.
func WithChannel(c Channel) Option {
	return func(b *Broadcaster) {
		b.channel = c
	}
}

// WithStorage sets the origin storage used as the fallback relay.
func WithStorage(s storage.Storage) Option {
	return func(b *Broadcaster) {
		b.store = s
	}
}

// WithCleanupDelay sets how long the relay key lives before deletion.
func WithCleanupDelay(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.cleanupDelay = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Broadcaster) {
		b.log = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// New creates a Broadcaster and starts listening on the configured paths.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		cleanupDelay: defaultCleanupDelay,
		log:          log.With().Str("component", "broadcast").Logger(),
		subscribers:  make(map[int]func(Message)),
		recent:       newRecentIDs(recentIDCapacity),
		timers:       make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.channel != nil {
		b.stop = append(b.stop, b.channel.Listen(b.receive))
	}
	if b.store != nil {
		b.stop = append(b.stop, b.store.Watch(b.onStorageEvent))
	}
	return b
}

// Subscribe registers fn to be called once per message received from
// another instance.
func (b *Broadcaster) Subscribe(fn func(Message)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Broadcast sends msg to the other instances and returns immediately.
// Delivery failures are logged, never returned.
func (b *Broadcaster) Broadcast(ctx context.Context, msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if b.channel != nil {
		if err := b.channel.Post(ctx, msg); err != nil {
			b.log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("direct channel post failed")
		} else {
			b.metrics.ObserveBroadcast(string(msg.Kind), pathChannel)
		}
	}

	if b.store == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Warn().Err(err).Msg("encode sync message")
		return
	}
	if err := b.store.Set(ctx, SyncKey, string(payload)); err != nil {
		b.log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("storage relay write failed")
		return
	}
	b.metrics.ObserveBroadcast(string(msg.Kind), pathStorage)
	b.scheduleCleanup()
}

func (b *Broadcaster) scheduleCleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var t *time.Timer
	t = time.AfterFunc(b.cleanupDelay, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.mu.Unlock()
		if err := b.store.Delete(context.Background(), SyncKey); err != nil {
			b.log.Debug().Err(err).Msg("storage relay cleanup failed")
		}
	})
	b.timers[t] = struct{}{}
}

// Cleanup stops listening, closes the direct channel, cancels pending relay
// cleanups and drops every subscriber. Intended for process teardown.
func (b *Broadcaster) Cleanup() {
	b.mu.Lock()
	stops := b.stop
	b.stop = nil
	for t := range b.timers {
		t.Stop()
	}
	b.timers = make(map[*time.Timer]struct{})
	b.subscribers = make(map[int]func(Message))
	b.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	if b.channel != nil {
		if err := b.channel.Close(); err != nil {
			b.log.Debug().Err(err).Msg("close direct channel")
		}
	}
}

func (b *Broadcaster) onStorageEvent(ev storage.Event) {
	if ev.Key != SyncKey || ev.Deleted || ev.Value == "" {
		return
	}
	var msg Message
	if err := json.Unmarshal([]byte(ev.Value), &msg); err != nil {
		b.log.Warn().Err(err).Msg("dropping malformed sync message")
		return
	}
	b.receive(msg)
}

func (b *Broadcaster) receive(msg Message) {
	b.mu.Lock()
	if msg.ID != "" && !b.recent.add(msg.ID) {
		b.mu.Unlock()
		return
	}
	list := make([]func(Message), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		list = append(list, fn)
	}
	b.mu.Unlock()

	for _, fn := range list {
		fn(msg)
	}
}

// recentIDs remembers the last n message ids so a message arriving on both
// paths is delivered once.
type recentIDs struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newRecentIDs(n int) *recentIDs {
	return &recentIDs{ids: make(map[string]struct{}, n), ring: make([]string, n)}
}

// add reports false if id was already present.
func (r *recentIDs) add(id string) bool {
	if _, ok := r.ids[id]; ok {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.ring[r.next] = id
	r.ids[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
	return true
}
