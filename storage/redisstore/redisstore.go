package redisstore

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

	"github.com/jrsteele09/billing-console/storage"
)

const changesSuffix = "__changes__"

// change is the envelope published on the origin's change channel.
type change struct {
	Source  string `json:"source"`
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

var _ storage.Storage = (*Store)(nil)

// Store keeps an origin's keys in Redis under "<origin>:<key>" and relays
// every write to the other handles of the origin over Redis pub/sub.
type Store struct {
	client *redis.Client
	origin string
	id     string
	log    zerolog.Logger

	mu       sync.Mutex
	watchers map[int]func(storage.Event)
	nextID   int
	pubsub   *redis.PubSub
	done     chan struct{}
	starting bool
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for relay failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New opens a handle onto origin. The client lifecycle is owned by the caller.
func New(client *redis.Client, origin string, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("[redisstore.New] client is required")
	}
	if origin == "" {
		return nil, errors.New("[redisstore.New] origin is required")
	}
	s := &Store{
		client:   client,
		origin:   origin,
		id:       uuid.NewString(),
		log:      log.With().Str("component", "redisstore").Logger(),
		watchers: make(map[int]func(storage.Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) key(k string) string {
	return s.origin + ":" + k
}

func (s *Store) channel() string {
	return s.origin + ":" + changesSuffix
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", pkgerrors.Wrap(err, "[redisstore.Get] client.Get")
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	payload, err := json.Marshal(change{Source: s.id, Key: key, Value: value})
	if err != nil {
		return pkgerrors.Wrap(err, "[redisstore.Set] marshal change")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(key), value, 0)
		pipe.Publish(ctx, s.channel(), payload)
		return nil
	})
	return pkgerrors.Wrap(err, "[redisstore.Set] pipeline")
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			payload, err := json.Marshal(change{Source: s.id, Key: k, Deleted: true})
			if err != nil {
				return err
			}
			pipe.Del(ctx, s.key(k))
			pipe.Publish(ctx, s.channel(), payload)
		}
		return nil
	})
	return pkgerrors.Wrap(err, "[redisstore.Delete] pipeline")
}

// Watch registers fn for changes made by other handles. The first watcher
// starts the relay subscription.
func (s *Store) Watch(fn func(storage.Event)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	start := s.pubsub == nil && !s.starting && !s.closed
	if start {
		s.starting = true
	}
	s.mu.Unlock()

	if start {
		s.startRelay()
	}

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// startRelay subscribes without holding s.mu; the confirmation round trip
// can be slow.
func (s *Store) startRelay() {
	ctx := context.Background()
	ps := s.client.Subscribe(ctx, s.channel())
	if _, err := ps.Receive(ctx); err != nil {
		s.log.Warn().Err(err).Str("origin", s.origin).Msg("change relay subscription failed")
	}

	s.mu.Lock()
	s.starting = false
	if s.closed {
		s.mu.Unlock()
		_ = ps.Close()
		return
	}
	done := make(chan struct{})
	s.pubsub, s.done = ps, done
	s.mu.Unlock()

	go s.relay(ps.Channel(), done)
}

func (s *Store) relay(messages <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range messages {
		var c change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed change")
			continue
		}
		if c.Source == s.id {
			continue
		}
		ev := storage.Event{Key: c.Key, Value: c.Value, Deleted: c.Deleted}
		for _, fn := range s.watcherList() {
			fn(ev)
		}
	}
}

func (s *Store) watcherList() []func(storage.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]func(storage.Event), 0, len(s.watchers))
	for _, fn := range s.watchers {
		list = append(list, fn)
	}
	return list
}

// Close stops the relay subscription; no relay starts afterwards. The Redis
// client is left open.
func (s *Store) Close() error {
	s.mu.Lock()
	ps, done := s.pubsub, s.done
	s.pubsub, s.done = nil, nil
	s.closed = true
	s.watchers = make(map[int]func(storage.Event))
	s.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return pkgerrors.Wrap(err, "[redisstore.Close] pubsub.Close")
}
