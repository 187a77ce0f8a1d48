package memstore

import (
	"context"
	"sync"

	"github.com/jrsteele09/billing-console/storage"
)

// Origin is an in-memory key space shared by every Handle opened on it.
type Origin struct {
	mu      sync.RWMutex
	values  map[string]string
	handles map[*Handle]struct{}
}

// NewOrigin creates an empty origin.
func NewOrigin() *Origin {
	return &Origin{
		values:  make(map[string]string),
		handles: make(map[*Handle]struct{}),
	}
}

// Open returns a new handle onto the origin.
func (o *Origin) Open() *Handle {
	h := &Handle{
		origin:   o,
		watchers: make(map[int]func(storage.Event)),
	}
	o.mu.Lock()
	o.handles[h] = struct{}{}
	o.mu.Unlock()
	return h
}

// Snapshot copies every key currently held by the origin.
func (o *Origin) Snapshot() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]string, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

func (o *Origin) notifyOthers(source *Handle, events []storage.Event) {
	o.mu.RLock()
	targets := make([]*Handle, 0, len(o.handles))
	for h := range o.handles {
		if h != source {
			targets = append(targets, h)
		}
	}
	o.mu.RUnlock()

	for _, h := range targets {
		for _, fn := range h.watcherList() {
			for _, ev := range events {
				fn(ev)
			}
		}
	}
}

var _ storage.Storage = (*Handle)(nil)

// Handle is a single view of an Origin.
type Handle struct {
	origin *Origin

	mu       sync.Mutex
	watchers map[int]func(storage.Event)
	nextID   int
}

func (h *Handle) Get(_ context.Context, key string) (string, error) {
	h.origin.mu.RLock()
	defer h.origin.mu.RUnlock()
	v, ok := h.origin.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (h *Handle) Set(_ context.Context, key, value string) error {
	h.origin.mu.Lock()
	h.origin.values[key] = value
	h.origin.mu.Unlock()

	h.origin.notifyOthers(h, []storage.Event{{Key: key, Value: value}})
	return nil
}

func (h *Handle) Delete(_ context.Context, keys ...string) error {
	h.origin.mu.Lock()
	events := make([]storage.Event, 0, len(keys))
	for _, k := range keys {
		if _, ok := h.origin.values[k]; !ok {
			continue
		}
		delete(h.origin.values, k)
		events = append(events, storage.Event{Key: k, Deleted: true})
	}
	h.origin.mu.Unlock()

	if len(events) > 0 {
		h.origin.notifyOthers(h, events)
	}
	return nil
}

func (h *Handle) Watch(fn func(storage.Event)) (cancel func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.watchers[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.watchers, id)
		h.mu.Unlock()
	}
}

// Close detaches the handle from its origin. Pending watchers stop firing.
func (h *Handle) Close() error {
	h.origin.mu.Lock()
	delete(h.origin.handles, h)
	h.origin.mu.Unlock()

	h.mu.Lock()
	h.watchers = make(map[int]func(storage.Event))
	h.mu.Unlock()
	return nil
}

func (h *Handle) watcherList() []func(storage.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := make([]func(storage.Event), 0, len(h.watchers))
	for _, fn := range h.watchers {
		list = append(list, fn)
	}
	return list
}
