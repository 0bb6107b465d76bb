// Package fakestore is an in-memory backend shared by several execution
// contexts. It stands in for a browser-style storage area in tests and demos.
package fakestore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/suyash-sneo/kvsync/backend"
)

// ForeignSource is the source id stamped on writes made through Hub.Put and Hub.Delete.
const ForeignSource = "foreign"

// Hub is the shared storage area. Each context talks to it through its own Store.
type Hub struct {
	mu       sync.Mutex
	items    map[string]string
	quota    int
	used     int
	subs     map[*subscription]struct{}
	readErr  error
	writeErr error
}

// Option mutates Hub construction.
type Option func(*Hub)

// WithQuota caps the total size (key plus value bytes) of stored entries.
func WithQuota(bytes int) Option {
	return func(h *Hub) {
		h.quota = bytes
	}
}

// New returns an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		items: map[string]string{},
		subs:  map[*subscription]struct{}{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Context returns a backend handle writing as the given context id.
func (h *Hub) Context(id string) *Store {
	return &Store{hub: h, id: id}
}

// Put writes raw directly, as a context that is not part of the test (e.g. another tab).
func (h *Hub) Put(key, raw string) error {
	return h.write(ForeignSource, key, raw, true)
}

// Delete removes key directly, as a foreign context.
func (h *Hub) Delete(key string) error {
	return h.write(ForeignSource, key, "", false)
}

// Get reads key without going through any context.
func (h *Hub) Get(key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	raw, ok := h.items[key]
	return raw, ok
}

// Keys lists stored keys in sorted order.
func (h *Hub) Keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.items))
	for k := range h.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailReads makes every GetItem return err until called again with nil.
func (h *Hub) FailReads(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readErr = err
}

// FailWrites makes every SetItem and RemoveItem return err until called again with nil.
func (h *Hub) FailWrites(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeErr = err
}

// Disconnect closes every open subscription, simulating a dropped change stream.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = map[*subscription]struct{}{}
	h.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) write(source, key, raw string, present bool) error {
	h.mu.Lock()
	if h.writeErr != nil {
		err := h.writeErr
		h.mu.Unlock()
		return err
	}
	old, oldPresent := h.items[key]
	if present {
		used := h.used + len(raw)
		if oldPresent {
			used -= len(old)
		} else {
			used += len(key)
		}
		if h.quota > 0 && used > h.quota {
			h.mu.Unlock()
			return fmt.Errorf("set %q: %w", key, backend.ErrQuotaExceeded)
		}
		h.items[key] = raw
		h.used = used
	} else {
		if !oldPresent {
			h.mu.Unlock()
			return nil
		}
		delete(h.items, key)
		h.used -= len(key) + len(old)
	}
	ev := backend.ChangeEvent{
		Key:        key,
		OldRaw:     old,
		OldPresent: oldPresent,
		NewRaw:     raw,
		NewPresent: present,
		Source:     source,
	}
	targets := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		if s.owner != source {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.push(ev)
	}
	return nil
}

// Store implements backend.Backend for one context of a Hub.
type Store struct {
	hub *Hub
	id  string
}

func (s *Store) ContextID() string { return s.id }

func (s *Store) GetItem(_ context.Context, key string) (string, bool, error) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.hub.readErr != nil {
		return "", false, s.hub.readErr
	}
	raw, ok := s.hub.items[key]
	return raw, ok, nil
}

func (s *Store) SetItem(_ context.Context, key string, raw string) error {
	return s.hub.write(s.id, key, raw, true)
}

func (s *Store) RemoveItem(_ context.Context, key string) error {
	return s.hub.write(s.id, key, "", false)
}

func (s *Store) Subscribe(ctx context.Context) (<-chan backend.ChangeEvent, error) {
	sub := newSubscription(s.id)
	s.hub.mu.Lock()
	s.hub.subs[sub] = struct{}{}
	s.hub.mu.Unlock()

	go sub.pump(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		s.hub.mu.Lock()
		delete(s.hub.subs, sub)
		s.hub.mu.Unlock()
		sub.stop()
	}()
	return sub.out, nil
}

func (s *Store) Close() error { return nil }

// subscription queues events without ever blocking the writer.
type subscription struct {
	owner string
	out   chan backend.ChangeEvent
	wake  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	queue   []backend.ChangeEvent
	stopped bool
}

func newSubscription(owner string) *subscription {
	return &subscription{
		owner: owner,
		out:   make(chan backend.ChangeEvent),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (s *subscription) push(ev backend.ChangeEvent) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range pending {
			select {
			case s.out <- ev:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.wake:
		}
	}
}
