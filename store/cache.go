// Package store keeps an in-memory mirror of the persistent backend: a
// presence set answering "does this key have a value" and a memo of decoded
// values so repeated reads skip the codec.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/suyash-sneo/kvsync/backend"
	"github.com/suyash-sneo/kvsync/observe"
	"github.com/suyash-sneo/kvsync/serializer"
)

// Cache mirrors one backend. It is shared by every view of an execution context.
type Cache struct {
	backend backend.Backend
	slots   *xsync.MapOf[string, *slot]
	logger  observe.Logger
	metrics observe.Metrics
}

// slot is the cache entry for one key.
type slot struct {
	mu      sync.Mutex
	loaded  bool
	present bool
	raw     string
	sum     uint64

	memo      any
	memoCodec string
	memoOK    bool
}

// Option mutates Cache construction.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a cache in front of be.
func New(be backend.Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: be,
		slots:   xsync.NewMapOf[string, *slot](),
		logger:  observe.NopLogger(),
		metrics: observe.NopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WriteError reports a failed write. The cache is left as it was before the write.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Backend returns the backend the cache mirrors.
func (c *Cache) Backend() backend.Backend {
	return c.backend
}

// lock returns the slot for key with its mutex held. A slot dropped by
// Forget while the caller waited is never returned.
func (c *Cache) lock(key string) *slot {
	for {
		s, _ := c.slots.LoadOrCompute(key, func() *slot { return &slot{} })
		s.mu.Lock()
		if cur, ok := c.slots.Load(key); ok && cur == s {
			return s
		}
		s.mu.Unlock()
	}
}

// Len returns the number of keys with a cache slot.
func (c *Cache) Len() int {
	return c.slots.Size()
}

// fill loads the raw value from the backend if the slot has not seen it yet.
// The caller holds s.mu.
func (c *Cache) fill(ctx context.Context, key string, s *slot) error {
	if s.loaded {
		c.metrics.IncCounter(observe.MetricCacheHits, 1)
		return nil
	}
	c.metrics.IncCounter(observe.MetricCacheMisses, 1)
	raw, ok, err := c.backend.GetItem(ctx, key)
	if err != nil {
		return err
	}
	s.loaded = true
	s.setRaw(raw, ok)
	return nil
}

func (s *slot) setRaw(raw string, present bool) {
	s.present = present
	if present {
		s.raw = raw
		s.sum = xxhash.Sum64String(raw)
	} else {
		s.raw = ""
		s.sum = 0
	}
	s.memo, s.memoCodec, s.memoOK = nil, "", false
}

// Raw returns the persisted string for key, filling the slot from the backend on a miss.
func (c *Cache) Raw(ctx context.Context, key string) (string, bool, error) {
	s := c.lock(key)
	defer s.mu.Unlock()
	if err := c.fill(ctx, key, s); err != nil {
		return "", false, err
	}
	return s.raw, s.present, nil
}

// Has reports whether key currently has a persisted entry. Read failures are
// logged and reported as absent.
func (c *Cache) Has(ctx context.Context, key string) bool {
	_, ok, err := c.Raw(ctx, key)
	if err != nil {
		c.logger.Warn("presence check failed", observe.F("key", key), observe.F("err", err))
		return false
	}
	return ok
}

// Remove deletes key from the backend and clears its slot. Subscribers are not notified.
func (c *Cache) Remove(ctx context.Context, key string) error {
	s := c.lock(key)
	defer s.mu.Unlock()
	if err := c.backend.RemoveItem(ctx, key); err != nil && !errors.Is(err, backend.ErrNotifyFailed) {
		c.metrics.IncCounter(observe.MetricWriteErrors, 1, observe.Label{Name: "op", Value: "remove"})
		return &WriteError{Key: key, Err: err}
	} else if err != nil {
		c.logger.Warn("remove committed without notifying other contexts", observe.F("key", key), observe.F("err", err))
	}
	s.loaded = true
	s.setRaw("", false)
	return nil
}

// Apply folds a change observed on the backend's change channel into the
// slot. It reports false when the slot already reflected the change.
func (c *Cache) Apply(ev backend.ChangeEvent) bool {
	s := c.lock(ev.Key)
	defer s.mu.Unlock()
	if s.loaded && s.present == ev.NewPresent && (!ev.NewPresent || s.sum == xxhash.Sum64String(ev.NewRaw)) {
		return false
	}
	s.loaded = true
	s.setRaw(ev.NewRaw, ev.NewPresent)
	return true
}

// Forget drops the slot for key; the next access reads the backend again.
func (c *Cache) Forget(key string) {
	s, ok := c.slots.Load(key)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.slots.Compute(key, func(cur *slot, loaded bool) (*slot, bool) {
		return cur, !loaded || cur == s
	})
}

// Get returns the decoded persisted value for key, or fallback when the key
// has no entry, the backend cannot be read, or the entry does not decode.
func Get[T any](ctx context.Context, c *Cache, key string, codec serializer.Serializer, fallback T) T {
	s := c.lock(key)
	defer s.mu.Unlock()
	return decode(ctx, c, key, s, codec, fallback)
}

// decode is Get with s.mu held.
func decode[T any](ctx context.Context, c *Cache, key string, s *slot, codec serializer.Serializer, fallback T) T {
	if s.loaded && s.memoOK && s.memoCodec == codec.Name() {
		if v, ok := s.memo.(T); ok {
			c.metrics.IncCounter(observe.MetricCacheHits, 1)
			return v
		}
	}
	if err := c.fill(ctx, key, s); err != nil {
		c.logger.Warn("read failed, using fallback", observe.F("key", key), observe.F("err", err))
		return fallback
	}
	if !s.present {
		return fallback
	}

	var v T
	if err := codec.Decode(s.raw, &v); err != nil {
		c.metrics.IncCounter(observe.MetricDecodeErrors, 1, observe.Label{Name: "codec", Value: codec.Name()})
		c.logger.Debug("undecodable entry treated as absent", observe.F("key", key), observe.F("err", err))
		return fallback
	}
	s.memo, s.memoCodec, s.memoOK = v, codec.Name(), true
	return v
}

// Set encodes value and writes it through to the backend. On failure the
// slot keeps its previous state and a *WriteError is returned. Subscribers
// are not notified; that is left to the caller so writes can be batched.
func Set[T any](ctx context.Context, c *Cache, key string, codec serializer.Serializer, value T) error {
	s := c.lock(key)
	defer s.mu.Unlock()
	return write(ctx, c, key, s, codec, value)
}

// Update writes fn applied to the current value, or to fallback when the key
// has no entry. The read and the write happen under the slot lock, so
// concurrent updates on one cache are never lost. Errors are reported as by Set.
func Update[T any](ctx context.Context, c *Cache, key string, codec serializer.Serializer, fallback T, fn func(prev T) T) error {
	s := c.lock(key)
	defer s.mu.Unlock()
	return write(ctx, c, key, s, codec, fn(decode(ctx, c, key, s, codec, fallback)))
}

// write is Set with s.mu held.
func write[T any](ctx context.Context, c *Cache, key string, s *slot, codec serializer.Serializer, value T) error {
	raw, err := codec.Encode(value)
	if err != nil {
		return &WriteError{Key: key, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := c.backend.SetItem(ctx, key, raw); err != nil && !errors.Is(err, backend.ErrNotifyFailed) {
		c.metrics.IncCounter(observe.MetricWriteErrors, 1, observe.Label{Name: "op", Value: "set"})
		return &WriteError{Key: key, Err: err}
	} else if err != nil {
		c.logger.Warn("write committed without notifying other contexts", observe.F("key", key), observe.F("err", err))
	}
	c.metrics.IncCounter(observe.MetricWrites, 1)
	s.loaded = true
	s.setRaw(raw, true)
	s.memo, s.memoCodec, s.memoOK = value, codec.Name(), true
	return nil
}
