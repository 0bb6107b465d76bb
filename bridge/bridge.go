// Package bridge carries changes made by other execution contexts into the
// local cache and registry.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/suyash-sneo/kvsync/backend"
	"github.com/suyash-sneo/kvsync/observe"
	"github.com/suyash-sneo/kvsync/registry"
	"github.com/suyash-sneo/kvsync/store"
)

// ErrAlreadyRunning is returned when Run is called on a bridge that is already running.
var ErrAlreadyRunning = errors.New("bridge already running")

// Bridge consumes a backend change stream.
type Bridge struct {
	backend  backend.Backend
	cache    *store.Cache
	registry *registry.Registry
	backoff  Backoff
	logger   observe.Logger
	metrics  observe.Metrics

	mu      sync.Mutex
	watched map[string]int
	running bool

	readyOnce sync.Once
	ready     chan struct{}
}

// Option mutates Bridge construction.
type Option func(*Bridge)

// WithBackoff sets the resubscribe policy.
func WithBackoff(b Backoff) Option {
	return func(br *Bridge) { br.backoff = b }
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(br *Bridge) {
		if l != nil {
			br.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(br *Bridge) {
		if m != nil {
			br.metrics = m
		}
	}
}

// New builds a bridge. Run must be called to start consuming changes.
func New(be backend.Backend, cache *store.Cache, reg *registry.Registry, opts ...Option) *Bridge {
	br := &Bridge{
		backend:  be,
		cache:    cache,
		registry: reg,
		backoff:  DefaultBackoff(),
		logger:   observe.NopLogger(),
		metrics:  observe.NopMetrics(),
		watched:  map[string]int{},
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(br)
	}
	return br
}

// Ready is closed once the first subscription is established.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Run subscribes to the backend and applies changes until ctx is cancelled.
// A failed or closed stream is resubscribed with backoff; every watched key
// is then refreshed, since changes may have been missed while disconnected.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	retry := 0
	connected := false
	for {
		events, err := b.backend.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("subscribe failed", observe.F("err", err), observe.F("retry", retry))
			if !b.sleep(ctx, b.backoff.Next(retry)) {
				return nil
			}
			retry++
			continue
		}
		if connected {
			b.metrics.IncCounter(observe.MetricBridgeReconnects, 1)
			b.logger.Info("change stream resubscribed", observe.F("context", b.backend.ContextID()))
			b.resync()
		}
		connected = true
		retry = 0
		b.readyOnce.Do(func() { close(b.ready) })

		b.consume(ctx, events)
		if ctx.Err() != nil {
			return nil
		}
		b.logger.Warn("change stream closed", observe.F("context", b.backend.ContextID()))
		if !b.sleep(ctx, b.backoff.Next(retry)) {
			return nil
		}
	}
}

func (b *Bridge) consume(ctx context.Context, events <-chan backend.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.Handle(ev)
		}
	}
}

func (b *Bridge) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(jitter(d, b.backoff.JitterRatio)):
		return true
	}
}

// Handle applies one change. Events from this bridge's own context are ignored.
func (b *Bridge) Handle(ev backend.ChangeEvent) {
	if ev.Source == b.backend.ContextID() {
		return
	}
	b.metrics.IncCounter(observe.MetricBridgeEvents, 1)
	if !b.Watching(ev.Key) {
		// no slot is kept for keys nobody watches; a later read goes to the backend
		b.cache.Forget(ev.Key)
		return
	}
	if b.cache.Apply(ev) {
		b.registry.NotifyAll(ev.Key)
	}
}

// resync drops the cached state of every watched key and notifies its
// subscribers so they read the backend again.
func (b *Bridge) resync() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.watched))
	for k := range b.watched {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	b.registry.Batcher().Batch(func() {
		for _, k := range keys {
			b.cache.Forget(k)
			b.registry.NotifyAll(k)
		}
	})
}

// Watch registers interest in key. The returned stop func releases it and
// is safe to call more than once.
func (b *Bridge) Watch(key string) (stop func()) {
	b.mu.Lock()
	b.watched[key]++
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			last := b.watched[key] <= 1
			if last {
				delete(b.watched, key)
			} else {
				b.watched[key]--
			}
			b.mu.Unlock()
			if last {
				// changes to the key are no longer applied, so its slot would go stale
				b.cache.Forget(key)
			}
		})
	}
}

// Watching reports whether any view watches key.
func (b *Bridge) Watching(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watched[key] > 0
}
