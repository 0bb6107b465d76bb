// Package registry tracks which subscribers are bound to which key and fans
// notifications out to them through a coalescing Batcher.
package registry

import (
	"sort"
	"sync"

	"github.com/suyash-sneo/kvsync/observe"
)

// Handle identifies one subscription.
type Handle struct {
	ID  uint64
	Key string
}

// Registry maps keys to subscriber callbacks. The registry does not own the
// subscribers; they unregister themselves when they go away.
type Registry struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]func()
	batcher *Batcher
	metrics observe.Metrics
}

// Option mutates Registry construction.
type Option func(*Registry)

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithBatcher shares an existing batcher, so several registries coalesce into one flush.
func WithBatcher(b *Batcher) Option {
	return func(r *Registry) {
		if b != nil {
			r.batcher = b
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		subs:    map[string]map[uint64]func(){},
		metrics: observe.NopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.batcher == nil {
		r.batcher = NewBatcher()
	}
	metrics := r.metrics
	r.batcher.mu.Lock()
	if r.batcher.onFlush == nil {
		r.batcher.onFlush = func(n int) {
			metrics.ObserveHistogram(observe.MetricBatchSize, float64(n))
		}
	}
	r.batcher.mu.Unlock()
	return r
}

// Batcher returns the batcher notifications are delivered through.
func (r *Registry) Batcher() *Batcher {
	return r.batcher
}

// Register adds notify as a subscriber of key.
func (r *Registry) Register(key string, notify func()) Handle {
	h := Handle{ID: r.batcher.nextID(), Key: key}
	r.mu.Lock()
	set, ok := r.subs[key]
	if !ok {
		set = map[uint64]func(){}
		r.subs[key] = set
	}
	set[h.ID] = notify
	n := len(set)
	r.mu.Unlock()
	r.metrics.SetGauge(observe.MetricSubscriptions, float64(n), observe.Label{Name: "key", Value: key})
	return h
}

// Unregister removes the subscription. Unknown handles are ignored.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	set, ok := r.subs[h.Key]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(set, h.ID)
	n := len(set)
	if n == 0 {
		delete(r.subs, h.Key)
	}
	r.mu.Unlock()
	r.metrics.SetGauge(observe.MetricSubscriptions, float64(n), observe.Label{Name: "key", Value: h.Key})
}

// NotifyAll notifies every subscriber of key as registered at call time and
// returns how many were scheduled. Subscribers added by a callback are not
// part of this round.
func (r *Registry) NotifyAll(key string) int {
	r.mu.RLock()
	set := r.subs[key]
	snapshot := make([]pendingNotify, 0, len(set))
	for id, fn := range set {
		snapshot = append(snapshot, pendingNotify{id: id, fn: fn})
	}
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		return 0
	}
	r.batcher.Batch(func() {
		for _, p := range snapshot {
			r.batcher.Enqueue(p.id, p.fn)
		}
	})
	r.metrics.IncCounter(observe.MetricNotifications, float64(len(snapshot)))
	return len(snapshot)
}

// Schedule notifies a single subscription through the batcher.
func (r *Registry) Schedule(h Handle) {
	r.mu.RLock()
	fn, ok := r.subs[h.Key][h.ID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.batcher.Enqueue(h.ID, fn)
}

// Count returns the number of subscribers of key.
func (r *Registry) Count(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[key])
}

// Keys lists keys with at least one subscriber, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
