package kvsync

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/suyash-sneo/kvsync/observe"
	"github.com/suyash-sneo/kvsync/registry"
	"github.com/suyash-sneo/kvsync/serializer"
	"github.com/suyash-sneo/kvsync/store"
)

// Phase is the lifecycle stage of a View.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseHydrating
	PhaseLive
	PhaseUnmounted
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseHydrating:
		return "hydrating"
	case PhaseLive:
		return "live"
	case PhaseUnmounted:
		return "unmounted"
	default:
		return "unknown"
	}
}

// Update is either a replacement value or a function of the previous value.
type Update[T any] struct {
	value   T
	updater func(prev T) T
}

// Value replaces the stored value with v.
func Value[T any](v T) Update[T] {
	return Update[T]{value: v}
}

// Updater computes the new value from the current one.
func Updater[T any](fn func(prev T) T) Update[T] {
	return Update[T]{updater: fn}
}

// State is what an evaluation hands to the host.
type State[T any] struct {
	Value        T
	IsPersistent bool
	SetValue     func(ctx context.Context, u Update[T]) error
	RemoveItem   func(ctx context.Context) error
}

// View binds one consumer to a key.
type View[T any] struct {
	s          *Syncer
	key        string
	codec      serializer.Serializer
	def        T
	hasDefault bool
	ssr        bool
	notify     func()

	mu        sync.Mutex
	phase     Phase
	seeded    bool
	handle    registry.Handle
	stopWatch func()

	revision atomic.Uint64
}

// ViewOption configures a View.
type ViewOption[T any] func(*View[T])

// WithDefault sets the value reported while the key has no entry. A view
// with a default writes it to the backend the first time it finds the key
// empty.
func WithDefault[T any](v T) ViewOption[T] {
	return func(view *View[T]) {
		view.def = v
		view.hasDefault = true
	}
}

// WithSSR marks the view as possibly hydrating server-rendered output: the
// first evaluation reports the default, and one more evaluation is
// scheduled when the persisted value differs.
func WithSSR[T any]() ViewOption[T] {
	return func(view *View[T]) { view.ssr = true }
}

// WithSerializer overrides the Syncer's codec for this view.
func WithSerializer[T any](codec serializer.Serializer) ViewOption[T] {
	return func(view *View[T]) {
		if codec != nil {
			view.codec = codec
		}
	}
}

// WithNotify sets the callback asking the host to evaluate the view again.
func WithNotify[T any](fn func()) ViewOption[T] {
	return func(view *View[T]) { view.notify = fn }
}

// NewView binds a view to key.
func NewView[T any](s *Syncer, key string, opts ...ViewOption[T]) (*View[T], error) {
	if s == nil {
		return nil, ErrNilSyncer
	}
	if key == "" {
		return nil, ErrEmptyKey
	}
	v := &View[T]{
		s:     s,
		key:   key,
		codec: s.codec,
	}
	for _, opt := range opts {
		opt(v)
	}
	if s.Available() {
		v.handle = s.registry.Register(key, v.markDirty)
		v.stopWatch = s.bridge.Watch(key)
	}
	return v, nil
}

func (v *View[T]) markDirty() {
	v.revision.Add(1)
	if v.notify != nil {
		v.notify()
	}
}

// Key returns the bound key.
func (v *View[T]) Key() string {
	return v.key
}

// Phase returns the lifecycle stage.
func (v *View[T]) Phase() Phase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

// Revision counts the notifications received. The host re-evaluates when it advances.
func (v *View[T]) Revision() uint64 {
	return v.revision.Load()
}

// Evaluate computes the current snapshot. Notifications raised while it
// runs, including the view's own hydration re-evaluation, are delivered
// after it returns. A failed seeding write is returned alongside a valid state.
func (v *View[T]) Evaluate(ctx context.Context) (State[T], error) {
	if !v.s.Available() {
		return v.detachedState()
	}
	var (
		st  State[T]
		err error
	)
	v.s.registry.Batcher().Batch(func() {
		st, err = v.evaluate(ctx)
	})
	return st, err
}

func (v *View[T]) evaluate(ctx context.Context) (State[T], error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.phase {
	case PhaseUnmounted:
		return State[T]{}, ErrViewClosed
	case PhaseUninitialized:
		if v.ssr {
			v.phase = PhaseHydrating
		} else {
			v.phase = PhaseLive
		}
	case PhaseHydrating:
		v.phase = PhaseLive
	}
	hydrating := v.phase == PhaseHydrating
	cache := v.s.cache

	if hydrating {
		persisted := store.Get(ctx, cache, v.key, v.codec, v.def)
		if cache.Has(ctx, v.key) || !reflect.DeepEqual(v.def, persisted) {
			v.s.metrics.IncCounter(observe.MetricHydrationRerender, 1)
			v.s.registry.Schedule(v.handle)
		}
	}

	var seedErr error
	if !v.seeded {
		// only the first evaluation may seed; later ones must not undo a removal
		v.seeded = true
		seedErr = v.seed(ctx)
	}

	st := State[T]{
		Value:        v.def,
		IsPersistent: true,
		SetValue:     v.SetValue,
		RemoveItem:   v.RemoveItem,
	}
	if !hydrating {
		st.Value = store.Get(ctx, cache, v.key, v.codec, v.def)
		st.IsPersistent = cache.Has(ctx, v.key)
	}
	return st, seedErr
}

// seed writes the default when neither the cache nor the backend holds an
// entry for the key.
func (v *View[T]) seed(ctx context.Context) error {
	if !v.hasDefault || v.s.cache.Has(ctx, v.key) {
		return nil
	}
	_, ok, err := v.s.backend.GetItem(ctx, v.key)
	if err != nil {
		v.s.logger.Warn("seed check failed", Field{Key: "key", Value: v.key}, Field{Key: "err", Value: err})
		return nil
	}
	if ok {
		// another context wrote it after the cache slot was filled
		v.s.cache.Forget(v.key)
		return nil
	}
	return store.Set(ctx, v.s.cache, v.key, v.codec, v.def)
}

func (v *View[T]) detachedState() (State[T], error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phase == PhaseUnmounted {
		return State[T]{}, ErrViewClosed
	}
	v.phase = PhaseLive
	return State[T]{
		Value:        v.def,
		IsPersistent: true,
		SetValue:     func(context.Context, Update[T]) error { return nil },
		RemoveItem:   func(context.Context) error { return nil },
	}, nil
}

func (v *View[T]) closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase == PhaseUnmounted
}

// SetValue writes through to the backend and notifies every view on the key
// in this context once. On error nothing is notified.
func (v *View[T]) SetValue(ctx context.Context, u Update[T]) error {
	if v.closed() {
		return ErrViewClosed
	}
	if !v.s.Available() {
		return nil
	}
	var err error
	v.s.registry.Batcher().Batch(func() {
		if u.updater != nil {
			err = store.Update(ctx, v.s.cache, v.key, v.codec, v.def, u.updater)
		} else {
			err = store.Set(ctx, v.s.cache, v.key, v.codec, u.value)
		}
		if err != nil {
			return
		}
		v.s.registry.NotifyAll(v.key)
	})
	return err
}

// Set replaces the value.
func (v *View[T]) Set(ctx context.Context, value T) error {
	return v.SetValue(ctx, Value(value))
}

// Update replaces the value with fn applied to the current one.
func (v *View[T]) Update(ctx context.Context, fn func(prev T) T) error {
	return v.SetValue(ctx, Updater(fn))
}

// RemoveItem deletes the entry and notifies every view on the key.
func (v *View[T]) RemoveItem(ctx context.Context) error {
	if v.closed() {
		return ErrViewClosed
	}
	if !v.s.Available() {
		return nil
	}
	var err error
	v.s.registry.Batcher().Batch(func() {
		if err = v.s.cache.Remove(ctx, v.key); err != nil {
			return
		}
		v.s.registry.NotifyAll(v.key)
	})
	return err
}

// Value returns the persisted value, or the default when there is none.
func (v *View[T]) Value(ctx context.Context) T {
	if !v.s.Available() {
		return v.def
	}
	return store.Get(ctx, v.s.cache, v.key, v.codec, v.def)
}

// IsPersistent reports whether the key has a persisted entry. Always true when detached.
func (v *View[T]) IsPersistent(ctx context.Context) bool {
	if !v.s.Available() {
		return true
	}
	return v.s.cache.Has(ctx, v.key)
}

// Close unbinds the view. It is safe to call more than once.
func (v *View[T]) Close() error {
	v.mu.Lock()
	if v.phase == PhaseUnmounted {
		v.mu.Unlock()
		return nil
	}
	v.phase = PhaseUnmounted
	stop := v.stopWatch
	v.mu.Unlock()

	if v.s.Available() {
		v.s.registry.Unregister(v.handle)
	}
	if stop != nil {
		stop()
	}
	return nil
}
