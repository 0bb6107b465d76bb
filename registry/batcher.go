package registry

import (
	"sync"
	"sync/atomic"
)

// Batcher coalesces notifications. While at least one Batch is running,
// Enqueue parks notifications keyed by subscription id; the outermost Batch
// delivers each parked id once on exit.
type Batcher struct {
	mu      sync.Mutex
	depth   int
	pending []pendingNotify
	queued  map[uint64]struct{}
	onFlush func(n int)
	ids     atomic.Uint64
}

type pendingNotify struct {
	id uint64
	fn func()
}

// NewBatcher creates an empty batcher.
func NewBatcher() *Batcher {
	return &Batcher{queued: map[uint64]struct{}{}}
}

// Batch runs fn. Batches nest; notifications fire once the outermost batch
// returns, including when fn panics.
func (b *Batcher) Batch(fn func()) {
	b.mu.Lock()
	b.depth++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.depth--
		done := b.depth == 0
		b.mu.Unlock()
		if done {
			b.flush()
		}
	}()

	fn()
}

// Enqueue schedules fn under id. Outside a batch fn runs immediately.
// Inside a batch a second Enqueue with the same id is dropped.
func (b *Batcher) Enqueue(id uint64, fn func()) {
	b.mu.Lock()
	if b.depth == 0 {
		b.mu.Unlock()
		fn()
		return
	}
	if _, ok := b.queued[id]; ok {
		b.mu.Unlock()
		return
	}
	b.queued[id] = struct{}{}
	b.pending = append(b.pending, pendingNotify{id: id, fn: fn})
	b.mu.Unlock()
}

// nextID hands out subscription ids, unique per batcher so registries sharing
// one never collide during dedup.
func (b *Batcher) nextID() uint64 {
	return b.ids.Add(1)
}

// Depth returns the current batch nesting depth.
func (b *Batcher) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.depth
}

// flush delivers pending notifications until none are left. Callbacks run
// without the lock held and may enqueue more work.
func (b *Batcher) flush() {
	for {
		b.mu.Lock()
		if b.depth > 0 || len(b.pending) == 0 {
			b.mu.Unlock()
			return
		}
		updates := b.pending
		b.pending = nil
		b.queued = make(map[uint64]struct{}, len(updates))
		onFlush := b.onFlush
		b.mu.Unlock()

		if onFlush != nil {
			onFlush(len(updates))
		}
		for _, u := range updates {
			u.fn()
		}
	}
}
