package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/suyash-sneo/kvsync/backend"
	"github.com/suyash-sneo/kvsync/internal/fakestore"
	"github.com/suyash-sneo/kvsync/registry"
	"github.com/suyash-sneo/kvsync/serializer"
	"github.com/suyash-sneo/kvsync/store"
)

func fastBackoff() Backoff {
	return Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}
}

func startBridge(t *testing.T, br *Bridge) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("bridge did not stop")
		}
	})
	select {
	case <-br.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge never subscribed")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestForeignWriteReachesWatchedKey(t *testing.T) {
	hub := fakestore.New()
	be := hub.Context("a")
	cache := store.New(be)
	reg := registry.New()
	br := New(be, cache, reg, WithBackoff(fastBackoff()))

	var calls atomic.Int32
	reg.Register("count", func() { calls.Add(1) })
	stop := br.Watch("count")
	defer stop()
	startBridge(t, br)

	if err := hub.Put("count", "3"); err != nil {
		t.Fatalf("put: %v", err)
	}
	waitFor(t, func() bool { return calls.Load() == 1 })
	if got := store.Get(context.Background(), cache, "count", serializer.JSON(), 0); got != 3 {
		t.Fatalf("expected cache to see 3, got %d", got)
	}
}

func TestUnwatchedKeyKeepsNoSlot(t *testing.T) {
	hub := fakestore.New()
	be := hub.Context("a")
	cache := store.New(be)
	reg := registry.New()
	br := New(be, cache, reg)

	var calls atomic.Int32
	reg.Register("k", func() { calls.Add(1) })

	for i := 0; i < 100; i++ {
		br.Handle(backend.ChangeEvent{Key: fmt.Sprintf("other-%d", i), NewRaw: "1", NewPresent: true, Source: "b"})
	}
	if cache.Len() != 0 {
		t.Fatalf("expected no slots for unwatched keys, got %d", cache.Len())
	}

	ctx := context.Background()
	if got := store.Get(ctx, cache, "k", serializer.JSON(), "none"); got != "none" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if err := hub.Put("k", `"v"`); err != nil {
		t.Fatalf("put: %v", err)
	}
	br.Handle(backend.ChangeEvent{Key: "k", NewRaw: `"v"`, NewPresent: true, Source: "b"})
	if calls.Load() != 0 {
		t.Fatalf("unwatched key should not notify")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected the slot for k dropped, got %d slots", cache.Len())
	}
	if got := store.Get(ctx, cache, "k", serializer.JSON(), "none"); got != "v" {
		t.Fatalf("expected a fresh backend read, got %q", got)
	}
}

func TestLastUnwatchDropsSlot(t *testing.T) {
	hub := fakestore.New()
	be := hub.Context("a")
	cache := store.New(be)
	br := New(be, cache, registry.New())
	ctx := context.Background()

	stop1 := br.Watch("k")
	stop2 := br.Watch("k")
	cache.Has(ctx, "k")
	stop1()
	if cache.Len() != 1 {
		t.Fatalf("slot dropped while still watched")
	}
	stop2()
	stop2()
	if cache.Len() != 0 || br.Watching("k") {
		t.Fatalf("expected slot and watch gone, slots=%d", cache.Len())
	}
}

func TestHandleIgnoresOwnContextAndDuplicates(t *testing.T) {
	hub := fakestore.New()
	be := hub.Context("a")
	cache := store.New(be)
	reg := registry.New()
	br := New(be, cache, reg)

	var calls atomic.Int32
	reg.Register("k", func() { calls.Add(1) })
	stop := br.Watch("k")
	defer stop()

	br.Handle(backend.ChangeEvent{Key: "k", NewRaw: "1", NewPresent: true, Source: "a"})
	if calls.Load() != 0 {
		t.Fatalf("own event should be ignored")
	}
	ev := backend.ChangeEvent{Key: "k", NewRaw: "1", NewPresent: true, Source: "b"}
	br.Handle(ev)
	br.Handle(ev)
	if calls.Load() != 1 {
		t.Fatalf("expected one notification, got %d", calls.Load())
	}
}

func TestWatchRefcount(t *testing.T) {
	br := New(fakestore.New().Context("a"), nil, registry.New())
	stop1 := br.Watch("k")
	stop2 := br.Watch("k")

	stop1()
	stop1()
	if !br.Watching("k") {
		t.Fatalf("second watcher should keep the key watched")
	}
	stop2()
	if br.Watching("k") {
		t.Fatalf("expected key unwatched after last stop")
	}
}

func TestResubscribesAfterDisconnect(t *testing.T) {
	hub := fakestore.New()
	be := hub.Context("a")
	cache := store.New(be)
	reg := registry.New()
	br := New(be, cache, reg, WithBackoff(fastBackoff()))

	var calls atomic.Int32
	reg.Register("k", func() { calls.Add(1) })
	stop := br.Watch("k")
	defer stop()
	startBridge(t, br)

	// prime the cache, then change the entry while nobody listens
	if got := store.Get(context.Background(), cache, "k", serializer.JSON(), 0); got != 0 {
		t.Fatalf("expected fallback, got %d", got)
	}
	hub.Disconnect()
	if err := hub.Put("k", "9"); err != nil {
		t.Fatalf("put: %v", err)
	}

	waitFor(t, func() bool { return hub.Subscribers() == 1 })
	waitFor(t, func() bool { return calls.Load() >= 1 })
	if got := store.Get(context.Background(), cache, "k", serializer.JSON(), 0); got != 9 {
		t.Fatalf("expected resync to pick up 9, got %d", got)
	}
}

func TestRunTwice(t *testing.T) {
	be := fakestore.New().Context("a")
	br := New(be, store.New(be), registry.New())
	startBridge(t, br)
	if err := br.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestBackoffNext(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	if got := b.Next(0); got != 100*time.Millisecond {
		t.Fatalf("expected base, got %s", got)
	}
	if got := b.Next(2); got != 400*time.Millisecond {
		t.Fatalf("expected 400ms, got %s", got)
	}
	if got := b.Next(10); got != time.Second {
		t.Fatalf("expected max, got %s", got)
	}
}

func TestBackoffValidate(t *testing.T) {
	if err := DefaultBackoff().Validate(); err != nil {
		t.Fatalf("default backoff invalid: %v", err)
	}
	bad := []Backoff{
		{Base: 0, Max: time.Second, Multiplier: 2},
		{Base: time.Second, Max: 0, Multiplier: 2},
		{Base: time.Second, Max: time.Millisecond, Multiplier: 2},
		{Base: time.Millisecond, Max: time.Second, Multiplier: 0.5},
		{Base: time.Millisecond, Max: time.Second, Multiplier: 2, JitterRatio: 2},
	}
	for i, b := range bad {
		if err := b.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
