package fakestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/suyash-sneo/kvsync/backend"
)

func TestItemsSharedAcrossContexts(t *testing.T) {
	hub := New()
	a := hub.Context("a")
	b := hub.Context("b")
	ctx := context.Background()

	if err := a.SetItem(ctx, "count", "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, err := b.GetItem(ctx, "count")
	if err != nil || !ok || raw != "1" {
		t.Fatalf("unexpected get: raw=%q ok=%v err=%v", raw, ok, err)
	}
	if err := b.RemoveItem(ctx, "count"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := a.GetItem(ctx, "count"); ok {
		t.Fatalf("expected entry removed")
	}
}

func TestSubscribeSkipsOwnWrites(t *testing.T) {
	hub := New()
	a := hub.Context("a")
	b := hub.Context("b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := a.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := a.SetItem(ctx, "k", "own"); err != nil {
		t.Fatalf("set own: %v", err)
	}
	if err := b.SetItem(ctx, "k", "theirs"); err != nil {
		t.Fatalf("set theirs: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Source != "b" || ev.NewRaw != "theirs" || ev.OldRaw != "own" || !ev.OldPresent {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQuotaRejectsWrite(t *testing.T) {
	hub := New(WithQuota(10))
	a := hub.Context("a")
	ctx := context.Background()

	if err := a.SetItem(ctx, "k", "12345"); err != nil {
		t.Fatalf("set within quota: %v", err)
	}
	err := a.SetItem(ctx, "k", "1234567890")
	if !errors.Is(err, backend.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	raw, _ := hub.Get("k")
	if raw != "12345" {
		t.Fatalf("failed write must not change stored value, got %q", raw)
	}
}

func TestDisconnectClosesStream(t *testing.T) {
	hub := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := hub.Context("a").Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	hub.Disconnect()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("stream not closed")
	}
}
