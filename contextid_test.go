package kvsync

import (
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestPinnedContextIDIsStable(t *testing.T) {
	t.Setenv(ContextEnv, "")
	t.Setenv("HOSTNAME", "MyHost")
	h := &HostContextIDs{Prefix: "cli", Pinned: true}

	first, err := h.ContextID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := h.ContextID()
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if first != "cli-myhost" || second != first {
		t.Fatalf("unexpected ids %q and %q", first, second)
	}
}

func TestContextIDCarriesPidAndTag(t *testing.T) {
	t.Setenv(ContextEnv, "Worker 1")
	a, err := (&HostContextIDs{}).ContextID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := (&HostContextIDs{}).ContextID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := fmt.Sprintf("worker-1-%d-", os.Getpid())
	if !strings.HasPrefix(a, want) || len(a) != len(want)+8 {
		t.Fatalf("expected %q plus an 8 character tag, got %q", want, a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, both %q", a)
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"  Pod_A/b  ":     "pod-a-b",
		"web.internal":    "web.internal",
		"--x--":           "x",
		"Ünïcode Host 42": "n-code-host-42",
		"":                "",
	}
	for in, want := range cases {
		if got := slug(in); got != want {
			t.Fatalf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
