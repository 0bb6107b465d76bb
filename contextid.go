package kvsync

import (
	"cmp"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ContextEnv overrides the host part of generated context ids.
const ContextEnv = "KVSYNC_CONTEXT"

// HostContextIDs derives a context id from the machine it runs on:
// [prefix-]host[-pid-tag]. The host part comes from $KVSYNC_CONTEXT, then
// $HOSTNAME, then os.Hostname. The id is computed once and then reused.
type HostContextIDs struct {
	Prefix string
	// Pinned leaves out the pid and random tag so restarts keep the id.
	// Two pinned processes on one host then drop each other's changes.
	Pinned bool

	once sync.Once
	id   string
	err  error
}

var _ ContextIDProvider = (*HostContextIDs)(nil)

// ContextID implements ContextIDProvider.
func (h *HostContextIDs) ContextID() (string, error) {
	h.once.Do(func() { h.id, h.err = h.build() })
	return h.id, h.err
}

func (h *HostContextIDs) build() (string, error) {
	hostname, _ := os.Hostname()
	host := slug(cmp.Or(
		strings.TrimSpace(os.Getenv(ContextEnv)),
		strings.TrimSpace(os.Getenv("HOSTNAME")),
		strings.TrimSpace(hostname),
	))
	if host == "" {
		return "", errors.New("no host name to derive a context id from")
	}

	parts := make([]string, 0, 4)
	if p := slug(h.Prefix); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, host)
	if !h.Pinned {
		parts = append(parts, strconv.Itoa(os.Getpid()), uuid.NewString()[:8])
	}
	return strings.Join(parts, "-"), nil
}

// slug lowercases s and collapses every run of characters other than
// letters, digits and dots into a single dash.
func slug(s string) string {
	var b strings.Builder
	gap := false
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' {
			if gap && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			gap = false
			continue
		}
		gap = true
	}
	return b.String()
}
