// Package backend defines the persistent key-value store that kvsync mirrors.
package backend

import (
	"context"
	"errors"
)

// Backend defines the persistent store behavior for one execution context.
type Backend interface {
	// ContextID identifies the execution context this backend handle writes as.
	ContextID() string

	// Item operations
	GetItem(ctx context.Context, key string) (raw string, ok bool, err error)
	SetItem(ctx context.Context, key string, raw string) error
	RemoveItem(ctx context.Context, key string) error

	// Subscribe streams changes made by other contexts sharing the store.
	// Changes written through this handle are never delivered back to it.
	// The channel is closed when ctx ends or the stream fails.
	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)

	Close() error
}

// ContextIDProvider supplies the id a backend stamps on the changes it publishes.
type ContextIDProvider interface {
	ContextID() (string, error)
}

// ChangeEvent describes a change made by another context.
type ChangeEvent struct {
	Key        string `json:"key"`
	OldRaw     string `json:"old,omitempty"`
	OldPresent bool   `json:"oldPresent"`
	NewRaw     string `json:"new,omitempty"`
	NewPresent bool   `json:"newPresent"`
	Source     string `json:"source"`
}

// Removed reports whether the change deleted the entry.
func (e ChangeEvent) Removed() bool {
	return !e.NewPresent
}

var (
	// ErrQuotaExceeded indicates the store rejected a write for lack of space.
	ErrQuotaExceeded = errors.New("backend quota exceeded")
	// ErrUnavailable indicates the store cannot be reached.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrNotifyFailed indicates the write was committed but other contexts
	// could not be told about it.
	ErrNotifyFailed = errors.New("backend change notification failed")
)
