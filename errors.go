package kvsync

import "errors"

var (
	// ErrViewClosed is returned by operations on a closed view.
	ErrViewClosed = errors.New("kvsync: view closed")
	// ErrEmptyKey is returned when a view is bound to the empty key.
	ErrEmptyKey = errors.New("kvsync: empty key")
	// ErrNilSyncer is returned when a view is created without a syncer.
	ErrNilSyncer = errors.New("kvsync: nil syncer")
)
