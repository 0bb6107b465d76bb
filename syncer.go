// Package kvsync gives many views bound to the same key a shared, reactive
// view of one persistent key-value entry. Views in one Syncer converge
// synchronously; Syncers sharing a backend converge through the backend's
// change stream.
package kvsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/suyash-sneo/kvsync/backend"
	"github.com/suyash-sneo/kvsync/bridge"
	"github.com/suyash-sneo/kvsync/registry"
	"github.com/suyash-sneo/kvsync/serializer"
	"github.com/suyash-sneo/kvsync/store"
)

// Syncer is one execution context: a backend handle with its cache,
// subscriber registry and bridge.
type Syncer struct {
	cfg      Config
	backend  backend.Backend
	codec    serializer.Serializer
	cache    *store.Cache
	registry *registry.Registry
	bridge   *bridge.Bridge
	logger   Logger
	metrics  Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
	started bool
}

// Option mutates Syncer construction.
type Option func(*Syncer)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Syncer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRegistry uses reg instead of a fresh registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(s *Syncer) {
		s.registry = reg
	}
}

// New builds a Syncer over be. A nil backend yields a detached Syncer whose
// views report their default and ignore writes.
func New(cfg Config, be backend.Backend, opts ...Option) (*Syncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := serializer.ByName(cfg.Serializer)
	if err != nil {
		return nil, err
	}
	s := &Syncer{
		cfg:     cfg,
		backend: be,
		codec:   codec,
		logger:  NopLogger(),
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = registry.New(registry.WithMetrics(s.metrics))
	}
	if be != nil {
		s.cache = store.New(be, store.WithLogger(s.logger), store.WithMetrics(s.metrics))
		s.bridge = bridge.New(be, s.cache, s.registry,
			bridge.WithBackoff(cfg.ReconnectBackoff),
			bridge.WithLogger(s.logger),
			bridge.WithMetrics(s.metrics),
		)
	}
	return s, nil
}

// Start consumes changes from other contexts and blocks until ctx is
// cancelled or Close is called.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("syncer closed")
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("syncer already started")
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	defer close(done)
	defer cancel()

	if s.bridge == nil {
		<-ctx.Done()
		return nil
	}

	s.logger.Info("syncer starting", Field{Key: "context", Value: s.ContextID()})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.bridge.Run(gctx); err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
		return nil
	})
	err := g.Wait()
	s.logger.Info("syncer stopped", Field{Key: "context", Value: s.ContextID()})
	return err
}

// Ready is closed once changes from other contexts are being received.
// For a detached Syncer it is closed immediately.
func (s *Syncer) Ready() <-chan struct{} {
	if s.bridge == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.bridge.Ready()
}

// Close stops Start and closes the backend. It is safe to call more than once.
func (s *Syncer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			return fmt.Errorf("close backend: %w", err)
		}
	}
	return nil
}

// ContextID identifies this execution context. Empty when detached.
func (s *Syncer) ContextID() string {
	if s.backend == nil {
		return ""
	}
	return s.backend.ContextID()
}

// Available reports whether the Syncer has a backend.
func (s *Syncer) Available() bool {
	return s.backend != nil
}

// Cache returns the store cache, nil when detached.
func (s *Syncer) Cache() *store.Cache {
	return s.cache
}

// Registry returns the subscriber registry.
func (s *Syncer) Registry() *registry.Registry {
	return s.registry
}

// Serializer returns the default codec for views.
func (s *Syncer) Serializer() serializer.Serializer {
	return s.codec
}
